package main

import (
	"context"
	"fmt"
	"time"

	"github.com/vikashloomba/mcp-catalog-go/pkg/mcpmgr"
)

func main() {
	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		ClientName:  "manager-example",
		DialTimeout: 10 * time.Second,
	})
	defer manager.Close(context.Background())

	ctx := context.Background()
	pass, err := manager.SetServers(ctx, []mcpmgr.Source{
		mcpmgr.URLOnly("https://gitmcp.io/modelcontextprotocol/go-sdk"),
		mcpmgr.FullDescriptor(mcpmgr.ServerDescriptor{
			URL:         "https://example.com/mcp",
			ExplicitKey: "example",
			DisplayName: "Example",
		}),
	})
	if err != nil {
		fmt.Printf("set servers: %v\n", err)
		return
	}
	pass.Wait()

	for _, server := range manager.Servers() {
		status := "connected"
		if err := server.ConnectionError(); err != nil {
			status = "failed: " + err.Error()
		}
		fmt.Printf("Configured server: %s (%s)\n", server.Key, server.URL)
		fmt.Printf("Status: %s\n", status)
	}

	if reg, ok := manager.Registry().(*mcpmgr.MemoryRegistry); ok {
		for _, name := range reg.Names() {
			fmt.Printf("Tool: %s\n", name)
		}
	}

	prompts, err := manager.Prompts(ctx, "")
	if err != nil {
		fmt.Printf("list prompts: %v\n", err)
		return
	}
	for _, p := range prompts {
		fmt.Printf("Prompt: %s\n", p.Name)
	}
}
