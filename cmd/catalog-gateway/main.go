// Command catalog-gateway connects to the capability servers listed in a
// servers file and republishes their combined catalog as one Streamable HTTP
// MCP endpoint. The file is watched and re-applied on every change.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	mcpgateway "github.com/vikashloomba/mcp-catalog-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-catalog-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-catalog-go/pkg/serversfile"
)

var version = "dev"

type flags struct {
	servers      string
	addr         string
	path         string
	origins      []string
	logLevel     string
	dialTimeout  time.Duration
	dialAttempts int
	logRPC       bool
	token        string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "catalog-gateway",
		Short: "Serve the merged tools, prompts and resources of many MCP servers",
		Long: `catalog-gateway connects to every server listed in a YAML servers file,
merges their tools, prompts and resources into one catalog and serves it as a
single Streamable HTTP MCP endpoint. Edits to the servers file are applied
without a restart.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, f)
		},
	}
	cmd.Flags().StringVarP(&f.servers, "servers", "s", "servers.yaml", "Path to the servers file")
	cmd.Flags().StringVar(&f.addr, "addr", ":8700", "Listen address")
	cmd.Flags().StringVar(&f.path, "path", "/mcp", "HTTP path of the MCP endpoint")
	cmd.Flags().StringSliceVar(&f.origins, "origin", nil, "Allowed CORS origin (repeatable, \"*\" for any)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	cmd.Flags().DurationVar(&f.dialTimeout, "dial-timeout", 30*time.Second, "Timeout for each connection attempt")
	cmd.Flags().IntVar(&f.dialAttempts, "dial-attempts", 3, "Connection attempts per server")
	cmd.Flags().BoolVar(&f.logRPC, "log-rpc", false, "Log JSON-RPC traffic at debug level")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("CATALOG_GATEWAY_TOKEN"), "Require this bearer token on the MCP endpoint")
	return cmd
}

func run(ctx context.Context, f *flags) error {
	level, err := parseLevel(f.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	sources, err := serversfile.Load(f.servers)
	if err != nil {
		return err
	}

	gwOpts := &mcpgateway.Options{
		Addr:           f.addr,
		Path:           f.path,
		AllowedOrigins: f.origins,
		Logger:         logger,
	}
	if f.token != "" {
		gwOpts.TokenVerifier = staticToken(f.token)
	}
	gateway, err := mcpgateway.NewGateway(gwOpts)
	if err != nil {
		return err
	}

	managerOpts := &mcpmgr.ManagerOptions{
		ClientName:    "catalog-gateway",
		ClientVersion: version,
		DialTimeout:   f.dialTimeout,
		DialAttempts:  f.dialAttempts,
		Registry:      gateway,
		Handlers:      gateway.Handlers(),
		Logger:        logger,
	}
	if f.logRPC {
		managerOpts.RPCLogger = func(e mcpmgr.RPCLogEvent) {
			logger.Debug("rpc", "server", e.ServerKey, "direction", e.Direction, "message", string(e.Message))
		}
	}
	manager := mcpmgr.NewManager(managerOpts)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Close(closeCtx); err != nil {
			logger.Warn("close manager", "error", err)
		}
	}()

	gateway.ServeMux().HandleFunc("/healthz", healthHandler(manager))

	if _, err := manager.SetServers(ctx, sources); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		gateway.Follow(ctx, manager)
		return nil
	})
	g.Go(func() error {
		return serversfile.Watch(ctx, f.servers, logger, func(sources []mcpmgr.Source) {
			if _, err := manager.SetServers(ctx, sources); err != nil {
				logger.Warn("apply servers file", "error", err)
			}
		})
	})
	g.Go(func() error {
		err := gateway.ListenAndServe(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

type serverStatus struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func healthHandler(m *mcpmgr.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servers := m.Servers()
		out := make([]serverStatus, 0, len(servers))
		for _, s := range servers {
			st := serverStatus{Key: s.Key, URL: s.URL, Connected: s.Connected()}
			if err := s.ConnectionError(); err != nil {
				st.Error = err.Error()
			}
			out = append(out, st)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"servers": out})
	}
}

func staticToken(want string) auth.TokenVerifier {
	return func(_ context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
			return nil, auth.ErrInvalidToken
		}
		return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
