package mcpgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
)

const resourceMetadataURL = "https://example-server.modelcontextprotocol.io/.well-known/oauth-protected-resource"

func TestGatewayHandlerConditionalBearerToken(t *testing.T) {
	t.Parallel()

	var verifierCalls atomic.Int32
	gateway, err := NewGateway(&Options{
		Path:   "/mcp",
		Logger: quietLogger(),
		TokenVerifier: func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
			if token != "valid" {
				return nil, auth.ErrInvalidToken
			}
			verifierCalls.Add(1)
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Minute)}, nil
		},
		TokenOptions: &auth.RequireBearerTokenOptions{ResourceMetadataURL: resourceMetadataURL},
	})
	if err != nil {
		t.Fatalf("NewGateway with auth: %v", err)
	}

	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	endpoint := server.URL + "/mcp"
	client := server.Client()

	resp, err := client.Post(endpoint, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	wantHeader := "Bearer resource_metadata=" + resourceMetadataURL
	if got := resp.Header.Get("WWW-Authenticate"); got != wantHeader {
		t.Fatalf("unexpected WWW-Authenticate header: got %q want %q", got, wantHeader)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer valid")
	req.Header.Set("Content-Type", "application/json")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("post with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatalf("expected request with token to reach handler, got 401")
	}
	if got := verifierCalls.Load(); got != 1 {
		t.Fatalf("expected verifier to be called once, got %d", got)
	}
}

func TestGatewayHandlerWithoutAuthLeavesEndpointOpen(t *testing.T) {
	t.Parallel()

	gateway, err := NewGateway(&Options{Path: "/mcp", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewGateway without auth: %v", err)
	}
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)

	resp, err := server.Client().Post(server.URL+"/mcp", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post without auth config: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatalf("unexpected unauthorized response without auth configured")
	}
}

func TestGatewayAuthOptionsRequireVerifier(t *testing.T) {
	t.Parallel()

	_, err := NewGateway(&Options{
		TokenOptions: &auth.RequireBearerTokenOptions{Scopes: []string{"required"}},
	})
	if err == nil {
		t.Fatalf("expected error when TokenOptions provided without TokenVerifier")
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	t.Parallel()

	gateway, err := NewGateway(&Options{
		Logger: quietLogger(),
		TokenVerifier: func(context.Context, string, *http.Request) (*auth.TokenInfo, error) {
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Minute)}, nil
		},
		TokenOptions: &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: resourceMetadataURL,
			Scopes:              []string{"catalog"},
		},
		AuthorizationServer: "https://example-server.modelcontextprotocol.io/",
	})
	if err != nil {
		t.Fatalf("NewGateway with auth: %v", err)
	}
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)

	resp, err := server.Client().Get(server.URL + protectedResourcePath)
	if err != nil {
		t.Fatalf("get metadata endpoint: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metadata status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected Access-Control-Allow-Origin without configured origins: %q", got)
	}
	var metadata struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
		Scopes               []string `json:"scopes_supported"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if metadata.Resource != server.URL+"/mcp" {
		t.Fatalf("resource = %q", metadata.Resource)
	}
	if len(metadata.AuthorizationServers) != 1 || metadata.AuthorizationServers[0] != "https://example-server.modelcontextprotocol.io/" {
		t.Fatalf("authorization servers = %v", metadata.AuthorizationServers)
	}
	if len(metadata.Scopes) != 1 || metadata.Scopes[0] != "catalog" {
		t.Fatalf("scopes = %v", metadata.Scopes)
	}
}
