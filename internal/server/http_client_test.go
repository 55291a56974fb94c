package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/config"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/version"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientDefaults(t *testing.T) {
	client := NewUpstreamClient(nil)
	if client.Timeout != defaultUpstreamTimeout {
		t.Fatalf("expected default timeout 30s, got %s", client.Timeout)
	}
	wrapped, ok := client.Transport.(*userAgentTransport)
	if !ok {
		t.Fatalf("expected *userAgentTransport, got %T", client.Transport)
	}
	if wrapped.next == defaultTransport {
		t.Fatalf("each client should own a cloned transport")
	}
}

func TestUpstreamClientSetsUserAgent(t *testing.T) {
	agents := make(chan string, 2)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
	}))
	defer upstream.Close()

	client := NewUpstreamClient(nil)

	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := <-agents; got != version.UserAgent() {
		t.Fatalf("expected %q, got %q", version.UserAgent(), got)
	}

	req, _ := http.NewRequest(http.MethodGet, upstream.URL, nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := <-agents; got != "custom/1.0" {
		t.Fatalf("explicit User-Agent should be kept, got %q", got)
	}
}
