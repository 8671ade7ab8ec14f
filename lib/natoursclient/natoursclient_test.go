package natoursclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/steinarvk/natours/lib/apierror"
	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/docstore/memstore"
	"github.com/steinarvk/natours/lib/natours"
	"github.com/steinarvk/natours/lib/natoursapi"
	"github.com/steinarvk/natours/lib/server"
)

func TestLoadConfigAndSelectServer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := filepath.Join(dir, "a.yaml")
	second := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(first, []byte(`
servers:
- host: natours.example.com
  aliases: [prod]
`), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	if err := os.WriteFile(second, []byte(`
default_server: local
servers:
- scheme: http
  host: localhost
  port: 3000
  aliases: [local]
`), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	cfg, err := loadConfigFiles(ctx, []string{first, filepath.Join(dir, "missing.yaml"), second})
	if err != nil {
		t.Fatalf("loadConfigFiles error: %v", err)
	}
	if len(cfg.ConfigFiles) != 2 {
		t.Fatalf("got %d config files", len(cfg.ConfigFiles))
	}

	client, err := New(ctx, cfg, "")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if got := client.APIBase(); got != "http://localhost:3000/api/v1" {
		t.Fatalf("default server base = %q", got)
	}

	client, err = New(ctx, cfg, "prod")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if got := client.APIPath("/tours"); got != "https://natours.example.com/api/v1/tours" {
		t.Fatalf("prod path = %q", got)
	}

	if _, err := New(ctx, cfg, "staging"); err == nil {
		t.Fatalf("expected error for unknown server")
	}
	if _, err := New(ctx, &Config{}, ""); err == nil {
		t.Fatalf("expected error without servers")
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	store, err := memstore.New()
	if err != nil {
		t.Fatalf("memstore.New error: %v", err)
	}
	svc := natours.New(store)
	if err := svc.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureIndexes error: %v", err)
	}
	s, err := server.New(server.WithService(svc))
	if err != nil {
		t.Fatalf("server.New error: %v", err)
	}

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("url.Parse error: %v", err)
	}
	host, portString, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("SplitHostPort error: %v", err)
	}
	port, _ := strconv.Atoi(portString)

	return &Client{Scheme: "http", Host: host, Port: port, HTTPClient: ts.Client()}
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	created, err := client.Create(ctx, "users", docstore.Document{"name": "Laura Wilson", "email": "laura@example.com"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	id := created.ID()

	got, err := client.Get(ctx, "users", id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got["email"] != "laura@example.com" || got["role"] != "user" {
		t.Fatalf("unexpected user %v", got)
	}

	list, err := client.List(ctx, "users", natoursapi.QueryRequest{"role": "user", "fields": "name"})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if list.Results != 1 || list.Data[0]["name"] != "Laura Wilson" {
		t.Fatalf("unexpected list %+v", list)
	}

	if err := client.Delete(ctx, "users", id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	_, err = client.Get(ctx, "users", id)
	var apiErr apierror.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatusCode() != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if apiErr.Error() != "No document found with that ID" {
		t.Fatalf("unexpected message %q", apiErr.Error())
	}
}
