package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func introspectionServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count": 3}`))
	})
	mux.HandleFunc("/registry", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"keys": ["c1", "tags1"]}`))
	})
	mux.HandleFunc("/registry/c1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"kind": "g_counter", "payload": {"counts": {"A": 2}}, "version": 2}`))
	})
	mux.HandleFunc("/registry/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "key not found"}`))
	})
	return httptest.NewServer(mux)
}

func TestHTTPClientPeers(t *testing.T) {
	srv := introspectionServer(t)
	defer srv.Close()
	c := NewHTTP(srv.URL)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	summary, err := c.Peers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Count != 3 {
		t.Fatalf("expected count 3, got %+v", summary)
	}
}

func TestHTTPClientRegistryKeys(t *testing.T) {
	srv := introspectionServer(t)
	defer srv.Close()
	c := NewHTTP(srv.URL)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	keys, err := c.RegistryKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "c1" || keys[1] != "tags1" {
		t.Fatalf("unexpected keys: %+v", keys)
	}
}

func TestHTTPClientRegistryGet(t *testing.T) {
	srv := introspectionServer(t)
	defer srv.Close()
	c := NewHTTP(srv.URL)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	wire, err := c.RegistryGet(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if string(wire.Kind) != "g_counter" || wire.Version != 2 {
		t.Fatalf("unexpected wire: %+v", wire)
	}
}

func TestHTTPClientRegistryGetMissing(t *testing.T) {
	srv := introspectionServer(t)
	defer srv.Close()
	c := NewHTTP(srv.URL)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := c.RegistryGet(ctx, "missing"); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}
