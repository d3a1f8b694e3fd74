package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"crdtsync/internal/crdt"
)

// PeerSummary is the decoded shape of GET /peers: the capability-profile
// count this node currently tracks (internal/api.Handler.ListPeers).
type PeerSummary struct {
	Count int `json:"count"`
}

// Peers fetches GET /peers and decodes the peer-profile summary. This is
// plain REST, not a session command, since it reports policy state that
// isn't scoped to any one joined topic.
func (c *Client) Peers(ctx context.Context) (PeerSummary, error) {
	var out PeerSummary
	err := c.getJSON(ctx, "/peers", &out)
	return out, err
}

// RegistryKeys fetches GET /registry and returns the server's current key
// set.
func (c *Client) RegistryKeys(ctx context.Context) ([]string, error) {
	var out struct {
		Keys []string `json:"keys"`
	}
	err := c.getJSON(ctx, "/registry", &out)
	return out.Keys, err
}

// RegistryGet fetches GET /registry/:key and decodes it into the same
// crdt.Wire envelope a merge/sync command carries over the WS session,
// so callers get one typed replica shape regardless of which surface
// they read it from.
func (c *Client) RegistryGet(ctx context.Context, key string) (crdt.Wire, error) {
	var wire crdt.Wire
	err := c.getJSON(ctx, "/registry/"+key, &wire)
	return wire, err
}

// getJSON performs a GET against httpBase+path and decodes the JSON body
// into out. Used for the handful of introspection routes that don't fit
// the WS session API: /registry, /registry/:key, /peers.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpBase+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
