package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// adminClient is a thin REST client for a running switchboard's admin
// API, used by the list and check commands.
type adminClient struct {
	endpoint string
	apikey   string
	http     *http.Client
}

func newAdminClient(endpoint, apikey string) *adminClient {
	return &adminClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apikey:   apikey,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *adminClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	if c.apikey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apikey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
