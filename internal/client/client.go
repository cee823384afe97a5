// Package client is the HTTP client for the agentdeck daemon API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentdeck/agentdeck/pkg/types"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the configured daemon address.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SpawnSession(ctx context.Context, req types.SpawnRequest) (types.SessionInfo, error) {
	var out types.SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sessions", nil, req, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]types.SessionInfo, error) {
	var out struct {
		Sessions []types.SessionInfo `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) GetSession(ctx context.Context, workspaceID string) (types.SessionInfo, error) {
	var out types.SessionInfo
	path := "/api/v1/sessions/" + url.PathEscape(workspaceID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) KillSession(ctx context.Context, workspaceID string, reap bool) error {
	var q url.Values
	if reap {
		q = url.Values{"reap": []string{"true"}}
	}
	path := "/api/v1/sessions/" + url.PathEscape(workspaceID)
	return c.doJSON(ctx, http.MethodDelete, path, q, nil, nil)
}

func (c *Client) RestartSession(ctx context.Context, workspaceID, model string) (types.SessionInfo, error) {
	var out types.SessionInfo
	path := "/api/v1/sessions/" + url.PathEscape(workspaceID) + "/restart"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, types.RestartRequest{Model: model}, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) SendInput(ctx context.Context, workspaceID, data string) error {
	path := "/api/v1/sessions/" + url.PathEscape(workspaceID) + "/input"
	return c.doJSON(ctx, http.MethodPost, path, nil, types.InputRequest{Data: data}, nil)
}

func (c *Client) ResizeSession(ctx context.Context, workspaceID string, rows, cols uint16) error {
	path := "/api/v1/sessions/" + url.PathEscape(workspaceID) + "/resize"
	return c.doJSON(ctx, http.MethodPost, path, nil, types.ResizeRequest{Rows: rows, Cols: cols}, nil)
}

// StreamURL converts the base URL into the websocket endpoint for a workspace.
func (c *Client) StreamURL(workspaceID string) string {
	u := c.baseURL
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return u + "/api/v1/sessions/" + url.PathEscape(workspaceID) + "/stream"
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
