// Package adminapi talks to Traefik's admin/API entry point, grounded
// on the teacher's internal/container.HealthChecker.checkHTTPEndpoint
// (context-bound http.Client, timing the round trip) generalized from
// probing an MCP container's health endpoint to querying Traefik's
// own introspection API.
package adminapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jupyterhub/traefik-routing-controller/internal/config"
)

// RouterInfo is the subset of Traefik's GET /api/http/routers response
// this controller inspects to decide whether a route has converged.
type RouterInfo struct {
	Name     string `json:"name"`
	Rule     string `json:"rule"`
	Service  string `json:"service"`
	Status   string `json:"status"`
	Provider string `json:"provider"`
}

// VersionInfo is Traefik's GET /api/version response.
type VersionInfo struct {
	Version   string `json:"Version"`
	Codename  string `json:"Codename"`
	StartDate string `json:"StartDate"`
}

// Client is a Basic-Auth HTTP client bound to Traefik's admin entry
// point.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// New constructs a Client from the controller configuration.
func New(cfg *config.Config) *Client {
	return &Client{
		baseURL:  cfg.Traefik.APIURL,
		username: cfg.Traefik.APIUsername,
		password: cfg.Traefik.APIPassword,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.Traefik.APIValidateCert},
			},
		},
	}
}

func (c *Client) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("adminapi: build request: %w", err)
	}
	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("adminapi: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("adminapi: %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("adminapi: decode %s response: %w", path, err)
	}
	return nil
}

// Routers fetches the current HTTP router table.
func (c *Client) Routers(ctx context.Context) ([]RouterInfo, error) {
	var routers []RouterInfo
	if err := c.do(ctx, "/api/http/routers", &routers); err != nil {
		return nil, err
	}
	return routers, nil
}

// Version fetches Traefik's version info. The Waiter does not consult
// it: v2 and v3 report router status with the same values.
func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	err := c.do(ctx, "/api/version", &v)
	return v, err
}

// Ping reports whether Traefik's admin entry point is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "/ping", nil)
}
