package relay

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 30 * time.Second
)

// Client talks to the confidant server.
type Client struct {
	http      *http.Client
	serverURL string
	token     string
}

// NewClient creates a relay HTTP client.
// Respects CONFIDANT_URL and CONFIDANT_TOKEN, falls back to http://127.0.0.1:37778.
func NewClient() *Client {
	url := os.Getenv("CONFIDANT_URL")
	if url == "" {
		url = defaultServerURL
	}
	return NewClientFor(url, os.Getenv("CONFIDANT_TOKEN"))
}

// NewClientFor creates a client for an explicit server URL and bearer token.
func NewClientFor(url, token string) *Client {
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: url,
		token:     token,
	}
}

// Post sends a POST request with JSON body. Returns response body.
func (c *Client) Post(path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Get sends a GET request. Returns response body.
func (c *Client) Get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data)
	}
	return data, nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
