// Package tracker provides the issue-reporting collaborator: a
// lightweight REST client for an issue-tracker API and the reporter that
// submits test failures to it.
//
// Auth: token from the TRACKER_TOKEN env var (a leading "Bearer " prefix
// is tolerated and stripped).
package tracker

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client is a lightweight issue-tracker REST client.
// Forces HTTP/1.1 since some tracker deployments reject HTTP/2.
type Client struct {
	BaseURL    string
	Project    string
	HTTPClient *http.Client
}

// NewClient creates a tracker client for one project.
func NewClient(baseURL, project string) *Client {
	transport := &http.Transport{
		TLSNextProto: make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Project:    project,
		HTTPClient: &http.Client{Timeout: 30 * time.Second, Transport: transport},
	}
}

// issueRequest is the issue creation request body.
type issueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// issueResponse is the issue creation response body.
type issueResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Ping verifies connectivity and credentials.
func (c *Client) Ping() error {
	if _, err := c.do(http.MethodGet, "/api/v1/ping", nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// CreateIssue files one issue and returns its id and URL.
func (c *Client) CreateIssue(title, body string, labels []string) (string, string, error) {
	payload, err := json.Marshal(issueRequest{Title: title, Body: body, Labels: labels})
	if err != nil {
		return "", "", fmt.Errorf("marshal issue: %w", err)
	}

	path := fmt.Sprintf("/api/v1/projects/%s/issues", c.Project)
	respBody, err := c.do(http.MethodPost, path, payload)
	if err != nil {
		return "", "", fmt.Errorf("create issue: %w", err)
	}

	var resp issueResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", "", fmt.Errorf("create issue: parse response: %w", err)
	}
	if resp.ID == "" {
		return "", "", fmt.Errorf("create issue: empty id in response: %s", truncate(respBody, 300))
	}
	return resp.ID, resp.URL, nil
}

// do performs an authenticated request against the tracker API.
func (c *Client) do(method, path string, payload []byte) ([]byte, error) {
	token := envToken()
	if token == "" {
		return nil, fmt.Errorf("auth: TRACKER_TOKEN is not set")
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 300))
	}
	return body, nil
}

func envToken() string {
	t := strings.TrimSpace(os.Getenv("TRACKER_TOKEN"))
	t = strings.TrimPrefix(t, "Bearer ")
	t = strings.TrimPrefix(t, "bearer ")
	return t
}

func truncate(b []byte, max int) string {
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
