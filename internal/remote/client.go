package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storesync/internal/models"
)

// Client talks to the hosted store's REST interface. The only write
// primitive it needs is an idempotent upsert keyed by caller-specified
// conflict columns.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a client with baseURL and API key.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Duration(models.DefaultRemoteTimeoutSeconds) * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upsert writes records into a collection, resolving conflicts on the given
// columns by merging. The server applies all records of one call atomically.
func (c *Client) Upsert(ctx context.Context, collection string, records []models.Record, conflictColumns []string) error {
	if len(records) == 0 {
		return nil
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=%s",
		c.baseURL,
		url.PathEscape(collection),
		url.QueryEscape(strings.Join(conflictColumns, ",")),
	)

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates")
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &Error{
			Status:     resp.StatusCode,
			Collection: collection,
			Message:    readErrorBody(resp.Body),
		}
	}
	return nil
}

// Health probes the remote store. A nil error means reachable.
func (c *Client) Health(ctx context.Context) error {
	endpoint := c.baseURL + "/rest/v1/"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &Error{Status: resp.StatusCode, Collection: "health", Message: "remote unavailable"}
	}
	return nil
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}
