package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/source"
	"go.uber.org/zap"
)

func init() {
	source.MustRegister("rest", New)
}

// Client fetches JSON records over HTTP. Paths may contain {id} and {since}
// placeholders.
type Client struct {
	*source.BaseSource

	baseURL     string
	listPath    string
	itemPath    string
	changedPath string
	deletedPath string
	itemsField  string
	idField     string
	sinceLayout string
	headers     map[string]string

	retries      int
	retryInitial time.Duration
	retryMax     time.Duration

	httpClient *http.Client
}

func New(name string, config map[string]any, logger *zap.Logger) (source.Client, error) {
	c := &Client{BaseSource: source.NewBaseSource(name, logger)}
	c.SetConfig(config)

	base, err := c.GetStringConfig("baseURL")
	if err != nil {
		return nil, err
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	c.baseURL = strings.TrimSuffix(base, "/")

	c.listPath = c.GetStringConfigOr("listPath", "/")
	c.itemPath = c.GetStringConfigOr("itemPath", "/{id}")
	c.changedPath = c.GetStringConfigOr("changedPath", "")
	c.deletedPath = c.GetStringConfigOr("deletedPath", "")
	c.itemsField = c.GetStringConfigOr("itemsField", "")
	c.idField = c.GetStringConfigOr("idField", "id")
	c.sinceLayout = c.GetStringConfigOr("sinceLayout", time.RFC3339)
	c.headers = c.GetStringMapConfig("headers")

	timeout, err := c.GetDurationConfig("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	c.retries = c.GetIntConfig("retries", 3)
	if c.retryInitial, err = c.GetDurationConfig("retryInitial", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if c.retryMax, err = c.GetDurationConfig("retryMax", 5*time.Second); err != nil {
		return nil, err
	}

	c.httpClient = newHTTPClient(timeout)
	return c, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

func (c *Client) FetchAll(ctx context.Context, filter source.Filter) ([]source.RawPayload, error) {
	reqURL := c.buildURL(c.listPath, nil, filter.Params)

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	items, err := c.items(body)
	if err != nil {
		return nil, err
	}

	payloads := make([]source.RawPayload, 0, len(items))
	for i, item := range items {
		id, err := c.extractID(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		payloads = append(payloads, source.RawPayload{
			ID:     id,
			URL:    c.buildURL(c.itemPath, map[string]string{"id": id}, nil),
			Format: "json",
			Data:   item,
		})
	}

	c.Logger().Debug("Fetched records", zap.Int("count", len(payloads)))
	return payloads, nil
}

func (c *Client) FetchOne(ctx context.Context, id string) (source.RawPayload, error) {
	reqURL := c.buildURL(c.itemPath, map[string]string{"id": id}, nil)

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return source.RawPayload{}, fmt.Errorf("failed to fetch record %s: %w", id, err)
	}

	return source.RawPayload{ID: id, URL: reqURL, Format: "json", Data: body}, nil
}

func (c *Client) FetchChangedSince(ctx context.Context, t time.Time) ([]string, error) {
	if c.changedPath == "" {
		return nil, fmt.Errorf("source %s: %w", c.Name(), source.ErrIncrementalUnsupported)
	}
	return c.fetchIDs(ctx, c.changedPath, t)
}

func (c *Client) FetchDeletedSince(ctx context.Context, t time.Time) ([]string, error) {
	if c.deletedPath == "" {
		return nil, nil
	}
	return c.fetchIDs(ctx, c.deletedPath, t)
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) fetchIDs(ctx context.Context, path string, t time.Time) ([]string, error) {
	reqURL := c.buildURL(path, map[string]string{"since": t.UTC().Format(c.sinceLayout)}, nil)

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}

	items, err := c.items(body)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			ids = append(ids, s)
			continue
		}
		id, err := c.extractID(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	var body []byte
	err := source.Retry(ctx, c.retries, c.retryInitial, c.retryMax, func() error {
		var err error
		body, err = c.doRequest(ctx, reqURL)
		return err
	})
	return body, err
}

func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &source.StatusError{
			StatusCode: resp.StatusCode,
			URL:        reqURL,
			Body:       string(bytes.TrimSpace(truncate(body, 256))),
		}
	}
	return body, nil
}

func (c *Client) items(body []byte) ([]json.RawMessage, error) {
	if c.itemsField == "" {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		return items, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	raw, ok := envelope[c.itemsField]
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", c.itemsField, err)
	}
	return items, nil
}

func (c *Client) extractID(item json.RawMessage) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(item, &fields); err != nil {
		return "", fmt.Errorf("decoding record: %w", err)
	}
	switch v := fields[c.idField].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", fmt.Errorf("record has no %s field", c.idField)
}

func (c *Client) buildURL(path string, vars map[string]string, params map[string]string) string {
	for k, v := range vars {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	reqURL := c.baseURL + path

	if len(params) == 0 {
		return reqURL
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	sep := "?"
	if strings.Contains(reqURL, "?") {
		sep = "&"
	}
	return reqURL + sep + q.Encode()
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
