package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/kittipat-v/genchat/pkg/domain"
)

// Client talks to the document service that owns reference metadata for
// files in the workspace.
type Client struct {
	hc      *retryablehttp.Client
	baseURL string
}

func NewClient(baseURL string) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.Logger = nil

	return &Client{
		hc:      hc,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *Client) GetMetadata(ctx context.Context, path, name string) (*domain.ReferenceRecord, error) {
	endpoint := fmt.Sprintf("%s/metadata?path=%s&name=%s",
		c.baseURL, url.QueryEscape(path), url.QueryEscape(name))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	return c.send(req)
}

func (c *Client) GenerateMetadata(ctx context.Context, path, name string) (*domain.ReferenceRecord, error) {
	body, err := json.Marshal(map[string]string{"path": path, "name": name})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/metadata", body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.send(req)
}

func (c *Client) send(req *retryablehttp.Request) (*domain.ReferenceRecord, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, string(bodyBytes))
	}

	var record domain.ReferenceRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("decoding metadata record: %w", err)
	}

	return &record, nil
}
