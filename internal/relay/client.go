package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/julianstephens/habitsync/internal/constants"
)

// Client talks to a relay Server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the relay at baseURL. A nil httpClient
// uses one with constants.SyncRequestTimeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid relay url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.SyncRequestTimeout}
	}
	return &Client{baseURL: u.String(), http: httpClient}, nil
}

func (c *Client) stateURL(account string) string {
	return c.baseURL + constants.RelayStatePath + "/" + url.PathEscape(account)
}

// Get fetches the stored blob, or ErrNotFound.
func (c *Client) Get(ctx context.Context, account string) (Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.stateURL(account), nil)
	if err != nil {
		return Blob{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Blob{}, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeBlob(resp.Body)
	case http.StatusNotFound:
		return Blob{}, ErrNotFound
	default:
		return Blob{}, statusError(resp)
	}
}

// Put stores blob if the relay still holds base. On a lost race it returns a
// *ConflictError with the relay's blob.
func (c *Client) Put(ctx context.Context, account string, blob Blob, base int64) error {
	body, err := json.Marshal(putRequest{
		LastModified:     blob.LastModified,
		BaseLastModified: base,
		State:            blob.State,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.stateURL(account), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		current, err := decodeBlob(resp.Body)
		if err != nil {
			return err
		}
		return &ConflictError{Current: current}
	default:
		return statusError(resp)
	}
}

// Health checks that the relay answers.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func decodeBlob(r io.Reader) (Blob, error) {
	var b Blob
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Blob{}, fmt.Errorf("invalid relay response: %w", err)
	}
	return b, nil
}

func statusError(resp *http.Response) error {
	var e errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("relay returned %d", resp.StatusCode)
}
