package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
)

// APIError is a non-2xx response from the drive server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

type Folder struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
}

type File struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	MimeType   string  `json:"mimeType"`
	SizeBytes  int64   `json:"sizeBytes"`
	StorageKey string  `json:"storageKey"`
	FolderID   *string `json:"folderId"`
}

type UploadTicket struct {
	FileID     string    `json:"fileId"`
	StorageKey string    `json:"storageKey"`
	UploadURL  string    `json:"uploadUrl"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type CompleteUpload struct {
	FileID     string  `json:"fileId"`
	Name       string  `json:"name"`
	MimeType   string  `json:"mimeType,omitempty"`
	SizeBytes  int64   `json:"sizeBytes"`
	FolderID   *string `json:"folderId,omitempty"`
	StorageKey string  `json:"storageKey"`
}

type Health struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Version  string `json:"version"`
}

// Client talks to the drive HTTP API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retries    uint64
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets how many times idempotent requests and blob uploads are
// retried on network errors, 429 and 5xx responses.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		retries:    3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	err := c.retry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateFolder(ctx context.Context, name string, parentID *string) (*Folder, error) {
	var out Folder
	body := map[string]any{"name": name, "parentId": parentID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/folders", body, &out); err != nil {
		return nil, errors.Wrapf(err, "create folder %q", name)
	}
	return &out, nil
}

func (c *Client) InitUpload(ctx context.Context, name string, folderID *string) (*UploadTicket, error) {
	var out UploadTicket
	body := map[string]any{"name": name, "folderId": folderID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/files/init", body, &out); err != nil {
		return nil, errors.Wrapf(err, "init upload %q", name)
	}
	return &out, nil
}

func (c *Client) CompleteUpload(ctx context.Context, in CompleteUpload) (*File, error) {
	var out File
	if err := c.doJSON(ctx, http.MethodPost, "/api/files/complete", in, &out); err != nil {
		return nil, errors.Wrapf(err, "complete upload %q", in.Name)
	}
	return &out, nil
}

// PutBlob sends the object bytes to an upload capability URL. open is called
// once per attempt so the body can be replayed. The bearer token is never
// sent to the capability URL.
func (c *Client) PutBlob(ctx context.Context, uploadURL string, size int64, open func() (io.ReadCloser, error)) error {
	attempt := 0
	return c.retry(ctx, func() error {
		attempt++
		body, err := open()
		if err != nil {
			return backoff.Permanent(err)
		}
		defer body.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.ContentLength = size
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		err = checkResponse(resp)
		// Objects are write-once, so a conflict on a retry means an earlier
		// attempt landed and only its response was lost.
		var apiErr *APIError
		if attempt > 1 && errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return nil
		}
		return err
	})
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.retries), ctx)
	return backoff.Retry(func() error {
		err := op()
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{Status: resp.StatusCode, Message: payload.Error}
}
