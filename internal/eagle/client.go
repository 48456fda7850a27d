// Package eagle is a client for the Eagle asset manager's local HTTP API.
package eagle

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

	"go.uber.org/zap"
)

// DefaultBaseURL is where a local Eagle instance listens.
const DefaultBaseURL = "http://localhost:41595"

// Folder is an Eagle folder and its subfolders.
type Folder struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Children []Folder `json:"children,omitempty"`
}

// Item is an image to import by URL.
type Item struct {
	URL        string   `json:"url"`
	Name       string   `json:"name"`
	Annotation string   `json:"annotation,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Error is a response whose status was not "success".
type Error struct {
	Operation  string
	StatusCode int
	Status     string
	Message    string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Status
	}
	return fmt.Sprintf("eagle %s: http %d: %s", e.Operation, e.StatusCode, msg)
}

// Client talks to one Eagle instance.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithToken sets the API token, sent as the "token" query parameter.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *Client) endpoint(p string) string {
	u := c.baseURL + p
	if c.token != "" {
		u += "?token=" + url.QueryEscape(c.token)
	}
	return u
}

// do sends a request and decodes the envelope's data into dst.
func (c *Client) do(ctx context.Context, method, path, operation string, body any, dst any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("eagle %s: encode request: %w", operation, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), r)
	if err != nil {
		return fmt.Errorf("eagle %s: create request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("eagle request", zap.String("operation", operation), zap.String("method", method), zap.String("path", path))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("eagle %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("eagle %s: read response: %w", operation, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || resp.StatusCode >= 300 || env.Status != "success" {
		msg := env.Message
		if msg == "" && err != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return &Error{Operation: operation, StatusCode: resp.StatusCode, Status: env.Status, Message: msg}
	}
	if dst != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return fmt.Errorf("eagle %s: decode data: %w", operation, err)
		}
	}
	return nil
}

// ListFolders returns the folder tree.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	if err := c.do(ctx, http.MethodGet, "/api/folder/list", "list folders", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// CreateFolder creates a top-level folder and returns it.
func (c *Client) CreateFolder(ctx context.Context, name string) (*Folder, error) {
	var f Folder
	body := map[string]string{"folderName": name}
	if err := c.do(ctx, http.MethodPost, "/api/folder/create", "create folder", body, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// FindOrCreateFolder returns the id of the first folder named name,
// searching the whole tree, creating it at the top level if absent. An
// empty name means no folder and yields "".
func (c *Client) FindOrCreateFolder(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	folders, err := c.ListFolders(ctx)
	if err != nil {
		return "", err
	}
	if f, ok := FindFolder(folders, name); ok {
		return f.ID, nil
	}
	f, err := c.CreateFolder(ctx, name)
	if err != nil {
		return "", err
	}
	c.logger.Info("created eagle folder", zap.String("name", name), zap.String("id", f.ID))
	return f.ID, nil
}

// FindFolder searches folders depth-first by name.
func FindFolder(folders []Folder, name string) (Folder, bool) {
	for _, f := range folders {
		if f.Name == name {
			return f, true
		}
		if sub, ok := FindFolder(f.Children, name); ok {
			return sub, true
		}
	}
	return Folder{}, false
}

// AddItemFromURL imports an image Eagle will download from item.URL.
// An empty folderID imports into the library root.
func (c *Client) AddItemFromURL(ctx context.Context, item Item, folderID string) error {
	body := struct {
		Item
		FolderID string `json:"folderId,omitempty"`
	}{item, folderID}
	return c.do(ctx, http.MethodPost, "/api/item/addFromURL", "add item", body, nil)
}
