package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatdesk/internal/config"
	"chatdesk/pkg/types"
)

// maxBodyBytes caps collaborator responses; the directory and one
// conversation are expected to be small.
const maxBodyBytes = 8 << 20

// Client consumes the gateway's REST collaborators.
// ARCHITECTURAL DISCOVERY: pure HTTP + JSON, no view or session logic, so it
// satisfies both interfaces.Directory and interfaces.History
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a collaborator client for cfg.BaseURL.
func NewClient(cfg *config.APIConfig, log *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid API base URL %q", cfg.BaseURL)
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}, nil
}

// ListUsers fetches GET /users in the order the server returns it.
func (c *Client) ListUsers(ctx context.Context) ([]types.UserRecord, error) {
	var users []types.UserRecord
	if err := c.getJSON(ctx, "/users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Conversation fetches GET /messages/{self}/{counterpart}.
func (c *Client) Conversation(ctx context.Context, selfID, counterpartID string) ([]types.ChatMessage, error) {
	path := "/messages/" + url.PathEscape(selfID) + "/" + url.PathEscape(counterpartID)

	var messages []types.ChatMessage
	if err := c.getJSON(ctx, path, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// getJSON performs a GET and decodes the body into out. Every failure
// wraps types.ErrFetchFailed.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	endpoint := c.baseURL.String() + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrapf(types.ErrFetchFailed, "build request %s: %v", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(types.ErrFetchFailed, "GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return errors.Wrapf(types.ErrFetchFailed, "GET %s: %v %d", path, ErrUnexpectedStatus, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return errors.Wrapf(types.ErrFetchFailed, "GET %s: %v: %v", path, ErrInvalidBody, err)
	}

	c.log.Debug("collaborator request completed", zap.String("path", path))
	return nil
}
