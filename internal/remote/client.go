// Package remote provides the HTTP client for the remote authoritative
// store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// Config holds remote API connection configuration.
type Config struct {
	BaseURL   string
	AuthToken string
	DeviceID  string
	Timeout   time.Duration
}

// Client talks JSON to the remote entity API. It classifies failures so
// callers can tell transient outages (retryable) from upstream
// rejections (terminal).
type Client struct {
	config     *Config
	httpClient *http.Client
}

// entityDocument is the wire shape for one entity version.
type entityDocument struct {
	Table     string                 `json:"table"`
	EntityID  string                 `json:"entityId"`
	Fields    map[string]interface{} `json:"fields"`
	UpdatedAt int64                  `json:"updatedAt,omitempty"`
}

// NewClient creates a Client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// FetchEntity retrieves the current remote version of an entity.
// Returns (nil, nil) when the entity does not exist remotely.
func (c *Client) FetchEntity(ctx context.Context, ref models.EntityRef) (*models.Snapshot, error) {
	req, err := c.createRequest(ctx, http.MethodGet, c.entityPath(ref), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientRemote, "fetch request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := classifyStatus(resp, "fetch"); err != nil {
		return nil, err
	}

	var doc entityDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientRemote, "fetch response malformed", err)
	}

	return &models.Snapshot{Ref: ref, Fields: doc.Fields}, nil
}

// PushEntity writes an entity version to the remote store and returns
// the stored version as acknowledged by the server.
func (c *Client) PushEntity(ctx context.Context, ref models.EntityRef, fields map[string]interface{}) (*models.Snapshot, error) {
	body, err := json.Marshal(entityDocument{
		Table:    ref.Table,
		EntityID: ref.EntityID,
		Fields:   fields,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "entity payload not serializable", err)
	}

	req, err := c.createRequest(ctx, http.MethodPut, c.entityPath(ref), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientRemote, "push request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, "push"); err != nil {
		return nil, err
	}

	var doc entityDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		// Server accepted the write but returned no usable body; the
		// pushed fields are the stored version.
		return &models.Snapshot{Ref: ref, Fields: fields}, nil
	}
	return &models.Snapshot{Ref: ref, Fields: doc.Fields}, nil
}

// DeleteEntity removes an entity from the remote store. Deleting an
// entity that is already gone succeeds.
func (c *Client) DeleteEntity(ctx context.Context, ref models.EntityRef) error {
	req, err := c.createRequest(ctx, http.MethodDelete, c.entityPath(ref), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransientRemote, "delete request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return classifyStatus(resp, "delete")
}

// createRequest builds an authenticated request against the API base.
func (c *Client) createRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := url.JoinPath(c.config.BaseURL, path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "bad remote URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "building remote request failed", err)
	}

	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}
	if c.config.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.config.DeviceID)
	}
	return req, nil
}

func (c *Client) entityPath(ref models.EntityRef) string {
	return fmt.Sprintf("entities/%s/%s", url.PathEscape(ref.Table), url.PathEscape(ref.EntityID))
}

// classifyStatus maps an HTTP status to the error taxonomy: server-side
// and throttling failures are transient and eligible for queue retry,
// other client errors are terminal rejections of the input.
func classifyStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("%s failed with status %d: %s", op, resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return apperrors.New(apperrors.ErrTransientRemote, msg)
	default:
		return apperrors.New(apperrors.ErrValidation, msg)
	}
}
