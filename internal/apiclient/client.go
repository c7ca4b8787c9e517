// Package apiclient talks to the remote analysis API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"crawler-dashboard/internal/errs"
	"crawler-dashboard/internal/models"

	"github.com/sirupsen/logrus"
)

const maxResponseBody = 4 << 20 // 4 MB

// Client translates typed calls into HTTP requests against the analysis API.
// Every request carries the stored bearer token; any 401 clears it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	logger     *logrus.Logger

	mu             sync.RWMutex
	onUnauthorized func()
}

func NewClient(baseURL string, httpClient *http.Client, tokens TokenStore, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
	}
}

// OnUnauthorized registers fn to run after a 401 has cleared the token.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token, err := c.tokens.Get()
	if err != nil {
		c.logger.Warnf("Failed to read stored token: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errs.AppError{Kind: errs.Network, Message: "Network Error", Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &errs.AppError{Kind: errs.Network, Status: resp.StatusCode, Message: "Network Error", Cause: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.handleUnauthorized()
		return c.statusError(errs.Unauthorized, resp.StatusCode, data)
	}

	if resp.StatusCode == http.StatusNotFound {
		return c.statusError(errs.NotFound, resp.StatusCode, data)
	}

	if resp.StatusCode >= 400 {
		return c.statusError(errs.HTTP, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}

	return nil
}

func (c *Client) handleUnauthorized() {
	if err := c.tokens.Clear(); err != nil {
		c.logger.Errorf("Failed to clear token after 401: %v", err)
	}

	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()

	if fn != nil {
		fn()
	}
}

func (c *Client) statusError(kind errs.Kind, status int, data []byte) error {
	message := "Request failed with status code " + strconv.Itoa(status)

	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		if eb.Message != "" {
			message = eb.Message
		} else if eb.Error != "" {
			message = eb.Error
		}
	}

	return &errs.AppError{Kind: kind, Status: status, Message: message, Body: string(data)}
}

// GetAuthToken obtains a bearer token and persists it.
func (c *Client) GetAuthToken(ctx context.Context) (models.TokenResponse, error) {
	var token models.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/token", nil, nil, &token); err != nil {
		return models.TokenResponse{}, err
	}

	if err := c.tokens.Set(token.AccessToken); err != nil {
		return token, fmt.Errorf("failed to persist token: %w", err)
	}

	return token, nil
}

// FetchAnalyses requests one page of analyses. Empty filter parameters are omitted.
func (c *Client) FetchAnalyses(ctx context.Context, params models.ListParams) (models.ListResponse, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(params.Page))
	query.Set("limit", strconv.Itoa(params.Limit))
	if params.Search != "" {
		query.Set("search", params.Search)
	}
	if params.SortBy != "" {
		query.Set("sort_by", string(params.SortBy))
	}
	if params.SortOrder != "" {
		query.Set("sort_order", string(params.SortOrder))
	}
	if params.Status != "" {
		query.Set("status", string(params.Status))
	}

	var resp models.ListResponse
	if err := c.do(ctx, http.MethodGet, "/analyses", query, nil, &resp); err != nil {
		return models.ListResponse{}, err
	}

	return resp, nil
}

func (c *Client) FetchSingleAnalysis(ctx context.Context, id string) (models.Analysis, error) {
	var analysis models.Analysis
	if err := c.do(ctx, http.MethodGet, "/analyses/"+url.PathEscape(id), nil, nil, &analysis); err != nil {
		return models.Analysis{}, err
	}

	return analysis, nil
}

func (c *Client) CreateAnalysis(ctx context.Context, rawURL string) (models.Analysis, error) {
	var analysis models.Analysis
	if err := c.do(ctx, http.MethodPost, "/analyses", nil, models.CreateRequest{URL: rawURL}, &analysis); err != nil {
		return models.Analysis{}, err
	}

	return analysis, nil
}

func (c *Client) DeleteAnalyses(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodDelete, "/analyses", nil, models.IDsRequest{IDs: ids}, nil)
}

func (c *Client) StopAnalyses(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPost, "/analyses/stop", nil, models.IDsRequest{IDs: ids}, nil)
}

func (c *Client) ReRunAnalyses(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPost, "/analyses/rerun", nil, models.IDsRequest{IDs: ids}, nil)
}
