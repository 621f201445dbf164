package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vistoria/fieldsync/internal/models"
	"github.com/vistoria/fieldsync/internal/observability"
)

// Client talks to the vistoria backend. Ordinary calls use a medium
// timeout; the bulk submission carries many records' worth of data and
// gets a longer one. Timeout aborts surface as ordinary network errors.
type Client struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	deviceID     string
	httpClient   *http.Client
	bulkClient   *http.Client
}

// ClientConfig configures a backend client
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	DeviceID     string
	Timeout      time.Duration
	BulkTimeout  time.Duration
}

// NewClient creates a backend client
func NewClient(cfg ClientConfig) *Client {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BulkTimeout <= 0 {
		cfg.BulkTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		deviceID:     cfg.DeviceID,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		bulkClient:   &http.Client{Timeout: cfg.BulkTimeout},
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set(c.apiKeyHeader, c.apiKey)
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
}

// Health fetches the backend health endpoint. Healthy means a 2xx reply
// whose payload status reads "ok"; anything else, including transport
// failures, is unhealthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return false, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil
	}

	var health models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, nil
	}
	return health.Status == "ok", nil
}

// SubmitPending submits all processed records in one call and returns the
// server's per-item acknowledgements
func (c *Client) SubmitPending(ctx context.Context, req models.BulkSyncRequest) (*models.BulkSyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal bulk request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/inspections/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	start := time.Now()
	resp, err := c.bulkClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bulk submission: %w", err)
	}
	defer resp.Body.Close()

	observability.WithFields(map[string]interface{}{
		"records":     len(req.PendingInspections),
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("bulk submission completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bulk submission: server returned %d", resp.StatusCode)
	}

	var result models.BulkSyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	return &result, nil
}
