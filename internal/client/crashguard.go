package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
)

// CrashGuardPath is the backend endpoint serving the current risk snapshot
const CrashGuardPath = "/api/glucose/crash-guard"

// ErrUnexpectedStatus is returned when the backend answers with a non-2xx status
var ErrUnexpectedStatus = errors.New("unexpected status")

// maxBodySize bounds how much of a response body is read
const maxBodySize = 1 << 20

// CrashGuardClient fetches risk snapshots from the dashboard backend
type CrashGuardClient struct {
	baseURL    string
	logger     *zap.Logger
	httpClient *http.Client
}

// NewCrashGuardClient creates a new risk client
func NewCrashGuardClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CrashGuardClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CrashGuardClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.Named("risk-client"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchRiskSnapshot performs one GET against the crash-guard endpoint
func (c *CrashGuardClient) FetchRiskSnapshot(ctx context.Context) (model.RiskSnapshot, error) {
	url := c.baseURL + CrashGuardPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.RiskSnapshot{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching risk snapshot", zap.String("url", url))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.RiskSnapshot{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return model.RiskSnapshot{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.RiskSnapshot{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var snapshot model.RiskSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return model.RiskSnapshot{}, fmt.Errorf("failed to decode risk snapshot: %w", err)
	}
	if !snapshot.RiskLevel.Valid() {
		return model.RiskSnapshot{}, fmt.Errorf("%w: missing risk_level", model.ErrInvalidRiskLevel)
	}

	return snapshot, nil
}
