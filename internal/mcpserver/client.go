package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

// Config holds the configuration for connecting to the fraud scoring API.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8080"
	APIKey  string        // Optional bearer token for a gateway in front of the API
	Timeout time.Duration // Per-request timeout; 30s when zero
}

// FraudClient is a pure HTTP client for the fraud scoring API.
type FraudClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewFraudClient creates a new client for the fraud scoring API.
func NewFraudClient(cfg Config) *FraudClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FraudClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PatternScore is the response of the single-agent pattern endpoint.
type PatternScore struct {
	Agent     string         `json:"agent"`
	RiskScore float64        `json:"risk_score"`
	Reason    string         `json:"reason"`
	Details   map[string]any `json:"details"`
}

// AuditEntry is one stored analysis as returned by the audit trail endpoint.
type AuditEntry struct {
	ID                string                       `json:"id"`
	TransactionID     string                       `json:"transaction_id"`
	Merchant          string                       `json:"merchant"`
	Amount            float64                      `json:"amount"`
	Decision          fraud.Decision               `json:"decision"`
	Confidence        float64                      `json:"confidence"`
	RiskScore         float64                      `json:"risk_score"`
	FraudRingDetected bool                         `json:"fraud_ring_detected"`
	AgentScores       map[string]*fraud.AgentScore `json:"agent_scores"`
	AnalyzedAt        time.Time                    `json:"analyzed_at"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *FraudClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Analyze runs the full five-agent analysis for a transaction.
func (c *FraudClient) Analyze(ctx context.Context, tx *fraud.TransactionRequest) (*fraud.AnalysisResult, error) {
	raw, err := c.doRequest(ctx, http.MethodPost, "/api/analyze", nil, tx)
	if err != nil {
		return nil, err
	}
	var result fraud.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &result, nil
}

// ScorePattern runs only the pattern agent for a transaction.
func (c *FraudClient) ScorePattern(ctx context.Context, tx *fraud.TransactionRequest) (*PatternScore, error) {
	raw, err := c.doRequest(ctx, http.MethodPost, "/api/pattern", nil, tx)
	if err != nil {
		return nil, err
	}
	var score PatternScore
	if err := json.Unmarshal(raw, &score); err != nil {
		return nil, fmt.Errorf("decode pattern score: %w", err)
	}
	return &score, nil
}

// ListAnalyses returns the audit trail for a user, newest first.
func (c *FraudClient) ListAnalyses(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.doRequest(ctx, http.MethodGet, "/api/analyses/"+url.PathEscape(userID), q, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Analyses []AuditEntry `json:"analyses"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode analyses: %w", err)
	}
	return resp.Analyses, nil
}
