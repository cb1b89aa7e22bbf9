package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewFraudClient(Config{APIURL: ts.URL})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func txArgs() map[string]any {
	return map[string]any{
		"user_id":            "user_1",
		"amount":             45.5,
		"merchant":           "Amazon",
		"merchant_category":  "retail",
		"city":               "New York",
		"country":            "US",
		"lat":                40.7128,
		"lon":                -74.006,
		"payment_method":     "card",
		"device_fingerprint": "device_1",
	}
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewFraudClient(Config{APIURL: ts.URL, APIKey: "sk_secret123"})
	_, err := client.Analyze(context.Background(), &fraud.TransactionRequest{UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth = "unset"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewFraudClient(Config{APIURL: ts.URL})
	_, err := client.ScorePattern(context.Background(), &fraud.TransactionRequest{UserID: "u"})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "analysis_failed",
			"message": "analysis failed: merchant agent: db down",
		})
	}))
	defer ts.Close()

	client := NewFraudClient(Config{APIURL: ts.URL})
	_, err := client.Analyze(context.Background(), &fraud.TransactionRequest{UserID: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "merchant agent: db down")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewFraudClient(Config{APIURL: ts.URL})
	_, err := client.ListAnalyses(context.Background(), "u", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_Analyze_SendsTransaction(t *testing.T) {
	var got fraud.TransactionRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"transaction_id":"tx_1","decision":"APPROVE","confidence":0.85}`))
	}))
	defer ts.Close()

	client := NewFraudClient(Config{APIURL: ts.URL})
	res, err := client.Analyze(context.Background(), &fraud.TransactionRequest{
		UserID:   "user_1",
		Amount:   12.5,
		Merchant: "Amazon",
		Location: fraud.Location{City: "Boston", Lat: 42.36, Lon: -71.06},
	})
	require.NoError(t, err)
	assert.Equal(t, fraud.DecisionApprove, res.Decision)
	assert.Equal(t, "tx_1", res.TransactionID)
	assert.Equal(t, "user_1", got.UserID)
	assert.Equal(t, 12.5, got.Amount)
	assert.Equal(t, "Boston", got.Location.City)
}

func TestClient_ListAnalyses_Query(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyses/user 1", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"analyses":[{"id":"an_1","decision":"BLOCK"}],"count":1}`))
	}))
	defer ts.Close()

	client := NewFraudClient(Config{APIURL: ts.URL})
	entries, err := client.ListAnalyses(context.Background(), "user 1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fraud.DecisionBlock, entries[0].Decision)
}

func TestClient_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer ts.Close()

	client := NewFraudClient(Config{APIURL: ts.URL})
	_, err := client.Analyze(context.Background(), &fraud.TransactionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode analysis")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleAnalyzeTransaction(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tx fraud.TransactionRequest
		_ = json.NewDecoder(r.Body).Decode(&tx)
		assert.Equal(t, "device_1", tx.DeviceFingerprint)
		assert.Equal(t, -74.006, tx.Location.Lon)
		_ = json.NewEncoder(w).Encode(fraud.AnalysisResult{
			TransactionID:     "tx_abc",
			Decision:          fraud.DecisionBlock,
			Confidence:        0.95,
			RiskScore:         0.31,
			LatencyMs:         42,
			AgentScores:       fraud.AgentScores{Pattern: 0.2, Anomaly: 0.1, Geographic: 0, Merchant: 0.3},
			FraudRingDetected: true,
			Reasoning:         "Pattern: ok | Anomaly: ok | Geographic: ok | Merchant: ok | Network: FRAUD RING DETECTED",
		})
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(txArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Decision: BLOCK (confidence 95%)")
	assert.Contains(t, text, "tx_abc")
	assert.Contains(t, text, "Risk Score: 0.310")
	assert.Contains(t, text, "FRAUD RING DETECTED")
	assert.Contains(t, text, "Merchant:   0.30")
	assert.Contains(t, text, "  Network: FRAUD RING DETECTED\n")
	assert.Contains(t, text, "Latency: 42ms")
}

func TestHandleAnalyzeTransaction_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API must not be called")
	}))
	defer cleanup()

	tests := []struct {
		name   string
		drop   string
		expect string
	}{
		{"user", "user_id", "user_id is required"},
		{"merchant", "merchant", "merchant is required"},
		{"amount", "amount", "amount is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := txArgs()
			delete(args, tt.drop)
			result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.expect)
		})
	}
}

func TestHandleAnalyzeTransaction_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"analysis_failed","message":"analysis failed: pattern agent: embedding unavailable"}`))
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(txArgs()))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Analysis failed")
	assert.Contains(t, resultText(t, result), "pattern agent")
}

func TestHandleScorePattern(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pattern", r.URL.Path)
		_, _ = w.Write([]byte(`{"agent":"Pattern","risk_score":0.45,"reason":"New merchant category for user","details":{"baseline":"category","fraud_neighbors":3}}`))
	}))
	defer cleanup()

	result, err := h.HandleScorePattern(context.Background(), makeRequest(txArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Pattern Risk Score: 0.45")
	assert.Contains(t, text, "New merchant category for user")
	assert.Contains(t, text, "  baseline: category\n  fraud_neighbors: 3\n")
}

func TestHandleListAnalyses(t *testing.T) {
	var gotLimit string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"analyses":[
			{"id":"an_2","merchant":"Amazon","amount":900,"decision":"BLOCK","risk_score":0.5,"fraud_ring_detected":true,
			 "agent_scores":{"network":{"agent":"network","risk_score":1,"reason":"FRAUD RING DETECTED: device used by 5 other users"}},
			 "analyzed_at":"2026-04-10T14:00:00Z"},
			{"id":"an_1","merchant":"Target","amount":20,"decision":"APPROVE","risk_score":0.05,"analyzed_at":"2026-04-10T13:00:00Z"}
		],"count":2}`))
	}))
	defer cleanup()

	result, err := h.HandleListAnalyses(context.Background(), makeRequest(map[string]any{"user_id": "user_1", "limit": 500.0}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "100", gotLimit)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 analysis(es) for user_1")
	assert.Contains(t, text, "1. 2026-04-10 14:00:00 BLOCK: 900.00 at Amazon")
	assert.Contains(t, text, "fraud ring detected")
	assert.Contains(t, text, "network: FRAUD RING DETECTED: device used by 5 other users")
	assert.Contains(t, text, "2. 2026-04-10 13:00:00 APPROVE: 20.00 at Target")
}

func TestHandleListAnalyses_Empty(t *testing.T) {
	var gotLimit string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"analyses":[],"count":0}`))
	}))
	defer cleanup()

	result, err := h.HandleListAnalyses(context.Background(), makeRequest(map[string]any{"user_id": "nobody"}))
	require.NoError(t, err)
	assert.Equal(t, "10", gotLimit)
	assert.Equal(t, "No analyses found for nobody.", resultText(t, result))
}

func TestHandleListAnalyses_MissingUser(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleListAnalyses(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "user_id is required")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"})
	require.NotNil(t, s)
}

func TestHandlers_NeverReturnGoError(t *testing.T) {
	// Failures are reported through result.IsError.
	h := NewHandlers(NewFraudClient(Config{APIURL: "http://127.0.0.1:1"}))
	ctx := context.Background()

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"analyze_transaction": h.HandleAnalyzeTransaction,
		"score_pattern":       h.HandleScorePattern,
		"list_analyses":       h.HandleListAnalyses,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			result, err := fn(ctx, makeRequest(txArgs()))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}
