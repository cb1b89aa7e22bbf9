package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *FraudClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *FraudClient) *Handlers {
	return &Handlers{client: client}
}

// transactionFromRequest builds a transaction from tool arguments. It
// reports an error message when a required argument is missing.
func transactionFromRequest(req mcp.CallToolRequest) (*fraud.TransactionRequest, string) {
	tx := &fraud.TransactionRequest{
		UserID:           req.GetString("user_id", ""),
		Amount:           req.GetFloat("amount", -1),
		Merchant:         req.GetString("merchant", ""),
		MerchantCategory: req.GetString("merchant_category", ""),
		Location: fraud.Location{
			City:    req.GetString("city", ""),
			Country: req.GetString("country", ""),
			Lat:     req.GetFloat("lat", 0),
			Lon:     req.GetFloat("lon", 0),
		},
		PaymentMethod:     req.GetString("payment_method", ""),
		DeviceFingerprint: req.GetString("device_fingerprint", ""),
	}
	switch {
	case tx.UserID == "":
		return nil, "user_id is required"
	case tx.Merchant == "":
		return nil, "merchant is required"
	case tx.Amount < 0:
		return nil, "amount is required and must not be negative"
	}
	return tx, ""
}

// HandleAnalyzeTransaction runs the full analysis.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx, msg := transactionFromRequest(req)
	if tx == nil {
		return mcp.NewToolResultError(msg), nil
	}

	result, err := h.client.Analyze(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Analysis failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAnalysis(tx, result)), nil
}

// HandleScorePattern runs the pattern agent alone.
func (h *Handlers) HandleScorePattern(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx, msg := transactionFromRequest(req)
	if tx == nil {
		return mcp.NewToolResultError(msg), nil
	}

	score, err := h.client.ScorePattern(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Pattern scoring failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatPatternScore(score)), nil
}

// HandleListAnalyses lists stored decisions for a user.
func (h *Handlers) HandleListAnalyses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	limit := req.GetInt("limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	entries, err := h.client.ListAnalyses(ctx, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list analyses: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAnalysisList(userID, entries)), nil
}

func formatAnalysis(tx *fraud.TransactionRequest, r *fraud.AnalysisResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Decision: %s (confidence %.0f%%)\n", r.Decision, r.Confidence*100))
	sb.WriteString(fmt.Sprintf("Transaction: %s, %.2f at %s for %s\n", r.TransactionID, tx.Amount, tx.Merchant, tx.UserID))
	sb.WriteString(fmt.Sprintf("Risk Score: %.3f\n", r.RiskScore))
	if r.FraudRingDetected {
		sb.WriteString("FRAUD RING DETECTED: device shared across multiple users\n")
	}
	sb.WriteString("\nAgent Scores:\n")
	sb.WriteString(fmt.Sprintf("  Pattern:    %.2f\n", r.AgentScores.Pattern))
	sb.WriteString(fmt.Sprintf("  Anomaly:    %.2f\n", r.AgentScores.Anomaly))
	sb.WriteString(fmt.Sprintf("  Geographic: %.2f\n", r.AgentScores.Geographic))
	sb.WriteString(fmt.Sprintf("  Merchant:   %.2f\n", r.AgentScores.Merchant))
	if r.Reasoning != "" {
		sb.WriteString("\nReasoning:\n")
		for _, part := range strings.Split(r.Reasoning, " | ") {
			sb.WriteString("  " + part + "\n")
		}
	}
	sb.WriteString(fmt.Sprintf("\nLatency: %dms", r.LatencyMs))
	return sb.String()
}

func formatPatternScore(s *PatternScore) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Pattern Risk Score: %.2f\n", s.RiskScore))
	sb.WriteString(fmt.Sprintf("Reason: %s\n", s.Reason))
	if len(s.Details) > 0 {
		keys := make([]string, 0, len(s.Details))
		for k := range s.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Details:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, s.Details[k]))
		}
	}
	return sb.String()
}

func formatAnalysisList(userID string, entries []AuditEntry) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No analyses found for %s.", userID)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d analysis(es) for %s:\n\n", len(entries), userID))
	for i, e := range entries {
		sb.WriteString(fmt.Sprintf("%d. %s %s: %.2f at %s (risk %.3f)\n",
			i+1, e.AnalyzedAt.Format("2006-01-02 15:04:05"), e.Decision, e.Amount, e.Merchant, e.RiskScore))
		if e.FraudRingDetected {
			sb.WriteString("   fraud ring detected\n")
		}
		if net, ok := e.AgentScores[fraud.AgentNetwork]; ok && net != nil && net.RiskScore > 0 {
			sb.WriteString(fmt.Sprintf("   network: %s\n", net.Reason))
		}
	}
	return sb.String()
}
