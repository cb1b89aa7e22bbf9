package analysis

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudswarm/internal/fraud"
	"github.com/mbd888/fraudswarm/internal/logging"
	"github.com/mbd888/fraudswarm/internal/pagination"
	"github.com/mbd888/fraudswarm/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Handler provides HTTP endpoints for transaction analysis.
type Handler struct {
	analyzer *Analyzer
	store    Store
}

// NewHandler creates a new analysis handler. store may be nil, in which
// case the audit trail endpoint is not registered.
func NewHandler(analyzer *Analyzer, store Store) *Handler {
	return &Handler{analyzer: analyzer, store: store}
}

// RegisterRoutes sets up analysis routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze", h.Analyze)
	r.POST("/pattern", h.Pattern)
	if h.store != nil {
		r.GET("/analyses/:user_id", validation.UserIDParamMiddleware(), h.ListByUser)
	}
}

func bindRequest(c *gin.Context) (*fraud.TransactionRequest, bool) {
	var req fraud.TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed transaction body"})
		return nil, false
	}
	if errs := validation.TransactionRequest(&req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error(), "details": errs})
		return nil, false
	}
	return &req, true
}

// Analyze handles POST /api/analyze
func (h *Handler) Analyze(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}

	result, err := h.analyzer.Analyze(c.Request.Context(), req)
	if err != nil {
		logging.L(c.Request.Context()).Error("analyze endpoint failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Pattern handles POST /api/pattern
func (h *Handler) Pattern(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}

	score, err := h.analyzer.ScorePattern(c.Request.Context(), req)
	if err != nil {
		logging.L(c.Request.Context()).Error("pattern endpoint failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent":      "Pattern",
		"risk_score": score.RiskScore,
		"reason":     score.Reason,
		"details":    score.Details,
	})
}

// ListByUser handles GET /api/analyses/:user_id
func (h *Handler) ListByUser(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}

	records, err := h.store.ListByUser(c.Request.Context(), c.Param("user_id"), limit+1, cursor)
	if err != nil {
		logging.L(c.Request.Context()).Error("list analyses failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list analyses"})
		return
	}

	records, next, hasMore := pagination.ComputePage(records, limit, func(r *Record) (time.Time, string) {
		return r.AnalyzedAt, r.ID
	})
	if records == nil {
		records = []*Record{}
	}

	resp := gin.H{"analyses": records, "count": len(records), "has_more": hasMore}
	if hasMore {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
