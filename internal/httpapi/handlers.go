package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"call-platform/internal/auth"
	"call-platform/internal/calls"
	"call-platform/internal/rbac"
	"call-platform/internal/reporting"
	"call-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Calls   *calls.Coordinator
	History *calls.History
	Reports *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
}

// Login issues a JWT token pair.
//
// NOTE: development-only; it does not validate credentials and is not routed in production.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateRequest struct {
	ChatID  string `json:"chat_id"`
	IsVideo bool   `json:"is_video"`
	IsGroup bool   `json:"is_group"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ChatID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "chat_id required"})
		return
	}
	res, err := h.Calls.Initiate(c.Request.Context(), req.ChatID, userID, req.IsVideo, req.IsGroup)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// endRequest carries optional client stats. A client-reported duration is
// accepted for compatibility but ignored; duration is computed server-side.
type endRequest struct {
	Stats    *calls.Stats `json:"stats"`
	Duration *int         `json:"duration"`
}

func (h Handlers) EndCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req endRequest
	// The body is optional.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Calls.End(c.Request.Context(), c.Param("id"), userID, req.Stats)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) GetCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	call, err := h.History.Detail(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) DeleteCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Calls.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) ActiveCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	call, err := h.Calls.Active(c.Request.Context(), c.Param("chatId"), userID)
	if errors.Is(err, calls.ErrNoActiveCall) {
		c.JSON(http.StatusOK, gin.H{"call": nil})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

// ChatHistory lists a chat's calls: ?limit=50&from=RFC3339&to=RFC3339.
func (h Handlers) ChatHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	q := calls.HistoryQuery{}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		q.Limit = n
	}
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	q.FromDate, q.ToDate = from, to

	out, err := h.History.ForChat(c.Request.Context(), c.Param("chatId"), userID, q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// ChatSummary aggregates a chat's calls. Membership is enforced by rbac.RequireChatMember.
func (h Handlers) ChatSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	m, ok := rbac.Member(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		ChatID: m.ChatID,
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("call summary failed", "chat_id", m.ChatID, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func requireUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

func timeRange(c *gin.Context) (from, to time.Time, ok bool) {
	parse := func(key string) (time.Time, bool) {
		v := c.Query(key)
		if v == "" {
			return time.Time{}, true
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC3339"})
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	if from, ok = parse("from"); !ok {
		return
	}
	to, ok = parse("to")
	return
}

// writeError maps coordinator errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	code := calls.Code(err)
	status := http.StatusServiceUnavailable
	msg := "temporarily unavailable"
	switch code {
	case "forbidden":
		status, msg = http.StatusForbidden, err.Error()
	case "not_found":
		status, msg = http.StatusNotFound, err.Error()
	case "already_active", "invalid_transition":
		status, msg = http.StatusConflict, err.Error()
	case "invalid_argument":
		status, msg = http.StatusBadRequest, err.Error()
	default:
		logger.FromGin(c).Error("call request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}
