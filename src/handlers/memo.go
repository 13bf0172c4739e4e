package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/middleware"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/services"
)

// contextMemoRequest holds the validated memo request
const contextMemoRequest = "memo_request"

// MemoHandler serves memo synthesis and the voice catalogue
type MemoHandler struct {
	memos *services.MemoService
}

// NewMemoHandler creates a new memo handler
func NewMemoHandler(memos *services.MemoService) *MemoHandler {
	return &MemoHandler{memos: memos}
}

// ValidateMemo checks the request body against the caller's tier. It runs
// before QuotaMiddleware so rejected requests do not spend quota.
func (h *MemoHandler) ValidateMemo(c *gin.Context) {
	var req models.MemoRequest
	if !bindJSON(c, &req) {
		return
	}

	validated, err := h.memos.Validate(middleware.GetTier(c), req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.Set(contextMemoRequest, validated)
	c.Next()
}

// HandleCreateMemo handles POST /api/v1/memo
func (h *MemoHandler) HandleCreateMemo(c *gin.Context) {
	v, ok := c.Get(contextMemoRequest)
	req, valid := v.(models.MemoRequest)
	if !ok || !valid {
		middleware.RespondError(c, services.NewError(services.KindValidation, "Memo request was not validated."))
		return
	}

	memo, err := h.memos.Synthesize(c.Request.Context(), req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, memo)
}

// HandleDemo handles POST /api/v1/demo. It needs no key, always uses the
// simulation engine and applies hobby limits.
func (h *MemoHandler) HandleDemo(c *gin.Context) {
	var req models.MemoRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Engine = models.EngineSimulation

	validated, err := h.memos.Validate(models.TierHobby, req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	memo, err := h.memos.Synthesize(c.Request.Context(), validated)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, memo)
}

// HandleListVoices handles GET /api/v1/voices
func (h *MemoHandler) HandleListVoices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"voices": h.memos.Voices(),
	})
}
