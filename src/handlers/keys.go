package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/middleware"
	"github.com/hyperio-mc/agent-talk/src/services"
)

// KeysHandler manages an owner's API keys
type KeysHandler struct {
	keys *services.KeyService
}

// NewKeysHandler creates a new keys handler
func NewKeysHandler(keys *services.KeyService) *KeysHandler {
	return &KeysHandler{keys: keys}
}

// CreateKeyRequest is the body of POST /api/v1/keys
type CreateKeyRequest struct {
	Name   string `json:"name" binding:"max=100"`
	IsTest bool   `json:"is_test"`
}

// HandleCreate handles POST /api/v1/keys. The secret is returned once and
// never again.
func (h *KeysHandler) HandleCreate(c *gin.Context) {
	var req CreateKeyRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	key, secret, err := h.keys.Create(c.Request.Context(), middleware.GetOwnerID(c), middleware.GetTier(c), req.Name, req.IsTest)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     secret,
		"api_key": key.View(),
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// HandleList handles GET /api/v1/keys
func (h *KeysHandler) HandleList(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context(), middleware.GetOwnerID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"keys":  keys,
		"count": len(keys),
	})
}

// HandleGet handles GET /api/v1/keys/:id
func (h *KeysHandler) HandleGet(c *gin.Context) {
	key, err := h.keys.Get(c.Request.Context(), c.Param("id"), middleware.GetOwnerID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

// HandleRevoke handles DELETE /api/v1/keys/:id
func (h *KeysHandler) HandleRevoke(c *gin.Context) {
	key, err := h.keys.Revoke(c.Request.Context(), c.Param("id"), middleware.GetOwnerID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"revoked": true,
		"api_key": key,
	})
}
