package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-directory/internal/directory"
	"chat-directory/internal/middleware"
	"chat-directory/internal/models"
	"chat-directory/internal/repositories"
	"chat-directory/internal/telemetry"
)

// GroupHandler exposes the group directory over HTTP.
type GroupHandler struct {
	directory directory.Directory
	audit     *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(dir directory.Directory, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{directory: dir, audit: audit}
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	caller := middleware.CallerFromContext(c)

	var req models.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "create_group", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.directory.CreateGroup(c.Request.Context(), caller, req)
	if err != nil {
		h.respondError(c, "create_group", err)
		return
	}

	h.emitAudit(c, "INFO", "create_group", "group created")
	c.JSON(http.StatusCreated, result)
}

// ListGroups handles GET /groups.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	caller := middleware.CallerFromContext(c)
	groups := h.directory.ListGroups(caller)
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// GetGroup handles GET /groups/:group_id.
func (h *GroupHandler) GetGroup(c *gin.Context) {
	gid, ok := parseGroupID(c)
	if !ok {
		return
	}

	caller := middleware.CallerFromContext(c)
	info, err := h.directory.GetGroup(caller, gid)
	if err != nil {
		h.respondError(c, "get_group", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// AddMembers handles POST /groups/:group_id/members.
func (h *GroupHandler) AddMembers(c *gin.Context) {
	gid, ok := parseGroupID(c)
	if !ok {
		return
	}

	var req struct {
		Members []int64 `json:"members" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "add_members", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller := middleware.CallerFromContext(c)
	info, err := h.directory.AddMembers(c.Request.Context(), caller, gid, req.Members)
	if err != nil {
		h.respondError(c, "add_members", err)
		return
	}

	h.emitAudit(c, "INFO", "add_members", "members added")
	c.JSON(http.StatusOK, info)
}

// RemoveMembers handles DELETE /groups/:group_id/members.
func (h *GroupHandler) RemoveMembers(c *gin.Context) {
	gid, ok := parseGroupID(c)
	if !ok {
		return
	}

	var req struct {
		Members []int64 `json:"members" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "remove_members", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller := middleware.CallerFromContext(c)
	info, err := h.directory.RemoveMembers(c.Request.Context(), caller, gid, req.Members)
	if err != nil {
		h.respondError(c, "remove_members", err)
		return
	}

	h.emitAudit(c, "INFO", "remove_members", "members removed")
	c.JSON(http.StatusOK, info)
}

func (h *GroupHandler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, directory.ErrPermissionDenied):
		h.emitAudit(c, "ERROR", op, "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, directory.ErrInvalidRequest):
		h.emitAudit(c, "ERROR", op, "invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repositories.ErrGroupNotFound):
		h.emitAudit(c, "ERROR", op, "group not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
	default:
		h.emitAudit(c, "ERROR", op, "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, op, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, op, text, requestIDFromContext(c), userIDFromContext(c))
}

func parseGroupID(c *gin.Context) (int64, bool) {
	gid, err := strconv.ParseInt(c.Param("group_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return 0, false
	}
	return gid, true
}
