package handlers

import (
	"errors"
	"net/http"

	"orgregistry/internal/catalog"
	"orgregistry/internal/config"
	"orgregistry/internal/services"

	"github.com/gin-gonic/gin"
)

// GroupHandler serves groups, permissions and catalog reconciliation.
type GroupHandler struct {
	permissionService *services.PermissionService
	cfg               *config.Config
}

func NewGroupHandler(permissionService *services.PermissionService, cfg *config.Config) *GroupHandler {
	return &GroupHandler{
		permissionService: permissionService,
		cfg:               cfg,
	}
}

type GroupRequest struct {
	Name        string   `json:"name" binding:"required,max=80"`
	Permissions []string `json:"permissions"`
}

type PermissionRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description" binding:"max=255"`
}

func (h *GroupHandler) GetGroups(c *gin.Context) {
	groups, err := h.permissionService.ListGroups(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get groups")
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *GroupHandler) GetGroup(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	group, err := h.permissionService.GetGroup(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to get group")
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	group, err := h.permissionService.CreateGroup(c.Request.Context(), services.GroupData{
		Name:        req.Name,
		Permissions: req.Permissions,
	})
	if err != nil {
		h.respondGroupError(c, err, "Failed to create group")
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	group, err := h.permissionService.UpdateGroup(c.Request.Context(), id, services.GroupData{
		Name:        req.Name,
		Permissions: req.Permissions,
	})
	if err != nil {
		h.respondGroupError(c, err, "Failed to update group")
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.permissionService.DeleteGroup(c.Request.Context(), id); err != nil {
		respondError(c, err, "Failed to delete group")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Group deleted successfully"})
}

// respondGroupError reports unknown permission names in a group body as a
// bad request rather than a missing resource.
func (h *GroupHandler) respondGroupError(c *gin.Context, err error, message string) {
	if errors.Is(err, services.ErrPermissionNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	respondError(c, err, message)
}

func (h *GroupHandler) GetPermissions(c *gin.Context) {
	perms, err := h.permissionService.ListPermissions(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get permissions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

func (h *GroupHandler) CreatePermission(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	perm, err := h.permissionService.CreatePermission(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		respondError(c, err, "Failed to create permission")
		return
	}
	c.JSON(http.StatusCreated, perm)
}

func (h *GroupHandler) DeletePermission(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.permissionService.DeletePermission(c.Request.Context(), id); err != nil {
		respondError(c, err, "Failed to delete permission")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Permission deleted successfully"})
}

// ReconcileCatalog re-applies the configured policy catalog.
func (h *GroupHandler) ReconcileCatalog(c *gin.Context) {
	cat, err := catalog.FromPath(h.cfg.Catalog.Path)
	if err != nil {
		respondError(c, err, "Failed to load policy catalog")
		return
	}

	report, err := h.permissionService.Reconcile(c.Request.Context(), cat)
	if err != nil {
		respondError(c, err, "Failed to reconcile policy catalog")
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": report.Changed(), "report": report})
}
