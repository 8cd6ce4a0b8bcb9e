package handlers

import (
	"net/http"

	"orgregistry/internal/services"

	"github.com/gin-gonic/gin"
)

// DirectoryHandler serves the read-only export used by other systems.
type DirectoryHandler struct {
	userService       *services.UserService
	permissionService *services.PermissionService
}

func NewDirectoryHandler(userService *services.UserService, permissionService *services.PermissionService) *DirectoryHandler {
	return &DirectoryHandler{
		userService:       userService,
		permissionService: permissionService,
	}
}

type directoryGroup struct {
	ID          uint     `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type directoryUser struct {
	ID         uint   `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	Department string `json:"department"`
	Position   string `json:"position"`
	GroupName  string `json:"group_name"`
}

// GetUsersGroups exports every group and user. Credentials and contact
// details are never included.
func (h *DirectoryHandler) GetUsersGroups(c *gin.Context) {
	groups, err := h.permissionService.ListGroups(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get groups")
		return
	}
	users, err := h.userService.GetUsers(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get users")
		return
	}

	outGroups := make([]directoryGroup, 0, len(groups))
	for _, g := range groups {
		outGroups = append(outGroups, directoryGroup{ID: g.ID, Name: g.Name, Permissions: g.PermissionNames()})
	}
	outUsers := make([]directoryUser, 0, len(users))
	for _, u := range users {
		outUsers = append(outUsers, directoryUser{
			ID:         u.ID,
			Username:   u.Username,
			FullName:   u.FullName,
			Department: u.Department,
			Position:   u.Position,
			GroupName:  u.GroupName(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"groups": outGroups, "users": outUsers})
}
