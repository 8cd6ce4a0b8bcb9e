package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"orgregistry/internal/catalog"
	"orgregistry/internal/logging"
	"orgregistry/internal/services"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors to status codes. Unexpected errors are
// logged and answered with message only.
func respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrGroupNotFound),
		errors.Is(err, services.ErrPermissionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrUserExists),
		errors.Is(err, services.ErrDuplicateName):
		status = http.StatusConflict
	case errors.Is(err, services.ErrGroupNotDeletable),
		errors.Is(err, services.ErrGroupInUse),
		errors.Is(err, services.ErrGroupProtected),
		errors.Is(err, services.ErrLastAdministrator),
		errors.Is(err, services.ErrCannotDeleteSelf),
		errors.Is(err, catalog.ErrInvalid):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg(message)
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return uint(id), true
}
