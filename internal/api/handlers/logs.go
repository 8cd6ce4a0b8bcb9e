package handlers

import (
	"net/http"
	"strconv"
	"time"

	"orgregistry/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	dateLayout = "2006-01-02"
	maxPerPage = 100
)

type LogsHandler struct {
	auditService *services.AuditService
}

func NewLogsHandler(auditService *services.AuditService) *LogsHandler {
	return &LogsHandler{auditService: auditService}
}

// GetActivity returns one page of the activity log. Query parameters:
// username, action, entity_type (substring), entity_id (exact),
// from and to (YYYY-MM-DD, inclusive), page, per_page.
func (h *LogsHandler) GetActivity(c *gin.Context) {
	filter := services.ActivityFilter{
		Username:   c.Query("username"),
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
	}

	var err error
	if filter.From, err = parseDate(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'from' date, expected YYYY-MM-DD"})
		return
	}
	if filter.To, err = parseDate(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'to' date, expected YYYY-MM-DD"})
		return
	}

	if pageStr := c.Query("page"); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil && page > 0 {
			filter.Page = min(page, services.MaxActivityPage)
		}
	}
	if perPageStr := c.Query("per_page"); perPageStr != "" {
		if perPage, err := strconv.Atoi(perPageStr); err == nil && perPage > 0 && perPage <= maxPerPage {
			filter.PerPage = perPage
		}
	}

	page, err := h.auditService.Query(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to read activity log")
		return
	}
	c.JSON(http.StatusOK, page)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
