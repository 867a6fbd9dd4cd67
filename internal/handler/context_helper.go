package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/service"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

func formFromPath(c *gin.Context) (models.FormCode, error) {
	code, ok := models.ParseFormCode(c.Param("form"))
	if !ok {
		return "", appErrors.Clone(appErrors.ErrNotFound, "unknown form")
	}
	return code, nil
}

// listQueryFrom reads table state from the query string. approval_status may
// repeat or be comma separated.
func listQueryFrom(c *gin.Context) (models.ListQuery, error) {
	q := models.DefaultListQuery()
	if err := c.ShouldBindQuery(&q); err != nil {
		return q, appErrors.Clone(appErrors.ErrBadRequest, "invalid query parameters")
	}
	q.ApprovalStatus = c.QueryArray("approval_status")
	return q.Normalize(), nil
}

// scopeFrom reads an optional scope query parameter.
func scopeFrom(c *gin.Context, fallback service.Scope) (service.Scope, error) {
	raw := c.Query("scope")
	if raw == "" {
		return fallback, nil
	}
	scope, ok := service.ParseScope(raw)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrBadRequest, "unknown scope")
	}
	return scope, nil
}
