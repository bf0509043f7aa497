package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bimestre-scheduler-api/internal/middleware"
	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
)

var queryDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func userIDFromContext(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

// queryTime parses an optional date or timestamp query parameter.
func queryTime(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range queryDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a date (YYYY-MM-DD) or RFC3339 timestamp", key))
}

func queryBool(c *gin.Context, key string) (*bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a boolean", key))
	}
	return &val, nil
}

func queryPage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	return models.NormalizePage(page, size)
}
