package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/questline-backend/internal/platform/apierr"
)

// queryLimit parses ?limit=, returning def when absent.
func queryLimit(c *gin.Context, def, max int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apierr.BadRequest("invalid_limit", "limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
