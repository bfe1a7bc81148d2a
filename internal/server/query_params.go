package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func parsePagination(c *gin.Context) (limit, offset int, err error) {
	limit, err = parseOptionalInt(c.Query("limit"), 50)
	if err != nil {
		return 0, 0, newValidationError("limit", "invalid_limit", "limit must be an integer")
	}
	offset, err = parseOptionalInt(c.Query("offset"), 0)
	if err != nil {
		return 0, 0, newValidationError("offset", "invalid_offset", "offset must be an integer")
	}
	return limit, offset, nil
}

func parseOptionalInt(value string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 0 {
		return 0, ErrInvalidRequest
	}
	return parsed, nil
}
