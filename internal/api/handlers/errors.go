package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
)

// respondError maps domain errors to HTTP statuses. Store failures are
// logged and hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInvoiceNotDraft):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case domain.IsInputError(err):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parsePositiveIntWithDefault(value string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func parseNonNegativeInt(value string) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && v >= 0 {
		return v
	}
	return 0
}

// parseFormBool reads an optional boolean form field.
func parseFormBool(c *gin.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.PostForm(name))
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
