package handler

import (
	"errors"
	"net/http"

	"stockledger/internal/model"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// respondError translates domain errors into HTTP responses. Anything outside
// the domain taxonomy is logged and reported as a generic 500 so driver and SQL
// details never reach the client.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
	case errors.Is(err, model.ErrInsufficientStock),
		errors.Is(err, model.ErrInvalidStateTransition),
		errors.Is(err, model.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, response.Error(http.StatusConflict, err.Error()))
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Internal server error"))
	}
}

func currentUserID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
