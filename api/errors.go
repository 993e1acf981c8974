package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avetrin/studiorent/internal/domain"
)

// writeError maps domain errors onto HTTP statuses. Unexpected errors are
// never echoed back verbatim.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrGateway):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment gateway error"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
