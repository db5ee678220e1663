package handlers

import (
	"net/http"

	"example.com/ricechain/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// respondError maps a domain error to an HTTP status. Conflicting state
// (insufficient inventory, duplicate transactions, bad transitions) is 409;
// a missing paddy price is 412 because setting it is a distinct
// precondition, not a client mistake.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrPriceNotSet):
		status = http.StatusPreconditionFailed
	case errors.Is(err, models.ErrInsufficientInventory),
		errors.Is(err, models.ErrInvalidStateTransition),
		errors.Is(err, models.ErrAlreadyApproved),
		errors.Is(err, models.ErrTransactionExists),
		errors.Is(err, models.ErrPersonnelUnavailable):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
