package utils

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-reservation/internal/models"
)

func TestStatusForError(t *testing.T) {
	cases := map[error]int{
		models.ErrNotFound:                 http.StatusNotFound,
		models.ErrDuplicateReservation:     http.StatusConflict,
		models.ErrDuplicatePurchase:        http.StatusConflict,
		models.ErrSoldOut:                  http.StatusGone,
		models.ErrHoldExpired:              http.StatusGone,
		models.ErrAmountMismatch:           http.StatusPaymentRequired,
		models.ErrInvalidState:             http.StatusUnprocessableEntity,
		models.ErrInvalidArgument:          http.StatusBadRequest,
		models.ErrInventoryDrift:           http.StatusServiceUnavailable,
		errors.New("something unexpected"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusForError(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusCreated, SuccessResponse("ok", map[string]string{"id": "r1"})))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"id":"r1"`)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}
