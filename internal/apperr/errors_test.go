package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionProcessingError_UnwrapsAndFormats(t *testing.T) {
	cause := errors.New("boom")
	err := Validation(3, cause)

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, 3, err.RequestID)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "request 3: boom", err.Error())
}

func TestConflictAndDependency_StatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusConflict, Conflict(1, errors.New("x")).StatusCode)
	assert.Equal(t, http.StatusInternalServerError, Dependency(1, errors.New("x")).StatusCode)
}

func TestActionProcessingError_ErrorsAsFromWrappedChain(t *testing.T) {
	base := Dependency(7, ErrNoPool)
	wrapped := fmt.Errorf("processing batch: %w", base)

	var target *ActionProcessingError
	require := errors.As(wrapped, &target)
	assert.True(t, require)
	assert.Equal(t, 7, target.RequestID)
	assert.ErrorIs(t, wrapped, ErrNoPool)
}
