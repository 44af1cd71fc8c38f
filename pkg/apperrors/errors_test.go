package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesKindAndChain(t *testing.T) {
	root := errors.New("dial tcp: connection refused")
	inner := Wrap(root, KindGeneratorUnavailable, "primary provider failed")
	outer := Wrap(fmt.Errorf("generate: %w", inner), "", "report processing failed")

	require.NotNil(t, outer)
	assert.Equal(t, KindGeneratorUnavailable, outer.Kind)
	assert.ErrorIs(t, outer, root)
	assert.True(t, Is(outer, KindGeneratorUnavailable))
	assert.Nil(t, Wrap(nil, KindInternal, "nothing"))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, KindOf(errors.New("boom")).HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, KindInvalidRequest.HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, KindRateLimited.HTTPStatus())
}

func TestToBodyHidesStackOutsideDevelopment(t *testing.T) {
	err := New(KindInvalidRequest, "file_path is required")

	prod := ToBody(err, false)
	assert.Equal(t, KindInvalidRequest, prod.Kind)
	assert.Equal(t, "file_path is required", prod.Message)
	assert.Empty(t, prod.Stack)

	dev := ToBody(err, true)
	assert.Contains(t, dev.Stack, "TestToBodyHidesStackOutsideDevelopment")
}
