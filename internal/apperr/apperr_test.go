package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("ride not found")))
	assert.Equal(t, KindConflict, KindOf(Conflict("no seats left")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))

	// the kind survives wrapping with %w
	wrapped := fmt.Errorf("while joining: %w", Forbidden("not yours"))
	assert.Equal(t, KindForbidden, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindForbidden))
	assert.False(t, Is(wrapped, KindConflict))
}

func TestErrorMessages(t *testing.T) {
	assert.EqualError(t, InvalidArgument("seats out of range"), "seats out of range")
	assert.EqualError(t, Invalidf("seats must be at most %d", 8), "seats must be at most 8")

	cause := errors.New("connection refused")
	err := Internal(cause)
	assert.EqualError(t, err, "internal error: connection refused")
	assert.ErrorIs(t, err, cause)

	assert.EqualError(t, Wrap(KindInvalidArgument, "bad body", cause), "bad body: connection refused")
}
