package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := Validation("search", "empty query")
	wrapped := fmt.Errorf("handler: %w", base)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindValidation))
	assert.False(t, Is(wrapped, KindAuthorization))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindValidation))
}

func TestTransientUnwraps(t *testing.T) {
	cause := errors.New("database is locked")
	err := Transient("append", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Nil(t, Transient("append", nil))
}

func TestUserMessageIsGeneric(t *testing.T) {
	// Authentication failures read the same whatever the cause.
	assert.Equal(t, "Verification failed.", UserMessage(Authentication("verify")))
	assert.Equal(t, "You are not allowed to do that.", UserMessage(Authorization("search", "scope tenant not permitted")))
	assert.NotContains(t, UserMessage(Authorization("list", "secret tier locked")), "secret")
	assert.Contains(t, UserMessage(Validation("search", "empty query")), "empty query")
	assert.Equal(t, "", UserMessage(nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "verify: verification failed", Authentication("verify").Error())
	assert.Equal(t, "append: boom", Transient("append", errors.New("boom")).Error())
}
