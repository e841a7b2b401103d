package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymousName(t *testing.T) {
	assert.Equal(t, "User-1234abcd", AnonymousName("1234abcd-ffff-0000"))
	assert.Equal(t, "User-ab", AnonymousName("ab"))
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("alice"))
	assert.NoError(t, ValidateUsername(strings.Repeat("x", MaxUsernameLen)))
	assert.ErrorIs(t, ValidateUsername(""), ErrUsernameEmpty)
	assert.ErrorIs(t, ValidateUsername(strings.Repeat("x", MaxUsernameLen+1)), ErrUsernameTooLong)
}
