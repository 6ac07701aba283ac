package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeExchangeFailed, "missing token")
		assert.True(t, HasCode(err, CodeExchangeFailed))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches nested code through fmt wrapping", func(t *testing.T) {
		inner := New(CodeUnauthorized, "token rejected")
		outer := Wrap(fmt.Errorf("profile: %w", inner), CodeVerificationFailed, "verify session")
		assert.True(t, HasCode(outer, CodeVerificationFailed))
		assert.True(t, HasCode(outer, CodeUnauthorized))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestErrorIsComparesCodeAndMessage(t *testing.T) {
	err := Wrap(errors.New("dial tcp"), CodeExchangeFailed, "exchange request failed")
	require.ErrorIs(t, err, New(CodeExchangeFailed, "exchange request failed"))
	assert.NotErrorIs(t, err, New(CodeExchangeFailed, "other"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeTimeout, CodeOf(fmt.Errorf("x: %w", New(CodeTimeout, "slow"))))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}
