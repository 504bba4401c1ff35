package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKind(t *testing.T) {
	t.Run("matches direct upload errors", func(t *testing.T) {
		assert.True(t, IsKind(ErrZeroBytes, KindContent))
		assert.True(t, IsKind(ErrDirectoryFull, KindQuota))
		assert.True(t, IsKind(ErrCannotMove, KindInfrastructure))
		assert.False(t, IsKind(ErrZeroBytes, KindQuota))
	})

	t.Run("unwraps annotated errors", func(t *testing.T) {
		wrapped := fmt.Errorf("%w: rename failed", ErrCannotMove)
		assert.True(t, IsKind(wrapped, KindInfrastructure))
		assert.False(t, IsKind(wrapped, KindContent))
	})

	t.Run("foreign errors never match", func(t *testing.T) {
		assert.False(t, IsKind(fmt.Errorf("plain"), KindInfrastructure))
		assert.False(t, IsKind(nil, KindContent))
	})
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "content", KindContent.String())
	assert.Equal(t, "quota", KindQuota.String())
	assert.Equal(t, "infrastructure", KindInfrastructure.String())
}
