package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("engine")
	assert.Equal(t, "engine", logger.GetComponentID())
}

func TestWithComponentID(t *testing.T) {
	logger := NewLogger("engine")
	derived := logger.WithComponentID("kb")

	assert.Equal(t, "kb", derived.GetComponentID())
	assert.Equal(t, "engine", logger.GetComponentID(), "original logger should be unchanged")
}

func TestSetDebug(t *testing.T) {
	original := IsDebugEnabled()
	defer SetDebug(original)

	SetDebug(true)
	assert.True(t, IsDebugEnabled())

	SetDebug(false)
	assert.False(t, IsDebugEnabled())
}

func TestDomainFiltering(t *testing.T) {
	original := IsDebugEnabled()
	defer func() {
		SetDebug(original)
		SetDebugDomains(nil)
	}()

	SetDebug(true)

	// No filter: all domains enabled.
	SetDebugDomains(nil)
	assert.True(t, IsDebugEnabledForDomain("engine"))
	assert.True(t, IsDebugEnabledForDomain("kb"))

	// Filter to a single domain.
	SetDebugDomains([]string{"engine"})
	assert.True(t, IsDebugEnabledForDomain("engine"))
	assert.False(t, IsDebugEnabledForDomain("kb"))

	// Disabled globally overrides domain filter.
	SetDebug(false)
	assert.False(t, IsDebugEnabledForDomain("engine"))
}

func TestWrapNilError(t *testing.T) {
	assert.NoError(t, Wrap(nil, "should be nil"))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := Errorf("base failure: %d", 42)
	wrapped := Wrap(cause, "outer context")

	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "outer context")
	assert.Contains(t, wrapped.Error(), "base failure: 42")
}
