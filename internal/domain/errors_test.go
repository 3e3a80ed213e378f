package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Router.Route", ErrInvalidInput, "empty message")
	want := "Router.Route: empty message: invalid input"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Engine.Route", ErrConfiguration, "")
	want := "Engine.Route: configuration error"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Registry.Load", ErrRegistryLoad, "dir missing")
	if !errors.Is(err, ErrRegistryLoad) {
		t.Error("errors.Is should match ErrRegistryLoad")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("Engine.Route", ErrConfiguration, "no enabled agents"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "Engine.Route" {
		t.Errorf("Op = %q, want %q", de.Op, "Engine.Route")
	}
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeInvalidInput, ErrorCodeOf(ErrInvalidInput))
	assert.Equal(t, CodeConfiguration, ErrorCodeOf(ErrConfiguration))
	assert.Equal(t, CodeRegistryLoad, ErrorCodeOf(ErrRegistryLoad))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Router.Route", ErrInvalidInput, "empty message")
	assert.Equal(t, CodeInvalidInput, ErrorCodeOf(err))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrAuditWrite)
	assert.Equal(t, CodeAuditWrite, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_SpecificBeatsCategory(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrConfiguration, ErrSchemaInvalid)
	assert.Equal(t, CodeSchemaInvalid, ErrorCodeOf(err))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Op", fmt.Errorf("custom"), "detail")
	assert.Equal(t, CodeUnknown, err.Code())
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

func TestNewSubSystemError_Format(t *testing.T) {
	err := NewSubSystemError("cache", "RoutingCache.Get", ErrTimeout, "redis")
	// SubSystem is metadata, not included in Error() output.
	assert.Equal(t, "RoutingCache.Get: redis: operation timed out", err.Error())
	assert.Equal(t, "cache", err.SubSystem)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	tests := []struct {
		subsystem string
		sentinel  error
		want      ErrorCode
	}{
		{"agent", ErrNotFound, CodeAgentNotFound},
		{"skill", ErrNotFound, CodeSkillNotFound},
		{"agent", ErrDisabled, CodeAgentDisabled},
		{"cache", ErrTimeout, CodeCacheTimeout},
		{"audit", ErrTimeout, CodeAuditTimeout},
		{"registry", ErrTimeout, CodeRegistryTimeout},
		{"cache", ErrUnavailable, CodeCacheUnreachable},
		{"scheduling", ErrInvalidInput, CodeScheduleInvalid},
		{"unknown-subsystem", ErrNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.subsystem+"/"+tt.sentinel.Error(), func(t *testing.T) {
			err := NewSubSystemError(tt.subsystem, "Op", tt.sentinel, "")
			assert.Equal(t, tt.want, ErrorCodeOf(err))
			assert.Equal(t, tt.want, err.Code())
		})
	}
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))

	inner := WrapOp("inner", ErrCacheUnavailable)
	outer := WrapOp("outer", inner)
	assert.Equal(t, "outer: inner: cache store unavailable", outer.Error())
	assert.True(t, errors.Is(outer, ErrCacheUnavailable))
	assert.Equal(t, CodeCacheUnavailable, ErrorCodeOf(outer))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(NewDomainError("Router.Route", ErrInvalidInput, "")))
	assert.False(t, IsClientError(NewDomainError("Engine.Route", ErrConfiguration, "")))
	assert.False(t, IsClientError(nil))
}
