package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(ErrKindCapacity, "maximum of 2 connections already opened"),
			want: "[capacity] maximum of 2 connections already opened",
		},
		{
			name: "with cause",
			err:  Wrap(ErrKindQueryFailed, "query failed", errors.New("syntax error")),
			want: "[query_failed] query failed: syntax error",
		},
		{
			name: "formatted",
			err:  Newf(ErrKindInvalidHandle, "invalid %s handle", "connection"),
			want: "[invalid_handle] invalid connection handle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(ErrKindInvalidHandle, "stale"))

	assert.True(t, IsInvalidHandle(wrapped))
	assert.False(t, IsCapacity(wrapped))
	assert.True(t, IsCapacity(New(ErrKindCapacity, "full")))
	assert.True(t, IsAllocation(New(ErrKindAllocation, "too large")))
	assert.True(t, IsUnsupported(New(ErrKindUnsupported, "class")))
	assert.True(t, IsNotFound(New(ErrKindNotFound, "no rows")))
	assert.Equal(t, ErrKindUnknown, KindOf(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(ErrKindConnectionFailed, "dial", cause)

	require.ErrorIs(t, err, cause)
	assert.True(t, IsConnectionFailed(err))
}

func TestCollector(t *testing.T) {
	c := &Collector{}
	Warn(c, "registry", "opened resultSet(s) forcibly closed")
	Message(c, "registry", "manager reallocated")
	Warn(nil, "registry", "dropped")

	require.Len(t, c.Notices, 2)
	assert.Len(t, c.Warnings(), 1)
	assert.Equal(t, "registry warning: (opened resultSet(s) forcibly closed)", c.Notices[0].String())

	c.Reset()
	assert.Empty(t, c.Notices)
}

func TestTee(t *testing.T) {
	a, b := &Collector{}, &Collector{}
	n := Tee(a, nil, b)
	Warn(n, "typemap", "BIGINT imported as numeric")

	assert.Len(t, a.Notices, 1)
	assert.Len(t, b.Notices, 1)
}
