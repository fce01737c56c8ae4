package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Taxonomy(t *testing.T) {
	cause := stderrors.New("socket closed")

	authErr := NewAuthenticationFailed("bad credential", nil)
	staleErr := NewStaleReference("room no longer exists")
	persistErr := NewPersistenceFailure("write failed", cause)
	replErr := NewReplicationUnavailable("broker down", cause)
	transportErr := NewTransportFailure("read failed", cause)

	assert.True(t, IsAuthenticationFailed(authErr))
	assert.True(t, IsStaleReference(staleErr))
	assert.True(t, IsPersistenceFailure(persistErr))
	assert.True(t, IsReplicationUnavailable(replErr))
	assert.True(t, IsTransportFailure(transportErr))

	assert.False(t, IsAuthenticationFailed(staleErr))
	assert.False(t, IsStaleReference(authErr))
	assert.False(t, IsTransportFailure(nil))
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("socket closed")
	err := NewTransportFailure("read failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "TRANSPORT_FAILURE")
	assert.Contains(t, err.Error(), "socket closed")
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))

	inner := NewStaleReference("session gone")
	wrapped := Wrap(inner, "handling cursor update")
	assert.True(t, IsStaleReference(wrapped))
	assert.Contains(t, wrapped.Error(), "handling cursor update")

	plain := Wrap(stderrors.New("boom"), "reading frame")
	assert.True(t, IsTransportFailure(plain))
}
