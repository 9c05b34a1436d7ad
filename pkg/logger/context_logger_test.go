package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*ContextLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewContextLogger(zap.New(core)), logs
}

func TestWithContext_AddsIdentityFields(t *testing.T) {
	cl, logs := newObservedLogger()

	ctx := context.WithValue(context.Background(), UserIDKey, "alice")
	ctx = context.WithValue(ctx, SessionIDKey, "sess-1")
	cl.WithContext(ctx).Info("participant connected")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestWithContext_BareContextAddsNothing(t *testing.T) {
	cl, logs := newObservedLogger()

	cl.WithContext(context.Background()).Info("startup")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}

func TestWithContext_IgnoresEmptyValues(t *testing.T) {
	cl, logs := newObservedLogger()

	ctx := context.WithValue(context.Background(), UserIDKey, "")
	cl.WithContext(ctx).Info("startup")

	require.Equal(t, 1, logs.Len())
	assert.NotContains(t, logs.All()[0].ContextMap(), "user_id")
}

func TestLogError_CarriesErrorAndContext(t *testing.T) {
	cl, logs := newObservedLogger()

	ctx := context.WithValue(context.Background(), UserIDKey, "bob")
	cl.LogError(ctx, errors.New("socket closed"), "relay failed")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.ErrorLevel, entry.Level)
	assert.Equal(t, "relay failed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "bob", fields["user_id"])
	assert.Equal(t, "socket closed", fields["error"])
}
