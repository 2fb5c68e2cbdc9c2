package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// withObservedGlobal swaps the global logger for an in-memory observer so a
// test can assert on emitted fields.
func withObservedGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	prev := globalLogger
	globalLogger = zap.New(core)
	t.Cleanup(func() { globalLogger = prev })
	return logs
}

func TestWithContextCarriesSessionFields(t *testing.T) {
	logs := withObservedGlobal(t)

	ctx := context.WithValue(context.Background(), SessionIDKey, "0f93a1c2")
	ctx = context.WithValue(ctx, TableKey, "staging.orders")
	ctx = context.WithValue(ctx, ObjectKey, "staging.orders")

	WithContext(ctx).Info("batch started")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "0f93a1c2", fields["session_id"])
	assert.Equal(t, "staging.orders", fields["table"])
	assert.Equal(t, "staging.orders", fields["object"])
}

func TestWithContextIgnoresMissingKeys(t *testing.T) {
	logs := withObservedGlobal(t)

	WithContext(context.Background()).Info("plain")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].ContextMap())
}

func TestGetFallsBackToDefault(t *testing.T) {
	assert.NotNil(t, Get())
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := newLogger(Config{Level: "shouting", Encoding: "json"})
	assert.Error(t, err)
}
