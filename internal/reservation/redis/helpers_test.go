package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type miniredisHandle struct {
	*miniredis.Miniredis
}

func (m *miniredisHandle) get(t *testing.T, key string) string {
	t.Helper()
	val, err := m.Get(key)
	require.NoError(t, err)
	return val
}

func seedCounter(t *testing.T, r *Redis, eventID string, capacity int) {
	t.Helper()
	created, err := r.InitializeIfAbsent(context.Background(), eventID, capacity)
	require.NoError(t, err)
	require.True(t, created)
}
