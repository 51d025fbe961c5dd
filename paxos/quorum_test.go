package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuorumReachedAtThreshold(t *testing.T) {
	q := NewQuorum(2)
	require.False(t, q.Reached())

	require.True(t, q.Add(1))
	require.False(t, q.Reached())

	require.True(t, q.Add(2))
	require.True(t, q.Reached())
	require.Equal(t, 2, q.Count())
}

func TestQuorumAddIsIdempotent(t *testing.T) {
	q := NewQuorum(2)
	require.True(t, q.Add(1))
	require.False(t, q.Add(1), "a repeated id must not count twice toward the quorum")
	require.Equal(t, 1, q.Count())
	require.False(t, q.Reached())
}

func TestQuorumReset(t *testing.T) {
	q := NewQuorum(1)
	q.Add(1)
	require.True(t, q.Reached())

	q.Reset()
	require.False(t, q.Reached())
	require.Equal(t, 0, q.Count())
	require.True(t, q.Add(1))
}
