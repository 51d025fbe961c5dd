package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextBallotSentinelCase(t *testing.T) {
	require.Equal(t, Ballot(10), nextBallot(0, 10, 0))
	require.Equal(t, Ballot(13), nextBallot(3, 10, 0))
}

func TestNextBallotStaysInResidueClass(t *testing.T) {
	const maxProposers = 10
	for id := 0; id < maxProposers; id++ {
		b := nextBallot(id, maxProposers, 0)
		for i := 0; i < 5; i++ {
			require.Equal(t, id, int(b)%maxProposers, "ballot %d for proposer %d must stay in its residue class", b, id)
			next := nextBallot(id, maxProposers, b)
			require.Greater(t, int(next), int(b), "successive ballots must be strictly increasing")
			b = next
		}
	}
}

func TestNextBallotSkipsAheadAfterForeignBallot(t *testing.T) {
	// proposer 3 was preempted by a ballot belonging to proposer 7's
	// class; its next ballot must still land back in its own class and
	// be strictly greater than what it saw.
	b := nextBallot(3, 10, 27) // 27 % 10 == 7
	require.Greater(t, int(b), 27)
	require.Equal(t, 3, int(b)%10)
}
