package learner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MinbinGong/paxos/paxos"
)

func TestLearnerDeliversOnceQuorumReached(t *testing.T) {
	var delivered []paxos.Value
	l := New(2, func(iid paxos.InstanceId, value paxos.Value) {
		delivered = append(delivered, value)
	}, nil)

	l.ReceiveAcceptAck(paxos.AcceptAck{AcceptorId: 1, Iid: 1, Ballot: 5, Value: paxos.Value("v")})
	require.False(t, l.Decided(1))
	require.Empty(t, delivered)

	l.ReceiveAcceptAck(paxos.AcceptAck{AcceptorId: 2, Iid: 1, Ballot: 5, Value: paxos.Value("v")})
	require.True(t, l.Decided(1))
	require.Equal(t, []paxos.Value{paxos.Value("v")}, delivered)
}

func TestLearnerIgnoresVotesAfterDecision(t *testing.T) {
	calls := 0
	l := New(1, func(iid paxos.InstanceId, value paxos.Value) { calls++ }, nil)

	l.ReceiveAcceptAck(paxos.AcceptAck{AcceptorId: 1, Iid: 1, Ballot: 1, Value: paxos.Value("v")})
	require.Equal(t, 1, calls)

	l.ReceiveAcceptAck(paxos.AcceptAck{AcceptorId: 2, Iid: 1, Ballot: 1, Value: paxos.Value("v")})
	require.Equal(t, 1, calls, "a decided instance must not redeliver")
}

func TestLearnerSeparatesBucketsByBallot(t *testing.T) {
	l := New(2, func(paxos.InstanceId, paxos.Value) {}, nil)

	l.ReceiveAcceptAck(paxos.AcceptAck{AcceptorId: 1, Iid: 1, Ballot: 1, Value: paxos.Value("stale")})
	l.ReceiveAcceptAck(paxos.AcceptAck{AcceptorId: 1, Iid: 1, Ballot: 2, Value: paxos.Value("fresh")})

	require.False(t, l.Decided(1), "one vote at each of two different ballots is not a quorum at either")
}
