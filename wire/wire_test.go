package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MinbinGong/paxos/paxos"
)

func roundTrip(t *testing.T, env Envelope) Envelope {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, env))
	got, err := Read(bufio.NewReader(&buf))
	require.NoError(t, err)
	return got
}

func TestRoundTripAllMessageKinds(t *testing.T) {
	cases := []Envelope{
		{Type: MsgPrepareReq, PrepareReq: paxos.PrepareReq{Iid: 7, Ballot: 3}},
		{Type: MsgPrepareAck, PrepareAck: paxos.PrepareAck{AcceptorId: 2, Iid: 7, Ballot: 3, ValueBallot: 1, Value: paxos.Value("a")}},
		{Type: MsgAcceptReq, AcceptReq: paxos.AcceptReq{Iid: 7, Ballot: 3, Value: paxos.Value("payload")}},
		{Type: MsgAcceptAck, AcceptAck: paxos.AcceptAck{AcceptorId: 2, Iid: 7, Ballot: 3, ValueBallot: 3, Value: paxos.Value("payload")}},
		{Type: MsgRepeatReq, RepeatReq: paxos.RepeatReq{Iid: 7}},
		{Type: MsgSubmit, Submit: paxos.Value("client value")},
	}
	for _, env := range cases {
		got := roundTrip(t, env)
		require.Equal(t, env, got)
	}
}

func TestOversizeBodyIsDrainedAndReported(t *testing.T) {
	var buf bytes.Buffer
	big := paxos.Value(make([]byte, MaxValueSize+1))
	require.NoError(t, Write(&buf, Envelope{Type: MsgSubmit, Submit: big}))

	// append a well-formed message right after, to prove draining left
	// the stream correctly positioned for the next frame.
	require.NoError(t, Write(&buf, Envelope{Type: MsgRepeatReq, RepeatReq: paxos.RepeatReq{Iid: 1}}))

	r := bufio.NewReader(&buf)
	_, err := Read(r)
	require.Equal(t, ErrOversize, err)

	next, err := Read(r)
	require.NoError(t, err)
	require.Equal(t, paxos.InstanceId(1), next.RepeatReq.Iid)
}
