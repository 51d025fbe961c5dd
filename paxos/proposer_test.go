package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProposerHappyPath(t *testing.T) {
	p := NewProposer(0, 10, 2, nil)
	p.Propose(Value("v1"))

	req := p.Prepare()
	require.Equal(t, InstanceId(1), req.Iid)

	ack1 := PrepareAck{AcceptorId: 1, Iid: req.Iid, Ballot: req.Ballot}
	ack2 := PrepareAck{AcceptorId: 2, Iid: req.Iid, Ballot: req.Ballot}
	_, retry := p.ReceivePrepareAck(ack1)
	require.False(t, retry)
	_, retry = p.ReceivePrepareAck(ack2)
	require.False(t, retry)

	accReq, ok := p.Accept()
	require.True(t, ok)
	require.Equal(t, Value("v1"), accReq.Value)

	_, retry = p.ReceiveAcceptAck(AcceptAck{AcceptorId: 1, Iid: accReq.Iid, Ballot: accReq.Ballot})
	require.False(t, retry)
	_, retry = p.ReceiveAcceptAck(AcceptAck{AcceptorId: 2, Iid: accReq.Iid, Ballot: accReq.Ballot})
	require.False(t, retry)

	_, stillPending := p.acceptByIid[accReq.Iid]
	require.False(t, stillPending, "a quorum of matching accept-acks must decide the instance")
}

func TestProposerAdoptsPromisedValue(t *testing.T) {
	p := NewProposer(0, 10, 2, nil)
	p.Propose(Value("mine"))
	req := p.Prepare()

	// one acceptor reports a value some other proposer already got
	// accepted at a lower ballot; theirs must be adopted instead of ours. The
	// second acceptor has no prior accept for this instance, so the
	// closed-detection rule (which needs closeThreshold *matching*
	// reports) never fires.
	p.ReceivePrepareAck(PrepareAck{AcceptorId: 1, Iid: req.Iid, Ballot: req.Ballot, ValueBallot: 1, Value: Value("theirs")})
	p.ReceivePrepareAck(PrepareAck{AcceptorId: 2, Iid: req.Iid, Ballot: req.Ballot})

	accReq, ok := p.Accept()
	require.True(t, ok)
	require.Equal(t, Value("theirs"), accReq.Value)

	// our own value was never bound, so it must remain queued for a
	// future instance.
	next := p.Prepare()
	require.NotEqual(t, InstanceId(0), next.Iid)
	require.Equal(t, Value("mine"), p.values.Front())
}

func TestProposerDisplacesLowerAdoptedValue(t *testing.T) {
	p := NewProposer(0, 10, 2, nil)
	req := p.Prepare()

	p.ReceivePrepareAck(PrepareAck{AcceptorId: 1, Iid: req.Iid, Ballot: req.Ballot, ValueBallot: 1, Value: Value("older")})
	p.ReceivePrepareAck(PrepareAck{AcceptorId: 2, Iid: req.Iid, Ballot: req.Ballot, ValueBallot: 2, Value: Value("newer")})

	accReq, ok := p.Accept()
	require.True(t, ok)
	require.Equal(t, Value("newer"), accReq.Value, "a higher value_ballot must displace a previously adopted value")
}

func TestProposerDetectsClosedInstance(t *testing.T) {
	p := NewProposer(0, 10, 2, nil)
	p.SetCloseThreshold(2)
	req := p.Prepare()

	p.ReceivePrepareAck(PrepareAck{AcceptorId: 1, Iid: req.Iid, Ballot: req.Ballot, ValueBallot: 4, Value: Value("decided")})
	p.ReceivePrepareAck(PrepareAck{AcceptorId: 2, Iid: req.Iid, Ballot: req.Ballot, ValueBallot: 4, Value: Value("decided")})

	_, ok := p.Accept()
	require.False(t, ok, "a closed instance must be skipped rather than re-proposed")
}

func TestProposerPreemptionDuringPrepare(t *testing.T) {
	p := NewProposer(0, 10, 2, nil)
	req := p.Prepare()

	higherReq, retry := p.ReceivePrepareAck(PrepareAck{AcceptorId: 1, Iid: req.Iid, Ballot: req.Ballot + 10})
	require.True(t, retry)
	require.Equal(t, req.Iid, higherReq.Iid)
	require.Greater(t, int(higherReq.Ballot), int(req.Ballot))
	require.Equal(t, 0, int(higherReq.Ballot)%10, "retried ballot must stay in proposer 0's residue class")
}

func TestProposerPreemptionDuringAccept(t *testing.T) {
	p := NewProposer(0, 10, 2, nil)
	p.Propose(Value("v"))
	req := p.Prepare()
	p.ReceivePrepareAck(PrepareAck{AcceptorId: 1, Iid: req.Iid, Ballot: req.Ballot})
	p.ReceivePrepareAck(PrepareAck{AcceptorId: 2, Iid: req.Iid, Ballot: req.Ballot})

	accReq, ok := p.Accept()
	require.True(t, ok)

	retryReq, retry := p.ReceiveAcceptAck(AcceptAck{AcceptorId: 1, Iid: accReq.Iid, Ballot: accReq.Ballot + 10})
	require.True(t, retry)
	require.Greater(t, int(retryReq.Ballot), int(accReq.Ballot))

	// the instance must be back in the prepare queue, value retained.
	pending := p.PendingPrepares()
	require.Len(t, pending, 1)
	require.Equal(t, accReq.Iid, pending[0].Iid)
	require.Equal(t, Value("v"), p.findPrepareInstance(accReq.Iid).Value)
}

func TestForcePreemptUnknownInstance(t *testing.T) {
	p := NewProposer(0, 10, 2, nil)
	_, ok := p.ForcePreempt(99)
	require.False(t, ok)
}

func TestForcePreemptBumpsBallot(t *testing.T) {
	p := NewProposer(1, 10, 2, nil)
	req := p.Prepare()

	newReq, ok := p.ForcePreempt(req.Iid)
	require.True(t, ok)
	require.Greater(t, int(newReq.Ballot), int(req.Ballot))

	pending := p.PendingPrepares()
	require.Len(t, pending, 1)
	require.False(t, pending[0].Reached)
}
