// Package driver is the reference "external driver" spec.md §5
// describes: the event loop that serializes message delivery onto one
// engine at a time, opportunistically drains accept requests, and
// detects proposer instances stuck in PREPARE so it can invoke
// preempt with a higher ballot. None of this is correctness-critical;
// any retry policy consistent with "eventually retry with strictly
// higher ballots" preserves liveness, per spec.md.
package driver

import (
	"math/rand"
	"time"

	"github.com/go-kit/kit/log"
	tw "github.com/msackman/gotimerwheel"

	"github.com/MinbinGong/paxos/config"
	"github.com/MinbinGong/paxos/learner"
	"github.com/MinbinGong/paxos/metrics"
	"github.com/MinbinGong/paxos/paxos"
	"github.com/MinbinGong/paxos/transport"
	"github.com/MinbinGong/paxos/wire"
)

// tickInterval is the timer wheel's own clock granularity. It only
// bounds how finely PrepareDeadline can be honored, not how often
// RetryStalled is called — the caller's own tick (cmd/paxosd runs one
// every 200ms) drives AdvanceTo.
const tickInterval = 25 * time.Millisecond

// PrepareDeadline is how long an instance may sit in PREPARE without a
// quorum before the driver forces a higher-ballot retry.
const PrepareDeadline = 2 * time.Second

// ProposerLoop drives one Proposer against a transport.Manager: it
// broadcasts prepare/accept requests, feeds inbound acks back into the
// proposer, submits client values, and periodically retries stalled
// instances with backoff.
type ProposerLoop struct {
	proposer  *paxos.Proposer
	transport *transport.Manager
	backoff   map[paxos.InstanceId]*BinaryBackoff
	metrics   *metrics.Proposer
	logger    log.Logger

	tw        *tw.TimerWheel
	scheduled map[paxos.InstanceId]bool
}

// NewProposerLoop wires a Proposer to a transport.Manager using the
// cluster's configured quorum size and proposer identity. m may be nil.
func NewProposerLoop(cluster *config.Cluster, proposerId int, tm *transport.Manager, m *metrics.Proposer, logger log.Logger) *ProposerLoop {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	p := paxos.NewProposer(proposerId, cluster.MaxProposers, cluster.QuorumSize(), logger)
	return &ProposerLoop{
		proposer:  p,
		transport: tm,
		backoff:   make(map[paxos.InstanceId]*BinaryBackoff),
		metrics:   m,
		logger:    log.With(logger, "component", "driver.proposer"),
		tw:        tw.NewTimerWheel(time.Now(), tickInterval),
		scheduled: make(map[paxos.InstanceId]bool),
	}
}

// Submit enqueues a client value and opportunistically starts a fresh
// instance for it.
func (d *ProposerLoop) Submit(value paxos.Value) {
	d.proposer.Propose(value)
	req := d.proposer.Prepare()
	d.countPrepare()
	d.transport.Broadcast(wire.Envelope{Type: wire.MsgPrepareReq, PrepareReq: req})
}

// HandleDelivery feeds one inbound message into the proposer and sends
// any resulting requests. Call this from the single loop reading
// transport.Manager.Inbox.
func (d *ProposerLoop) HandleDelivery(msg wire.Envelope) {
	switch msg.Type {
	case wire.MsgPrepareAck:
		if req, retry := d.proposer.ReceivePrepareAck(msg.PrepareAck); retry {
			d.countPreemption()
			d.countPrepare()
			d.transport.Broadcast(wire.Envelope{Type: wire.MsgPrepareReq, PrepareReq: req})
		}
	case wire.MsgAcceptAck:
		if req, retry := d.proposer.ReceiveAcceptAck(msg.AcceptAck); retry {
			d.countPreemption()
			d.countPrepare()
			d.transport.Broadcast(wire.Envelope{Type: wire.MsgPrepareReq, PrepareReq: req})
		} else if d.metrics != nil {
			d.metrics.Decided.Inc()
		}
	}
}

// DrainAccepts calls Accept() as many times as it can make progress,
// broadcasting every AcceptReq produced. cmd/paxosd calls it on every
// tick of its proposer loop.
func (d *ProposerLoop) DrainAccepts() {
	for {
		req, ok := d.proposer.Accept()
		if !ok {
			return
		}
		if d.metrics != nil {
			d.metrics.Accepts.Inc()
		}
		d.transport.Broadcast(wire.Envelope{Type: wire.MsgAcceptReq, AcceptReq: req})
	}
}

func (d *ProposerLoop) countPrepare() {
	if d.metrics != nil {
		d.metrics.Prepares.Inc()
	}
}

func (d *ProposerLoop) countPreemption() {
	if d.metrics != nil {
		d.metrics.Preemptions.Inc()
	}
}

// RetryStalled advances the retry timer wheel to now, firing any
// scheduled checks that came due, then schedules a check PrepareDeadline
// out for every pending prepare the wheel isn't already watching. The
// caller (cmd/paxosd's tick loop) is the timer wheel's only driving
// goroutine, so every fired callback runs on the same goroutine that
// owns the rest of the proposer's state — mirroring the teacher's
// VarManager.beat, which folds AdvanceTo into the owning executor
// instead of firing callbacks from a separate timer goroutine.
func (d *ProposerLoop) RetryStalled(now time.Time) {
	d.tw.AdvanceTo(now, 32)
	for _, pp := range d.proposer.PendingPrepares() {
		if pp.Reached || d.scheduled[pp.Iid] {
			continue
		}
		d.scheduleRetryCheck(pp.Iid, PrepareDeadline)
	}
}

func (d *ProposerLoop) scheduleRetryCheck(iid paxos.InstanceId, delay time.Duration) {
	d.scheduled[iid] = true
	if err := d.tw.ScheduleEventIn(delay, func() { d.retryCheck(iid) }); err != nil {
		d.logger.Log("msg", "failed to schedule retry check", "iid", iid, "error", err)
		delete(d.scheduled, iid)
	}
}

// retryCheck fires PrepareDeadline after an instance was first seen
// pending. If it is still unresolved it forces a higher-ballot retry,
// spaced with randomized binary backoff per instance so competing
// proposers don't duel indefinitely, and reschedules itself; otherwise
// it just stops watching the instance.
func (d *ProposerLoop) retryCheck(iid paxos.InstanceId) {
	delete(d.scheduled, iid)
	for _, pp := range d.proposer.PendingPrepares() {
		if pp.Iid != iid {
			continue
		}
		if pp.Reached {
			return
		}
		bo, ok := d.backoff[iid]
		if !ok {
			bo = NewBinaryBackoff(rand.New(rand.NewSource(int64(iid))), 10*time.Millisecond, time.Second)
			d.backoff[iid] = bo
		}
		bo.Advance()
		req, ok := d.proposer.ForcePreempt(iid)
		if !ok {
			return
		}
		d.countPreemption()
		d.countPrepare()
		d.transport.Broadcast(wire.Envelope{Type: wire.MsgPrepareReq, PrepareReq: req})
		d.scheduleRetryCheck(iid, PrepareDeadline+bo.Current())
		return
	}
}

// AcceptorLoop drives one Acceptor against a transport.Manager,
// implementing the §4.1 broadcast policy: accepts fan out to every
// peer, nacks and promises go back only to the sender.
type AcceptorLoop struct {
	acceptor  *paxos.Acceptor
	transport *transport.Manager
	learner   *learner.Learner
	metrics   *metrics.Acceptor
}

// NewAcceptorLoop wires an Acceptor to a transport.Manager. lrn and m
// may be nil if this process runs no local learner or metrics.
func NewAcceptorLoop(id paxos.AcceptorId, tm *transport.Manager, lrn *learner.Learner, m *metrics.Acceptor, logger log.Logger) *AcceptorLoop {
	return &AcceptorLoop{
		acceptor:  paxos.NewAcceptor(id, logger),
		transport: tm,
		learner:   lrn,
		metrics:   m,
	}
}

// HandleDelivery dispatches one inbound message by type, exactly per
// spec.md §4.1: prepare-acks unicast to the requester, accept nacks
// unicast, genuine accepts broadcast so learners observe the vote, and
// repeat replies unicast when a record exists.
func (d *AcceptorLoop) HandleDelivery(fromPeerId int, msg wire.Envelope) {
	id := d.acceptor.ID()
	switch msg.Type {
	case wire.MsgPrepareReq:
		rec := d.acceptor.ReceivePrepare(msg.PrepareReq)
		ack := paxos.PrepareAck{AcceptorId: id, Iid: rec.Iid, Ballot: rec.Ballot, ValueBallot: rec.ValueBallot, Value: rec.Value}
		if d.metrics != nil {
			if rec.Ballot == msg.PrepareReq.Ballot {
				d.metrics.Promises.Inc()
			} else {
				d.metrics.Nacks.Inc()
			}
		}
		d.transport.Unicast(fromPeerId, wire.Envelope{Type: wire.MsgPrepareAck, PrepareAck: ack})

	case wire.MsgAcceptReq:
		rec := d.acceptor.ReceiveAccept(msg.AcceptReq)
		ack := paxos.AcceptAck{AcceptorId: id, Iid: rec.Iid, Ballot: rec.Ballot, ValueBallot: rec.ValueBallot, Value: rec.Value}
		env := wire.Envelope{Type: wire.MsgAcceptAck, AcceptAck: ack}
		if rec.Ballot == msg.AcceptReq.Ballot {
			if d.metrics != nil {
				d.metrics.Accepts.Inc()
			}
			d.transport.Broadcast(env)
			if d.learner != nil {
				d.learner.ReceiveAcceptAck(ack)
			}
		} else {
			if d.metrics != nil {
				d.metrics.Nacks.Inc()
			}
			d.transport.Unicast(fromPeerId, env)
		}

	case wire.MsgRepeatReq:
		rec, ok := d.acceptor.ReceiveRepeat(msg.RepeatReq.Iid)
		if ok {
			ack := paxos.AcceptAck{AcceptorId: id, Iid: rec.Iid, Ballot: rec.Ballot, ValueBallot: rec.ValueBallot, Value: rec.Value}
			d.transport.Unicast(fromPeerId, wire.Envelope{Type: wire.MsgAcceptAck, AcceptAck: ack})
		}
	}
}
