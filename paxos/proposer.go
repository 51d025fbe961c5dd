package paxos

import (
	"bytes"

	"github.com/go-kit/kit/log"

	"github.com/MinbinGong/paxos/ring"
)

// Instance is the proposer-side bookkeeping for one instance it is
// currently driving. Present in at most one of prepareQueue/
// acceptByIid at a time (spec.md P3).
type Instance struct {
	Iid           InstanceId
	Ballot        Ballot
	ValueBallot   Ballot
	Value         Value
	Closed        bool
	PrepareQuorum *Quorum
	AcceptQuorum  *Quorum

	// matching tracks, for the closed-detection rule, how many
	// distinct acceptors have reported the same (ValueBallot, Value)
	// pair in a promise. See Proposer.closeThreshold.
	matching map[AcceptorId]struct{}
}

func newInstance(iid InstanceId, ballot Ballot, quorumSize int) *Instance {
	return &Instance{
		Iid:           iid,
		Ballot:        ballot,
		PrepareQuorum: NewQuorum(quorumSize),
		AcceptQuorum:  NewQuorum(quorumSize),
		matching:      make(map[AcceptorId]struct{}),
	}
}

// Proposer is the per-process state for one proposer: phase-1/phase-2
// progression, promise-value adoption, quorum tracking, and ballot
// preemption and retry for an unbounded sequence of instances.
//
// A Proposer is driven by exactly one goroutine; see the driver
// package for the external pacing loop spec.md §5 expects (calling
// Accept() when there's room, and detecting instances stuck in
// PREPARE to invoke ForcePreempt).
type Proposer struct {
	id           int
	maxProposers int
	quorumSize   int

	// closeThreshold is how many acceptors must report an identical
	// (value_ballot, value) pair in their promise before the instance
	// is considered already decided and abandoned. Defaults to 2 (the
	// N=3 case spec.md §9 documents); set it to quorumSize for larger
	// ensembles to keep the rule safe rather than merely a liveness
	// hint, or higher than the number of acceptors to disable the
	// shortcut (promises keep being counted after the prepare quorum is
	// reached, so a value between the two can still fire).
	closeThreshold int

	logger log.Logger

	values       *ring.Buffer // pending Value, FIFO
	prepareQueue *ring.Buffer // pending *Instance, ordered
	acceptByIid  map[InstanceId]*Instance

	nextPrepareIid InstanceId
}

// NewProposer returns a proposer identified by id in [0, maxProposers),
// using quorumSize as the majority size for both phases.
func NewProposer(id, maxProposers, quorumSize int, logger log.Logger) *Proposer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Proposer{
		id:             id,
		maxProposers:   maxProposers,
		quorumSize:     quorumSize,
		closeThreshold: 2,
		logger:         log.With(logger, "component", "proposer", "proposerId", id),
		values:         ring.New(128),
		prepareQueue:   ring.New(128),
		acceptByIid:    make(map[InstanceId]*Instance),
	}
}

// SetCloseThreshold overrides the default closed-instance detection
// threshold (see the Proposer.closeThreshold doc comment).
func (p *Proposer) SetCloseThreshold(n int) { p.closeThreshold = n }

func (p *Proposer) nextBallot(b Ballot) Ballot {
	return nextBallot(p.id, p.maxProposers, b)
}

// Propose appends value to the FIFO of values awaiting an instance. No
// instance is claimed here; submission is decoupled from progress
// (spec.md §4.2, propose).
func (p *Proposer) Propose(value Value) {
	p.values.PushBack(value.Clone())
}

// PreparedCount reports how many instances are in the prepare queue,
// for the driver's rate control (spec.md §4.2, prepared_count).
func (p *Proposer) PreparedCount() int { return p.prepareQueue.Len() }

// PendingPrepares returns the (iid, ballot, quorum-reached) state of
// every instance still waiting on a promise quorum, in queue order.
// The core keeps no timers of its own (spec.md §5); an external driver
// uses this to decide which instances have been stuck long enough to
// warrant ForcePreempt.
type PendingPrepare struct {
	Iid     InstanceId
	Ballot  Ballot
	Reached bool
}

func (p *Proposer) PendingPrepares() []PendingPrepare {
	out := make([]PendingPrepare, 0, p.prepareQueue.Len())
	for i := 0; i < p.prepareQueue.Len(); i++ {
		inst := p.prepareQueue.At(i).(*Instance)
		out = append(out, PendingPrepare{Iid: inst.Iid, Ballot: inst.Ballot, Reached: inst.PrepareQuorum.Reached()})
	}
	return out
}

// ForcePreempt bumps iid's ballot and returns a fresh PrepareReq to
// broadcast, as if a higher-ballot nack had arrived. Used by an
// external driver that has decided an instance has been stuck in
// PREPARE past its deadline (spec.md §5). ok is false if iid isn't
// currently in the prepare queue.
func (p *Proposer) ForcePreempt(iid InstanceId) (PrepareReq, bool) {
	inst := p.findPrepareInstance(iid)
	if inst == nil {
		return PrepareReq{}, false
	}
	return p.preempt(inst), true
}

// Prepare allocates a fresh instance and its phase-1 request. The
// caller (driver/transport) is expected to broadcast the returned
// request to all acceptors.
func (p *Proposer) Prepare() PrepareReq {
	p.nextPrepareIid++
	iid := p.nextPrepareIid
	inst := newInstance(iid, p.nextBallot(0), p.quorumSize)
	p.prepareQueue.PushBack(inst)
	p.logger.Log("msg", "prepare", "iid", iid, "ballot", inst.Ballot)
	return PrepareReq{Iid: iid, Ballot: inst.Ballot}
}

func (p *Proposer) findPrepareInstance(iid InstanceId) *Instance {
	for i := 0; i < p.prepareQueue.Len(); i++ {
		inst := p.prepareQueue.At(i).(*Instance)
		if inst.Iid == iid {
			return inst
		}
	}
	return nil
}

// ReceivePrepareAck processes a phase-1 response. If the acceptor has
// preempted this instance's ballot, the instance's ballot is bumped
// and a fresh PrepareReq is returned for the caller to broadcast;
// otherwise it returns (PrepareReq{}, false) (spec.md §4.2,
// receive_prepare_ack).
func (p *Proposer) ReceivePrepareAck(ack PrepareAck) (PrepareReq, bool) {
	inst := p.findPrepareInstance(ack.Iid)
	if inst == nil {
		p.logger.Log("msg", "prepare ack dropped, stale iid", "iid", ack.Iid)
		return PrepareReq{}, false
	}
	if ack.Ballot < inst.Ballot {
		p.logger.Log("msg", "prepare ack dropped, old ballot", "iid", ack.Iid)
		return PrepareReq{}, false
	}
	if ack.Ballot > inst.Ballot {
		return p.preempt(inst), true
	}

	if !inst.PrepareQuorum.Add(ack.AcceptorId) {
		p.logger.Log("msg", "prepare ack dropped, duplicate", "iid", ack.Iid, "acceptorId", ack.AcceptorId)
		return PrepareReq{}, false
	}

	if !ack.Value.Empty() {
		switch {
		case inst.Value.Empty():
			inst.ValueBallot = ack.ValueBallot
			inst.Value = ack.Value.Clone()
			inst.matching = map[AcceptorId]struct{}{ack.AcceptorId: {}}
		case ack.ValueBallot > inst.ValueBallot:
			p.values.PushBack(inst.Value)
			inst.ValueBallot = ack.ValueBallot
			inst.Value = ack.Value.Clone()
			inst.matching = map[AcceptorId]struct{}{ack.AcceptorId: {}}
		case ack.ValueBallot == inst.ValueBallot && bytes.Equal(ack.Value, inst.Value):
			inst.matching[ack.AcceptorId] = struct{}{}
			if len(inst.matching) >= p.closeThreshold {
				inst.Closed = true
				p.logger.Log("msg", "instance closed", "iid", inst.Iid)
			}
		default:
			// lower value_ballot than what we already hold, or the same
			// value_ballot with a different value: ignore.
		}
	}
	return PrepareReq{}, false
}

// Accept is the opportunistic phase-2 driver: it drops closed heads of
// the prepare queue, checks the new head has a prepare quorum, binds a
// pending value if needed, and moves the instance to the accept set.
// Returns (AcceptReq{}, false) if there's nothing to send yet (spec.md
// §4.2, accept).
func (p *Proposer) Accept() (AcceptReq, bool) {
	var inst *Instance
	for {
		front := p.prepareQueue.Front()
		if front == nil {
			return AcceptReq{}, false
		}
		inst = front.(*Instance)
		if inst.Closed {
			p.prepareQueue.PopFront()
			continue
		}
		if !inst.PrepareQuorum.Reached() {
			return AcceptReq{}, false
		}
		break
	}

	if inst.Value.Empty() {
		v := p.values.PopFront()
		if v == nil {
			return AcceptReq{}, false
		}
		inst.Value = v.(Value)
	}

	p.prepareQueue.PopFront()
	p.acceptByIid[inst.Iid] = inst
	p.logger.Log("msg", "accept", "iid", inst.Iid, "ballot", inst.Ballot)
	return AcceptReq{Iid: inst.Iid, Ballot: inst.Ballot, Value: inst.Value}, true
}

// ReceiveAcceptAck processes a phase-2 response. If a quorum of votes
// at this instance's ballot has now been collected, the instance is
// removed and decided. If the acceptor reports a higher ballot
// (preemption), the instance moves back to the front of the prepare
// queue with a bumped ballot, and a fresh PrepareReq is returned
// (spec.md §4.2, receive_accept_ack).
func (p *Proposer) ReceiveAcceptAck(ack AcceptAck) (PrepareReq, bool) {
	inst, ok := p.acceptByIid[ack.Iid]
	if !ok {
		p.logger.Log("msg", "accept ack dropped, stale iid", "iid", ack.Iid)
		return PrepareReq{}, false
	}

	if ack.Ballot == inst.Ballot {
		if !inst.AcceptQuorum.Add(ack.AcceptorId) {
			p.logger.Log("msg", "accept ack dropped, duplicate", "iid", ack.Iid, "acceptorId", ack.AcceptorId)
			return PrepareReq{}, false
		}
		if inst.AcceptQuorum.Reached() {
			delete(p.acceptByIid, inst.Iid)
			p.logger.Log("msg", "instance decided", "iid", inst.Iid, "ballot", inst.Ballot)
		}
		return PrepareReq{}, false
	}

	delete(p.acceptByIid, inst.Iid)
	p.prepareQueue.PushFront(inst)
	return p.preempt(inst), true
}

// preempt bumps inst's ballot to the next one in this proposer's
// residue class, resets both quorum trackers, and returns the fresh
// PrepareReq. inst.Value and inst.ValueBallot are retained: anything
// already adopted remains a candidate under Paxos safety.
func (p *Proposer) preempt(inst *Instance) PrepareReq {
	inst.Ballot = p.nextBallot(inst.Ballot)
	inst.PrepareQuorum.Reset()
	inst.AcceptQuorum.Reset()
	inst.matching = make(map[AcceptorId]struct{})
	p.logger.Log("msg", "preempted, retrying", "iid", inst.Iid, "ballot", inst.Ballot)
	return PrepareReq{Iid: inst.Iid, Ballot: inst.Ballot}
}
