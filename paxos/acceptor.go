package paxos

import (
	"github.com/go-kit/kit/log"
)

// Record is the durable-in-memory state an Acceptor keeps for one
// instance: the highest ballot promised, and the highest ballot at
// which it accepted a value together with that value.
//
// Invariants (spec.md A1-A3): ValueBallot <= Ballot; Value non-empty
// implies ValueBallot > 0; Ballot never decreases across the life of
// a Record.
type Record struct {
	Iid         InstanceId
	Ballot      Ballot
	ValueBallot Ballot
	Value       Value
}

func (r Record) snapshot() Record {
	r.Value = r.Value.Clone()
	return r
}

// Acceptor is the per-process state for one acceptor: the promise and
// vote arbitration rules that are the safety-critical half of Paxos.
// An Acceptor is driven by exactly one goroutine; it does no I/O and
// holds no locks of its own — see the transport package for how
// ReceivePrepare/ReceiveAccept/ReceiveRepeat get serialized onto one
// engine per process, per spec.md §5.
type Acceptor struct {
	id      AcceptorId
	logger  log.Logger
	records map[InstanceId]*Record
}

// NewAcceptor returns an acceptor identified by id. logger may be nil,
// in which case a no-op logger is used.
func NewAcceptor(id AcceptorId, logger log.Logger) *Acceptor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Acceptor{
		id:      id,
		logger:  log.With(logger, "component", "acceptor", "acceptorId", id),
		records: make(map[InstanceId]*Record),
	}
}

// ID returns this acceptor's configured identity.
func (a *Acceptor) ID() AcceptorId { return a.id }

func (a *Acceptor) recordFor(iid InstanceId) *Record {
	rec, ok := a.records[iid]
	if !ok {
		rec = &Record{Iid: iid}
		a.records[iid] = rec
	}
	return rec
}

// ReceivePrepare handles a phase-1 prepare request. If pr.Ballot is
// higher than anything promised so far, the promise is raised and the
// returned record reflects it; otherwise the record is left untouched
// and its (higher) Ballot field reveals the preemption to the caller
// (spec.md §4.1, receive_prepare).
func (a *Acceptor) ReceivePrepare(pr PrepareReq) Record {
	rec := a.recordFor(pr.Iid)
	if pr.Ballot > rec.Ballot {
		rec.Ballot = pr.Ballot
		a.logger.Log("msg", "promised", "iid", pr.Iid, "ballot", pr.Ballot)
	} else {
		a.logger.Log("msg", "prepare nacked", "iid", pr.Iid, "ballot", pr.Ballot, "have", rec.Ballot)
	}
	return rec.snapshot()
}

// ReceiveAccept handles a phase-2 accept request. If ar.Ballot is at
// least the currently promised ballot, the value is accepted (ballot,
// value_ballot and value all move to ar's); otherwise the record is
// left untouched, which nacks the request (spec.md §4.1,
// receive_accept).
func (a *Acceptor) ReceiveAccept(ar AcceptReq) Record {
	rec := a.recordFor(ar.Iid)
	if ar.Ballot >= rec.Ballot {
		rec.Ballot = ar.Ballot
		rec.ValueBallot = ar.Ballot
		rec.Value = ar.Value.Clone()
		a.logger.Log("msg", "accepted", "iid", ar.Iid, "ballot", ar.Ballot)
	} else {
		a.logger.Log("msg", "accept nacked", "iid", ar.Iid, "ballot", ar.Ballot, "have", rec.Ballot)
	}
	return rec.snapshot()
}

// ReceiveRepeat returns the acceptor's current record for iid, for a
// lagging learner or proposer to recover a past decision. ok is false
// if the acceptor has never accepted a value for iid.
func (a *Acceptor) ReceiveRepeat(iid InstanceId) (rec Record, ok bool) {
	r, found := a.records[iid]
	if !found || r.ValueBallot <= 0 {
		return Record{}, false
	}
	return r.snapshot(), true
}
