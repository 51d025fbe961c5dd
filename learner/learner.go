// Package learner collects accept-acks broadcast by acceptors and
// declares an instance decided once a quorum of identical votes has
// been observed. Not part of the Paxos core (spec.md explicitly
// scopes it out), but its bucketing logic is isomorphic to the
// proposer's accept-quorum tracking and reuses paxos.Quorum directly,
// as spec.md §9 suggests.
package learner

import (
	"github.com/go-kit/kit/log"

	"github.com/MinbinGong/paxos/paxos"
)

type bucketKey struct {
	iid    paxos.InstanceId
	ballot paxos.Ballot
}

type bucket struct {
	quorum *paxos.Quorum
	value  paxos.Value
}

// Deliver is called exactly once per instance, the first time any
// ballot for that instance reaches quorum.
type Deliver func(iid paxos.InstanceId, value paxos.Value)

// Learner accumulates AcceptAck votes across (instance, ballot) pairs
// and reports decisions via Deliver.
type Learner struct {
	quorumSize int
	logger     log.Logger
	buckets    map[bucketKey]*bucket
	decided    map[paxos.InstanceId]struct{}
	deliver    Deliver
}

// New returns a learner that requires quorumSize distinct acceptor
// votes before calling deliver.
func New(quorumSize int, deliver Deliver, logger log.Logger) *Learner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Learner{
		quorumSize: quorumSize,
		logger:     log.With(logger, "component", "learner"),
		buckets:    make(map[bucketKey]*bucket),
		decided:    make(map[paxos.InstanceId]struct{}),
		deliver:    deliver,
	}
}

// ReceiveAcceptAck folds one acceptor's vote into this learner's view.
// Votes for an instance already decided are ignored.
func (l *Learner) ReceiveAcceptAck(ack paxos.AcceptAck) {
	if _, done := l.decided[ack.Iid]; done {
		return
	}
	key := bucketKey{iid: ack.Iid, ballot: ack.Ballot}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{quorum: paxos.NewQuorum(l.quorumSize), value: ack.Value.Clone()}
		l.buckets[key] = b
	}
	if !b.quorum.Add(ack.AcceptorId) {
		return
	}
	if !b.quorum.Reached() {
		return
	}

	l.decided[ack.Iid] = struct{}{}
	l.logger.Log("msg", "decided", "iid", ack.Iid, "ballot", ack.Ballot)
	for k := range l.buckets {
		if k.iid == ack.Iid {
			delete(l.buckets, k)
		}
	}
	if l.deliver != nil {
		l.deliver(ack.Iid, b.value)
	}
}

// Decided reports whether iid has already been delivered.
func (l *Learner) Decided(iid paxos.InstanceId) bool {
	_, ok := l.decided[iid]
	return ok
}
