// Package metrics wraps the prometheus gauges/counters this module
// exposes, grounded on the teacher's ProposerMetrics{Gauge, Lifespan}
// pattern in stats/stats.go: one struct per role, constructed once and
// threaded through the driver loops, rather than package-level
// globals.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Proposer groups the counters a driver.ProposerLoop updates.
type Proposer struct {
	Prepares    prometheus.Counter
	Accepts     prometheus.Counter
	Preemptions prometheus.Counter
	Decided     prometheus.Counter
}

// NewProposer registers and returns a Proposer metric set labeled with
// this proposer's id.
func NewProposer(reg prometheus.Registerer, proposerId int) *Proposer {
	labels := prometheus.Labels{"proposer_id": strconv.Itoa(proposerId)}
	m := &Proposer{
		Prepares: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paxos_proposer_prepares_total",
			Help:        "Phase-1 requests broadcast by this proposer.",
			ConstLabels: labels,
		}),
		Accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paxos_proposer_accepts_total",
			Help:        "Phase-2 requests broadcast by this proposer.",
			ConstLabels: labels,
		}),
		Preemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paxos_proposer_preemptions_total",
			Help:        "Times this proposer observed a higher ballot and retried.",
			ConstLabels: labels,
		}),
		Decided: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paxos_proposer_decided_total",
			Help:        "Instances this proposer drove to a decision.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Prepares, m.Accepts, m.Preemptions, m.Decided)
	}
	return m
}

// Acceptor groups the counters a driver.AcceptorLoop updates.
type Acceptor struct {
	Promises    prometheus.Counter
	Nacks       prometheus.Counter
	Accepts     prometheus.Counter
	Connections prometheus.Gauge
}

// NewAcceptor registers and returns an Acceptor metric set labeled with
// this acceptor's id.
func NewAcceptor(reg prometheus.Registerer, acceptorId int) *Acceptor {
	labels := prometheus.Labels{"acceptor_id": strconv.Itoa(acceptorId)}
	m := &Acceptor{
		Promises: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paxos_acceptor_promises_total",
			Help:        "Phase-1 requests this acceptor promised.",
			ConstLabels: labels,
		}),
		Nacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paxos_acceptor_nacks_total",
			Help:        "Phase-1 or phase-2 requests this acceptor rejected as stale.",
			ConstLabels: labels,
		}),
		Accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paxos_acceptor_accepts_total",
			Help:        "Phase-2 requests this acceptor accepted.",
			ConstLabels: labels,
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "paxos_acceptor_connected_peers",
			Help:        "Live outbound connections from this acceptor's transport.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Promises, m.Nacks, m.Accepts, m.Connections)
	}
	return m
}
