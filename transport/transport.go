// Package transport is the TCP "wire/event shim" spec.md §6 treats as
// an external collaborator: it dials/accepts connections to configured
// peers, frames messages with the wire package, and serializes
// delivery onto a single dispatch channel per local engine — acceptors
// and proposers never see more than one goroutine touching their
// state, matching spec.md §5's single-threaded cooperative model.
package transport

import (
	"bufio"
	"net"
	"sync"

	"github.com/go-kit/kit/log"
	cc "github.com/msackman/chancell"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MinbinGong/paxos/wire"
)

// Peer is one configured remote endpoint.
type Peer struct {
	Id   int
	Addr string
}

// Delivery pairs a decoded message with the peer id it arrived from
// (0 for messages read from a connection accepted by Listen, whose
// sender is not identified).
type Delivery struct {
	FromPeerId int
	Envelope   wire.Envelope
}

// Manager owns the set of connections to configured peers and the
// inbound dispatch channel engines read from. It is the only place in
// this module that spawns goroutines per connection; everything it
// hands to a caller has already been funneled through Inbox, so a
// driver reading Inbox in a single loop sees one message at a time
// regardless of how many peers are talking concurrently.
//
// Inbox enqueueing goes through a chancell mailbox rather than a bare
// channel send, the way the teacher's Connection/ConnectionManager
// actors do it: readLoop goroutines never hold a reference to the raw
// channel, only to enqueueDelivery, so Shutdown can retire the
// current generation (closing Inbox) without a send racing a close.
type Manager struct {
	logger log.Logger
	self   Peer
	peers  []Peer

	mu    sync.Mutex
	conns map[int]net.Conn

	Inbox <-chan Delivery

	cellTail          *cc.ChanCellTail
	enqueueInboxInner func(Delivery, *cc.ChanCell, cc.CurCellConsumer) (bool, cc.CurCellConsumer)

	connGauge prometheus.Gauge
}

// NewManager returns a transport manager for self, with peers as the
// full set of remote endpoints (acceptors or proposers) it may talk
// to. connGauge may be nil.
func NewManager(self Peer, peers []Peer, logger log.Logger, connGauge prometheus.Gauge) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &Manager{
		logger:    log.With(logger, "component", "transport", "peerId", self.Id),
		self:      self,
		peers:     peers,
		conns:     make(map[int]net.Conn),
		connGauge: connGauge,
	}
	_, m.cellTail = cc.NewChanCellTail(
		func(n int, cell *cc.ChanCell) {
			inbox := make(chan Delivery, 256)
			cell.Open = func() { m.Inbox = inbox }
			cell.Close = func() { close(inbox) }
			m.enqueueInboxInner = func(d Delivery, curCell *cc.ChanCell, cont cc.CurCellConsumer) (bool, cc.CurCellConsumer) {
				if curCell == cell {
					select {
					case inbox <- d:
						return true, nil
					default:
						return false, nil
					}
				}
				return false, cont
			}
		})
	return m
}

// enqueueDelivery hands d to the current Inbox generation, retrying
// against a newer generation if one opened mid-call (the same
// capture-and-retry pattern as the teacher's Connection.enqueueQuery).
// It reports false once Shutdown has terminated the mailbox.
func (m *Manager) enqueueDelivery(d Delivery) bool {
	var f cc.CurCellConsumer
	f = func(cell *cc.ChanCell) (bool, cc.CurCellConsumer) {
		return m.enqueueInboxInner(d, cell, f)
	}
	return m.cellTail.WithCell(f)
}

// Shutdown retires the Inbox mailbox, closing the channel any driver
// loop is ranging over. Safe to call once; further enqueue attempts
// (in-flight readLoop goroutines) simply report false and return.
func (m *Manager) Shutdown() {
	m.cellTail.Terminate()
}

// ShutdownAndWait retires the mailbox and blocks until the generation
// has fully drained and closed.
func (m *Manager) ShutdownAndWait() {
	m.cellTail.Terminate()
	m.cellTail.Wait()
}

// Listen starts accepting inbound connections on self.Addr. Each
// accepted connection is read in its own goroutine; decoded messages
// are pushed to Inbox.
func (m *Manager) Listen() error {
	ln, err := net.Listen("tcp", m.self.Addr)
	if err != nil {
		return err
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				m.logger.Log("msg", "accept loop stopped", "error", err)
				return
			}
			go m.readLoop(0, conn)
		}
	}()
	return nil
}

// Dial establishes an outbound connection to every configured peer. A
// failed dial just leaves that peer absent from conns; nothing in this
// module redials it, though DialPeer can be called again.
func (m *Manager) Dial() {
	for _, p := range m.peers {
		m.DialPeer(p)
	}
}

// DialPeer (re)establishes the outbound connection to one peer.
func (m *Manager) DialPeer(p Peer) {
	conn, err := net.Dial("tcp", p.Addr)
	if err != nil {
		m.logger.Log("msg", "dial failed", "peerId", p.Id, "addr", p.Addr, "error", err)
		return
	}
	m.mu.Lock()
	m.conns[p.Id] = conn
	if m.connGauge != nil {
		m.connGauge.Inc()
	}
	m.mu.Unlock()
	go m.readLoop(p.Id, conn)
}

func (m *Manager) readLoop(peerId int, conn net.Conn) {
	defer m.dropConn(peerId, conn)
	r := bufio.NewReader(conn)
	for {
		env, err := wire.Read(r)
		if err == wire.ErrOversize {
			m.logger.Log("msg", "oversize message discarded", "peerId", peerId)
			continue
		}
		if err != nil {
			m.logger.Log("msg", "connection closed", "peerId", peerId, "error", err)
			return
		}
		if !m.enqueueDelivery(Delivery{FromPeerId: peerId, Envelope: env}) {
			return
		}
	}
}

func (m *Manager) dropConn(peerId int, conn net.Conn) {
	conn.Close()
	m.mu.Lock()
	if m.conns[peerId] == conn {
		delete(m.conns, peerId)
		if m.connGauge != nil {
			m.connGauge.Dec()
		}
	}
	m.mu.Unlock()
}

// Unicast sends env to exactly one peer. Used for prepare-acks and
// for nacked accept-acks (spec.md §4.1's broadcast policy).
func (m *Manager) Unicast(peerId int, env wire.Envelope) error {
	m.mu.Lock()
	conn := m.conns[peerId]
	m.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	return wire.Write(conn, env)
}

// Broadcast sends env to every currently connected peer. Used for
// proposer prepare/accept requests, and for accept-acks that just
// became a genuine accept (not a nack) so learners observe the vote.
func (m *Manager) Broadcast(env wire.Envelope) {
	m.mu.Lock()
	conns := make([]net.Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		if err := wire.Write(c, env); err != nil {
			m.logger.Log("msg", "broadcast write failed", "error", err)
		}
	}
}

// ConnectedPeers reports how many outbound connections are currently
// live.
func (m *Manager) ConnectedPeers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
