package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MinbinGong/paxos/config"
	"github.com/MinbinGong/paxos/learner"
	"github.com/MinbinGong/paxos/paxos"
	"github.com/MinbinGong/paxos/transport"
)

// TestEndToEndSingleAcceptorDecision wires one proposer and one
// acceptor over real loopback TCP connections and drives a full
// prepare/accept round, checking that the learner observes a
// decision. Quorum size 1 keeps this a single-round-trip test; the
// proposer/acceptor unit tests cover multi-acceptor arbitration.
func TestEndToEndSingleAcceptorDecision(t *testing.T) {
	cluster := &config.Cluster{
		Acceptors:    []config.Endpoint{{Id: 0, Addr: "127.0.0.1:0"}},
		Proposers:    []config.Endpoint{{Id: 0, Addr: "127.0.0.1:0"}},
		MaxProposers: 10,
	}

	acceptorSelf := transport.Peer{Id: 0, Addr: "127.0.0.1:19401"}
	proposerSelf := transport.Peer{Id: 0, Addr: "127.0.0.1:19402"}

	acceptorTm := transport.NewManager(acceptorSelf, []transport.Peer{proposerSelf}, nil, nil)
	require.NoError(t, acceptorTm.Listen())
	proposerTm := transport.NewManager(proposerSelf, []transport.Peer{acceptorSelf}, nil, nil)
	require.NoError(t, proposerTm.Listen())

	proposerTm.Dial()
	acceptorTm.Dial()
	waitForConnection(t, acceptorTm)
	waitForConnection(t, proposerTm)

	decided := make(chan paxos.Value, 1)
	lrn := learner.New(cluster.QuorumSize(), func(iid paxos.InstanceId, value paxos.Value) {
		decided <- value
	}, nil)

	acceptorLoop := NewAcceptorLoop(0, acceptorTm, lrn, nil, nil)
	go func() {
		for d := range acceptorTm.Inbox {
			acceptorLoop.HandleDelivery(d.FromPeerId, d.Envelope)
		}
	}()

	proposerLoop := NewProposerLoop(cluster, 0, proposerTm, nil, nil)
	go func() {
		for d := range proposerTm.Inbox {
			proposerLoop.HandleDelivery(d.Envelope)
			proposerLoop.DrainAccepts()
		}
	}()

	proposerLoop.Submit(paxos.Value("decide me"))

	select {
	case v := <-decided:
		require.Equal(t, paxos.Value("decide me"), v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a decision")
	}
}

func waitForConnection(t *testing.T, tm *transport.Manager) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tm.ConnectedPeers() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("transport never connected to its peer")
}
