package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MinbinGong/paxos/config"
	"github.com/MinbinGong/paxos/driver"
	"github.com/MinbinGong/paxos/learner"
	"github.com/MinbinGong/paxos/metrics"
	"github.com/MinbinGong/paxos/paxos"
	"github.com/MinbinGong/paxos/transport"
)

var (
	configFile   string
	role         string
	id           int
	metricsAddr  string
	instanceUUID = uuid.NewString()
)

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "run", instanceUUID)

	root := &cobra.Command{
		Use:   "paxosd",
		Short: "Runs one acceptor or proposer node of a paxos cluster.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(logger)
		},
	}
	root.Flags().StringVar(&configFile, "config", "", "Path to cluster configuration file (required).")
	root.Flags().StringVar(&role, "role", "", "acceptor or proposer (required).")
	root.Flags().IntVar(&id, "id", -1, "This node's id within its role's list in the config file (required).")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9100).")
	root.MarkFlagRequired("config")
	root.MarkFlagRequired("role")
	root.MarkFlagRequired("id")

	if err := root.Execute(); err != nil {
		logger.Log("msg", "fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	cluster, err := config.Load(configFile)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logger.Log("msg", "metrics server stopped", "error", http.ListenAndServe(metricsAddr, mux))
		}()
	}

	switch role {
	case "acceptor":
		return runAcceptor(cluster, reg, logger)
	case "proposer":
		return runProposer(cluster, reg, logger)
	default:
		return fmt.Errorf("unknown role %q, want acceptor or proposer", role)
	}
}

func runAcceptor(cluster *config.Cluster, reg prometheus.Registerer, logger log.Logger) error {
	self, peers, err := selfAndPeers(cluster.Acceptors, id)
	if err != nil {
		return err
	}
	connGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paxos_acceptor_transport_connections",
		Help: "Live transport connections for this acceptor.",
	})
	reg.MustRegister(connGauge)

	tm := transport.NewManager(self, peers, logger, connGauge)
	if err := tm.Listen(); err != nil {
		return err
	}
	tm.Dial()
	shutdownOnSignal(tm, logger)

	lrn := learner.New(cluster.QuorumSize(), func(iid paxos.InstanceId, value paxos.Value) {
		logger.Log("msg", "decided", "iid", iid, "bytes", len(value))
	}, logger)

	loop := driver.NewAcceptorLoop(paxos.AcceptorId(id), tm, lrn, metrics.NewAcceptor(reg, id), logger)

	for delivery := range tm.Inbox {
		loop.HandleDelivery(delivery.FromPeerId, delivery.Envelope)
	}
	return nil
}

// shutdownOnSignal retires tm's mailbox on SIGINT/SIGTERM so the
// range loops reading tm.Inbox in runAcceptor/runProposer exit
// cleanly instead of blocking forever once the process is asked to
// stop.
func shutdownOnSignal(tm *transport.Manager, logger log.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Log("msg", "shutting down", "signal", sig)
		tm.Shutdown()
	}()
}

func runProposer(cluster *config.Cluster, reg prometheus.Registerer, logger log.Logger) error {
	self, peers, err := selfAndPeers(cluster.Proposers, id)
	if err != nil {
		return err
	}
	acceptorPeers := make([]transport.Peer, len(cluster.Acceptors))
	for i, a := range cluster.Acceptors {
		acceptorPeers[i] = transport.Peer{Id: a.Id, Addr: a.Addr}
	}
	_ = peers // proposers don't talk to each other in this deployment shape

	tm := transport.NewManager(self, acceptorPeers, logger, nil)
	if err := tm.Listen(); err != nil {
		return err
	}
	tm.Dial()
	shutdownOnSignal(tm, logger)

	loop := driver.NewProposerLoop(cluster, id, tm, metrics.NewProposer(reg, id), logger)

	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case delivery, ok := <-tm.Inbox:
			if !ok {
				return nil
			}
			loop.HandleDelivery(delivery.Envelope)
		case <-tick.C:
			loop.DrainAccepts()
			loop.RetryStalled(time.Now())
		}
	}
}

func selfAndPeers(endpoints []config.Endpoint, selfId int) (transport.Peer, []transport.Peer, error) {
	var self transport.Peer
	found := false
	peers := make([]transport.Peer, 0, len(endpoints))
	for _, e := range endpoints {
		p := transport.Peer{Id: e.Id, Addr: e.Addr}
		if e.Id == selfId {
			self = p
			found = true
			continue
		}
		peers = append(peers, p)
	}
	if !found {
		return transport.Peer{}, nil, fmt.Errorf("id %d not found among configured endpoints", selfId)
	}
	return self, peers, nil
}
