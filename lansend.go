// Package lansend is the root façade over the discovery agent, the
// receiver, and the sender: the three operations spec §6 exposes to a
// caller (Discover, Receive, Send), wired over the shared config,
// identity, and logging collaborators.
package lansend

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kaelbridge/lansend/pkg/config"
	"github.com/kaelbridge/lansend/pkg/discovery"
	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/receiver"
	"github.com/kaelbridge/lansend/pkg/sender"
	"github.com/kaelbridge/lansend/pkg/storage"
	"github.com/kaelbridge/lansend/pkg/transfer"
)

// Node bundles one process's identity with the three collaborators it
// can run: an Agent for presence, a Receiver for inbound transfers,
// and outbound Send calls through a Sender.
type Node struct {
	cfg   *config.Config
	log   *logrus.Logger
	agent *discovery.Agent
}

// NewNode wires a Node from cfg, ready for StartDiscovery.
func NewNode(cfg *config.Config, log *logrus.Logger) (*Node, error) {
	agent, err := discovery.NewAgent(discovery.DefaultAgentConfig(), cfg.DeviceInfo(), logging(log, "discovery"))
	if err != nil {
		return nil, fmt.Errorf("build discovery agent: %w", err)
	}
	return &Node{cfg: cfg, log: log, agent: agent}, nil
}

func logging(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}

// StartDiscovery begins the background announce/listen/evict loops.
func (n *Node) StartDiscovery(ctx context.Context) error {
	return n.agent.Start(ctx)
}

// StopDiscovery halts the discovery agent.
func (n *Node) StopDiscovery() {
	n.agent.Stop()
}

// Discover performs a bounded discovery sweep and returns every peer
// observed. If multicast finds nothing within the window it falls back
// to an HTTP /info probe of this host's own interface addresses and
// loopback (Agent.ScanHTTP); other hosts on the subnet are not probed.
func (n *Node) Discover(ctx context.Context, window time.Duration) ([]discovery.DiscoveredPeer, error) {
	peers, err := n.agent.Discover(ctx, window)
	if err != nil {
		return nil, err
	}
	if len(peers) > 0 {
		return peers, nil
	}
	return n.agent.ScanHTTP(ctx, config.DefaultPort)
}

// Resolve looks up a send target by alias, fingerprint, or ip:port
// against the live discovery directory.
func (n *Node) Resolve(target string) (*discovery.DiscoveredPeer, error) {
	return n.agent.Resolve(target)
}

// Receiver builds a Receiver bound to this node's identity and
// download directory. The caller owns its lifecycle (ListenAndServeTLS
// / Shutdown).
func (n *Node) Receiver() *receiver.Receiver {
	return receiver.New(
		receiver.Config{Self: n.cfg.DeviceInfo(), DownloadDir: n.cfg.DownloadDir},
		n.cfg.Identity,
		storage.NewFileSystem(n.cfg.DownloadDir),
		logging(n.log, "receiver"),
	)
}

// Send transfers items to target, driving a transfer.Machine the
// caller can poll (or ignore) for progress. A target that parses as a
// literal "ip:port" is used as-is; otherwise it is looked up in the
// live discovery directory by fingerprint, then by alias.
func (n *Node) Send(ctx context.Context, target string, items []sender.Item) (*transfer.Machine, error) {
	peer, err := n.agent.Resolve(target)
	if err != nil {
		return nil, err
	}

	machine := transfer.New(len(items))
	s := sender.New(n.cfg.DeviceInfo(), sender.DefaultOptions(), logging(n.log, "sender"))

	go func() {
		if err := s.Send(ctx, sender.Target{
			Endpoint:    peer.Endpoint(),
			Fingerprint: peer.DeviceInfo.Fingerprint,
		}, items, machine); err != nil {
			n.log.WithError(err).Warnf("send to %s failed", target)
		}
	}()

	return machine, nil
}

// SelfInfo returns this node's own wire-visible DeviceInfo.
func (n *Node) SelfInfo() model.DeviceInfo {
	return n.cfg.DeviceInfo()
}
