package discovery

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kaelbridge/lansend/pkg/model"
)

// AgentConfig controls the presence agent's timing (spec §4.4).
type AgentConfig struct {
	Multicast        MulticastConfig
	HTTP             HTTPConfig
	AnnounceInterval time.Duration
	FreshnessWindow  time.Duration
	EvictInterval    time.Duration
}

// DefaultAgentConfig matches spec §4.4's defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Multicast:        DefaultMulticastConfig(),
		HTTP:             DefaultHTTPConfig(),
		AnnounceInterval: 1 * time.Second,
		FreshnessWindow:  2 * time.Minute,
		EvictInterval:    30 * time.Second,
	}
}

// Agent coordinates the multicast announcer/listener, the HTTP
// fallback probe, and the peer Directory behind a single lifecycle
// (spec C4). It never blocks a caller's Resolve/Directory read on
// network I/O.
type Agent struct {
	cfg AgentConfig
	log *logrus.Entry

	self      model.DeviceInfo
	multicast *Multicast
	http      *HTTPProbe
	dir       *Directory

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewAgent builds an Agent that will announce self on the network.
func NewAgent(cfg AgentConfig, self model.DeviceInfo, log *logrus.Entry) (*Agent, error) {
	mc, err := NewMulticast(cfg.Multicast, log)
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:       cfg,
		log:       log,
		self:      self,
		multicast: mc,
		http:      NewHTTPProbe(cfg.HTTP, log),
		dir:       NewDirectory(cfg.FreshnessWindow),
	}, nil
}

// Start begins listening, periodic announcing, and stale-entry
// eviction, all tied to an internally derived context. Call Stop to
// tear everything down.
func (a *Agent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	group, runCtx := errgroup.WithContext(runCtx)
	a.group = group

	if err := a.multicast.Listen(runCtx, a.handleMulticast); err != nil {
		cancel()
		return err
	}

	group.Go(func() error {
		a.announceLoop(runCtx)
		return nil
	})
	group.Go(func() error {
		a.evictLoop(runCtx)
		return nil
	})

	if err := a.multicast.Announce(a.message()); err != nil {
		a.log.WithError(err).Warn("initial discovery announcement failed")
	}
	return nil
}

// Stop halts the announcer, listener, and evictor and waits for their
// goroutines to return.
func (a *Agent) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.multicast.Stop()
	if a.group != nil {
		a.group.Wait()
	}
}

func (a *Agent) message() model.MulticastMessage {
	return model.MulticastMessage{DeviceInfo: a.self}
}

func (a *Agent) handleMulticast(msg model.MulticastMessage, addr *net.UDPAddr) {
	if msg.Fingerprint == a.self.Fingerprint {
		return
	}
	a.dir.Upsert(msg.DeviceInfo, addr.IP)
	a.log.Debugf("discovered peer %s (%s) at %s", msg.Alias, msg.Fingerprint, addr.IP)

	if msg.Announce {
		if err := a.multicast.Respond(a.message(), addr); err != nil {
			a.log.WithError(err).Warn("failed to send discovery response")
		}
	}
}

func (a *Agent) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.multicast.Announce(a.message()); err != nil {
				a.log.WithError(err).Warn("periodic discovery announcement failed")
			}
		}
	}
}

func (a *Agent) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.dir.Evict()
		}
	}
}

// Discover re-announces every AnnounceInterval for the given window,
// pulsing presence the way a client does on startup, and collects
// peers observed over that time, including any already present in the
// directory.
func (a *Agent) Discover(ctx context.Context, window time.Duration) ([]DiscoveredPeer, error) {
	if err := a.multicast.Announce(a.message()); err != nil {
		a.log.WithError(err).Warn("discovery announcement failed")
	}

	ticker := time.NewTicker(a.cfg.AnnounceInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(window)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.dir.Snapshot(), ctx.Err()
		case <-deadline.C:
			return a.dir.Snapshot(), nil
		case <-ticker.C:
			if err := a.multicast.Announce(a.message()); err != nil {
				a.log.WithError(err).Warn("discovery pulse announcement failed")
			}
		}
	}
}

// ScanHTTP falls back to probing over HTTP(S) when multicast discovery
// is blocked, merging any answers into the directory. It probes only
// the addresses HTTPProbe.ScanLocalNetwork enumerates (this host's own
// interface addresses and loopback), not other hosts on the subnet.
func (a *Agent) ScanHTTP(ctx context.Context, port model.Port) ([]DiscoveredPeer, error) {
	peers, err := a.http.ScanLocalNetwork(ctx, port)
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		if p.DeviceInfo.Fingerprint == a.self.Fingerprint {
			continue
		}
		a.dir.Upsert(p.DeviceInfo, p.IP)
	}
	return a.dir.Snapshot(), nil
}

// Resolve looks up a send target by alias, fingerprint, or ip:port.
func (a *Agent) Resolve(target string) (*DiscoveredPeer, error) {
	return a.dir.Resolve(target)
}

// Directory exposes the underlying peer directory for direct reads.
func (a *Agent) Directory() *Directory {
	return a.dir
}
