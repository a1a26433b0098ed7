// Package discovery implements the multicast presence agent and HTTP
// fallback (C4): announce/listen on 224.0.0.167:53317, maintain a peer
// directory, and resolve a send target by alias, fingerprint, or
// ip:port.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/protocol"
)

// DiscoveredPeer is one entry of the PeerDirectory (spec §3).
type DiscoveredPeer struct {
	DeviceInfo model.DeviceInfo
	IP         net.IP
	LastSeen   time.Time
}

// Directory is the receiver-side map from fingerprint to most recently
// observed peer, guarded by a read-preferring lock so UI queries never
// block the announcer (spec §5).
type Directory struct {
	mu              sync.RWMutex
	peers           map[model.Fingerprint]*DiscoveredPeer
	freshnessWindow time.Duration
}

// NewDirectory builds an empty directory that evicts entries unseen for
// longer than freshnessWindow.
func NewDirectory(freshnessWindow time.Duration) *Directory {
	return &Directory{
		peers:           make(map[model.Fingerprint]*DiscoveredPeer),
		freshnessWindow: freshnessWindow,
	}
}

// Upsert inserts or refreshes a peer. Self-fingerprints must be dropped
// by the caller before calling Upsert (see Agent.handleMulticast).
func (d *Directory) Upsert(info model.DeviceInfo, ip net.IP) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[info.Fingerprint] = &DiscoveredPeer{
		DeviceInfo: info,
		IP:         ip,
		LastSeen:   time.Now(),
	}
}

// Snapshot returns every non-stale peer.
func (d *Directory) Snapshot() []DiscoveredPeer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]DiscoveredPeer, 0, len(d.peers))
	now := time.Now()
	for _, p := range d.peers {
		if now.Sub(p.LastSeen) <= d.freshnessWindow {
			out = append(out, *p)
		}
	}
	return out
}

// Evict drops every entry unseen for longer than the freshness window.
func (d *Directory) Evict() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for fp, p := range d.peers {
		if now.Sub(p.LastSeen) > d.freshnessWindow {
			delete(d.peers, fp)
		}
	}
}

// Resolve finds a peer by alias, fingerprint, or a literal "ip:port".
// A literal "ip:port" is checked first and is assumed to speak HTTPS.
// Alias ties break on most-recent LastSeen; multiple live matches with
// identical LastSeen still count as ambiguous.
func (d *Directory) Resolve(target string) (*DiscoveredPeer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if host, portStr, err := net.SplitHostPort(target); err == nil {
		if port, perr := strconv.Atoi(portStr); perr == nil {
			return &DiscoveredPeer{
				DeviceInfo: model.DeviceInfo{
					Alias:    host,
					Port:     model.Port(port),
					Protocol: model.ProtocolHTTPS,
				},
				IP:       net.ParseIP(host),
				LastSeen: time.Now(),
			}, nil
		}
	}

	if p, ok := d.peers[model.Fingerprint(target)]; ok {
		cp := *p
		return &cp, nil
	}

	var best *DiscoveredPeer
	var ambiguous bool
	for _, p := range d.peers {
		if p.DeviceInfo.Alias != target {
			continue
		}
		switch {
		case best == nil:
			best = p
		case p.LastSeen.After(best.LastSeen):
			best = p
			ambiguous = false
		case p.LastSeen.Equal(best.LastSeen):
			ambiguous = true
		}
	}
	if best == nil {
		return nil, protocol.New(protocol.KindPeerNotFound, fmt.Sprintf("no peer matches %q", target))
	}
	if ambiguous {
		return nil, protocol.New(protocol.KindPeerAmbiguous, fmt.Sprintf("multiple peers match alias %q", target))
	}
	cp := *best
	return &cp, nil
}

// Endpoint formats a peer's base URL.
func (p *DiscoveredPeer) Endpoint() string {
	ip := p.IP.String()
	if strings.Contains(ip, ":") {
		ip = "[" + ip + "]"
	}
	return fmt.Sprintf("%s://%s:%d", p.DeviceInfo.Protocol, ip, p.DeviceInfo.Port)
}
