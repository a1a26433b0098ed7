// Package discovery implements the multicast presence agent and HTTP
// fallback (C4): announce/listen on 224.0.0.167:53317, maintain a peer
// directory, and resolve a send target by alias, fingerprint, or
// ip:port.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/kaelbridge/lansend/pkg/model"
)

// MulticastGroup and MulticastPort are the organisation-local scope
// group and port the protocol announces/listens on (spec §4.4/§6).
const (
	MulticastGroup = "224.0.0.167"
	MulticastPort  = 53317
	multicastTTL   = 4
)

// MulticastConfig tunes the announcer/listener.
type MulticastConfig struct {
	Address  string
	TTL      int
	Loopback bool
}

// DefaultMulticastConfig matches spec §4.4.
func DefaultMulticastConfig() MulticastConfig {
	return MulticastConfig{
		Address:  fmt.Sprintf("%s:%d", MulticastGroup, MulticastPort),
		TTL:      multicastTTL,
		Loopback: true,
	}
}

// Multicast owns the listening socket and dispatches every packet it
// decodes to the callback passed to Listen.
type Multicast struct {
	cfg       MulticastConfig
	log       *logrus.Entry
	listenRaw net.PacketConn
	groupAddr *net.UDPAddr
}

// NewMulticast constructs a Multicast collaborator; it does not bind
// any sockets until Listen is called.
func NewMulticast(cfg MulticastConfig, log *logrus.Entry) (*Multicast, error) {
	addr, err := net.ResolveUDPAddr("udp4", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast address: %w", err)
	}
	return &Multicast{cfg: cfg, log: log, groupAddr: addr}, nil
}

// Listen binds the listening socket, joins the group, applies
// TTL/loopback via golang.org/x/net/ipv4, and dispatches decoded
// packets to onPacket until ctx is cancelled.
func (m *Multicast) Listen(ctx context.Context, onPacket func(model.MulticastMessage, *net.UDPAddr)) error {
	conn, err := net.ListenMulticastUDP("udp4", nil, m.groupAddr)
	if err != nil {
		return fmt.Errorf("listen multicast: %w", err)
	}
	conn.SetReadBuffer(2048)

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(m.cfg.TTL); err != nil {
		m.log.WithError(err).Warn("failed to set multicast TTL")
	}
	if err := pc.SetMulticastLoopback(m.cfg.Loopback); err != nil {
		m.log.WithError(err).Warn("failed to set multicast loopback")
	}

	m.listenRaw = conn

	go m.listenLoop(ctx, conn, onPacket)
	m.log.Infof("multicast listening on %s", m.cfg.Address)
	return nil
}

func (m *Multicast) listenLoop(ctx context.Context, conn net.PacketConn, onPacket func(model.MulticastMessage, *net.UDPAddr)) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			m.log.WithError(err).Debug("multicast read error")
			continue
		}

		var msg model.MulticastMessage
		if jerr := json.Unmarshal(buf[:n], &msg); jerr != nil {
			m.log.WithError(jerr).Debug("malformed multicast packet")
			continue
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		onPacket(msg, udpAddr)
	}
}

// Stop closes the listening socket, unblocking listenLoop.
func (m *Multicast) Stop() {
	if m.listenRaw != nil {
		m.listenRaw.Close()
	}
}

// Announce sends msg (with Announce=true) to the multicast group from
// an ephemeral local port.
func (m *Multicast) Announce(msg model.MulticastMessage) error {
	msg.Announce = true
	return m.send(msg, m.groupAddr)
}

// Respond unicasts msg (with Announce=false) back to a specific peer
// address in reply to its announcement.
func (m *Multicast) Respond(msg model.MulticastMessage, to *net.UDPAddr) error {
	msg.Announce = false
	return m.send(msg, to)
}

func (m *Multicast) send(msg model.MulticastMessage, to *net.UDPAddr) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal multicast message: %w", err)
	}
	conn, err := net.DialUDP("udp4", nil, to)
	if err != nil {
		return fmt.Errorf("dial multicast peer: %w", err)
	}
	defer conn.Close()
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(m.cfg.TTL); err != nil {
		m.log.WithError(err).Debug("failed to set multicast TTL on send socket")
	}
	if err := pc.SetMulticastLoopback(m.cfg.Loopback); err != nil {
		m.log.WithError(err).Debug("failed to set multicast loopback on send socket")
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write multicast message: %w", err)
	}
	return nil
}
