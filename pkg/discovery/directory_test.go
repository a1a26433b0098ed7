package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/protocol"
)

func TestResolveByFingerprint(t *testing.T) {
	d := NewDirectory(time.Minute)
	d.Upsert(model.DeviceInfo{Alias: "desk", Fingerprint: "abc123"}, net.ParseIP("192.168.1.10"))

	peer, err := d.Resolve("abc123")
	require.NoError(t, err)
	assert.Equal(t, "desk", peer.DeviceInfo.Alias)
}

func TestResolveByAlias(t *testing.T) {
	d := NewDirectory(time.Minute)
	d.Upsert(model.DeviceInfo{Alias: "laptop", Fingerprint: "fp1"}, net.ParseIP("10.0.0.1"))

	peer, err := d.Resolve("laptop")
	require.NoError(t, err)
	assert.Equal(t, model.Fingerprint("fp1"), peer.DeviceInfo.Fingerprint)
}

func TestResolveByIPPortLiteral(t *testing.T) {
	d := NewDirectory(time.Minute)

	peer, err := d.Resolve("192.168.1.50:53317")
	require.NoError(t, err)
	assert.Equal(t, model.Port(53317), peer.DeviceInfo.Port)
	assert.Equal(t, "192.168.1.50", peer.IP.String())
}

func TestResolveUnknownAliasIsPeerNotFound(t *testing.T) {
	d := NewDirectory(time.Minute)
	_, err := d.Resolve("nobody")
	require.Error(t, err)
	assert.Equal(t, protocol.KindPeerNotFound, protocol.KindOf(err))
}

func TestResolveAmbiguousAlias(t *testing.T) {
	d := NewDirectory(time.Minute)
	now := time.Now()
	d.peers["fp-a"] = &DiscoveredPeer{DeviceInfo: model.DeviceInfo{Alias: "dup", Fingerprint: "fp-a"}, LastSeen: now}
	d.peers["fp-b"] = &DiscoveredPeer{DeviceInfo: model.DeviceInfo{Alias: "dup", Fingerprint: "fp-b"}, LastSeen: now}

	_, err := d.Resolve("dup")
	require.Error(t, err)
	assert.Equal(t, protocol.KindPeerAmbiguous, protocol.KindOf(err))
}

func TestEvictDropsStaleEntries(t *testing.T) {
	d := NewDirectory(10 * time.Millisecond)
	d.Upsert(model.DeviceInfo{Alias: "stale", Fingerprint: "fp-stale"}, net.ParseIP("10.0.0.2"))

	time.Sleep(20 * time.Millisecond)
	d.Evict()

	assert.Empty(t, d.Snapshot())
}

func TestEndpointFormatsIPv6WithBrackets(t *testing.T) {
	p := &DiscoveredPeer{
		DeviceInfo: model.DeviceInfo{Protocol: model.ProtocolHTTPS, Port: 53317},
		IP:         net.ParseIP("::1"),
	}
	assert.Equal(t, "https://[::1]:53317", p.Endpoint())
}
