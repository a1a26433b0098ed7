package discovery

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/network"
)

// HTTPConfig tunes the fallback HTTP /info probe used when multicast
// is unavailable (spec §4.4).
type HTTPConfig struct {
	RequestTimeout time.Duration
}

// DefaultHTTPConfig matches spec §4.4's fallback timing.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{RequestTimeout: 2 * time.Second}
}

// HTTPProbe fetches /api/localsend/v2/info from candidate addresses.
// The client accepts any self-signed certificate since peer trust is
// established by fingerprint, not by certificate chain (spec C1).
type HTTPProbe struct {
	cfg    HTTPConfig
	client *http.Client
	log    *logrus.Entry
}

// NewHTTPProbe builds a probe client with insecure TLS verification,
// matching how a receiver's self-signed certificate is actually
// trusted in this protocol.
func NewHTTPProbe(cfg HTTPConfig, log *logrus.Entry) *HTTPProbe {
	return &HTTPProbe{
		cfg: cfg,
		log: log,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (p *HTTPProbe) fetchInfo(ctx context.Context, ip net.IP, port model.Port, scheme model.Protocol) (DiscoveredPeer, error) {
	url := fmt.Sprintf("%s://%s:%d/api/localsend/v2/info", scheme, ip.String(), port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DiscoveredPeer{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return DiscoveredPeer{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DiscoveredPeer{}, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DiscoveredPeer{}, fmt.Errorf("read response body: %w", err)
	}

	var info model.DeviceInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return DiscoveredPeer{}, fmt.Errorf("parse response body: %w", err)
	}
	info.Port = port
	info.Protocol = scheme

	return DiscoveredPeer{DeviceInfo: info, IP: ip, LastSeen: time.Now()}, nil
}

// FetchDeviceInfo tries HTTPS first (the app default), then HTTP.
func (p *HTTPProbe) FetchDeviceInfo(ctx context.Context, ip net.IP, port model.Port) (DiscoveredPeer, error) {
	peer, err := p.fetchInfo(ctx, ip, port, model.ProtocolHTTPS)
	if err != nil {
		peer, err = p.fetchInfo(ctx, ip, port, model.ProtocolHTTP)
	}
	return peer, err
}

// ScanNetwork probes every ip:port pair concurrently and returns every
// peer that answered.
func (p *HTTPProbe) ScanNetwork(ctx context.Context, ips []net.IP, port model.Port) []DiscoveredPeer {
	var wg sync.WaitGroup
	found := make(chan DiscoveredPeer, len(ips))

	for _, ip := range ips {
		wg.Add(1)
		go func(ip net.IP) {
			defer wg.Done()
			peer, err := p.FetchDeviceInfo(ctx, ip, port)
			if err != nil {
				p.log.WithError(err).Debugf("http probe failed for %s:%d", ip, port)
				return
			}
			found <- peer
		}(ip)
	}

	wg.Wait()
	close(found)

	var peers []DiscoveredPeer
	for peer := range found {
		peers = append(peers, peer)
	}
	return peers
}

// ScanLocalNetwork probes every local non-loopback interface address
// plus loopback itself, on port.
func (p *HTTPProbe) ScanLocalNetwork(ctx context.Context, port model.Port) ([]DiscoveredPeer, error) {
	ips, err := network.GetLocalIPAddresses()
	if err != nil {
		return nil, fmt.Errorf("enumerate local addresses: %w", err)
	}
	ips = append(ips, net.ParseIP("127.0.0.1"))
	return p.ScanNetwork(ctx, ips, port), nil
}
