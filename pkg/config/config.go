// Package config assembles runtime settings for a lansend process from
// environment variables, with sane defaults. It is a thin edge layer:
// pkg/receiver, pkg/sender, and pkg/discovery never read the
// environment themselves, they only take constructor arguments.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/kaelbridge/lansend/pkg/identity"
	"github.com/kaelbridge/lansend/pkg/model"
)

const (
	DefaultPort         = 53317
	DefaultSecurityDir  = ".lansend"
	DefaultIdentityFile = "identity.json"
)

// Config is the resolved set of knobs cmd/lansend passes to the
// façade. Protocol selects HTTP or HTTPS at start time (spec §4.6);
// peer trust rests on the certificate fingerprint exchanged out of
// band, not on a CA chain, so plain HTTP is a legitimate choice when
// TLS termination happens elsewhere or for local testing.
type Config struct {
	Alias        string
	Port         model.Port
	Protocol     model.Protocol
	DeviceModel  *string
	DeviceType   model.DeviceType
	Identity     *identity.Context
	IdentityPath string
	DownloadDir  string
}

// Load resolves a Config from the environment, generating and
// persisting a new TLS identity on first run. log is used only for the
// handful of non-fatal warnings this bootstrap step can hit.
func Load(log *logrus.Entry) (*Config, error) {
	alias := os.Getenv("LANSEND_ALIAS")
	if alias == "" {
		alias = defaultAlias()
	}

	port := model.Port(DefaultPort)
	if raw := os.Getenv("LANSEND_PORT"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 && p < 65536 {
			port = model.Port(p)
		}
	}

	downloadDir := os.Getenv("LANSEND_DOWNLOAD_DIR")
	if downloadDir == "" {
		downloadDir = "./downloads"
	}

	proto := model.ProtocolHTTPS
	if raw := model.Protocol(os.Getenv("LANSEND_PROTOCOL")); raw.Valid() {
		proto = raw
	}

	exePath, err := os.Executable()
	if err != nil {
		log.WithError(err).Warn("could not resolve executable path, using current directory for identity file")
		exePath = "."
	}
	identityDir := filepath.Join(filepath.Dir(exePath), DefaultSecurityDir)
	identityPath := filepath.Join(identityDir, DefaultIdentityFile)

	if err := os.MkdirAll(identityDir, 0o700); err != nil {
		log.WithError(err).Warnf("could not create identity directory %s", identityDir)
	}

	ctx, err := identity.LoadOrGenerate(alias, identityPath)
	if err != nil {
		return nil, fmt.Errorf("load or generate identity: %w", err)
	}

	deviceModel := "GoDevice"

	return &Config{
		Alias:        alias,
		Port:         port,
		Protocol:     proto,
		DeviceModel:  &deviceModel,
		DeviceType:   model.DeviceTypeHeadless,
		Identity:     ctx,
		IdentityPath: identityPath,
		DownloadDir:  downloadDir,
	}, nil
}

func defaultAlias() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "lansend"
	}
	return hostname
}

// DeviceInfo builds the wire DTO this process announces and registers
// with, reflecting the current identity's fingerprint.
func (c *Config) DeviceInfo() model.DeviceInfo {
	return model.DeviceInfo{
		Alias:       c.Alias,
		Version:     model.ProtocolVersion,
		DeviceModel: c.DeviceModel,
		DeviceType:  c.DeviceType,
		Fingerprint: c.Identity.Fingerprint,
		Port:        c.Port,
		Protocol:    c.Protocol,
		Download:    false,
	}
}
