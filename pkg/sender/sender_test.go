package sender

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/receiver"
	"github.com/kaelbridge/lansend/pkg/storage"
	"github.com/kaelbridge/lansend/pkg/transfer"
)

func startTestReceiver(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	log := logrus.New()
	log.SetOutput(os.Stderr)

	self := model.DeviceInfo{
		Alias:       "receiver",
		Version:     model.ProtocolVersion,
		DeviceType:  model.DeviceTypeHeadless,
		Fingerprint: model.Fingerprint(strings.Repeat("c", 64)),
		Port:        53317,
		Protocol:    model.ProtocolHTTPS,
	}
	r := receiver.New(receiver.Config{Self: self, DownloadDir: dir}, nil, storage.NewFileSystem(dir), log.WithField("component", "receiver"))

	srv := httptest.NewTLSServer(r.Handle())
	return srv, dir
}

func TestSenderEndToEndTextAndFileItems(t *testing.T) {
	srv, dir := startTestReceiver(t)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("file contents"), 0o644))

	self := model.DeviceInfo{
		Alias:       "sender",
		Version:     model.ProtocolVersion,
		DeviceType:  model.DeviceTypeDesktop,
		Fingerprint: model.Fingerprint(strings.Repeat("d", 64)),
		Port:        53318,
		Protocol:    model.ProtocolHTTPS,
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	s := New(self, DefaultOptions(), log.WithField("component", "sender"))

	text := "inline snippet"
	items := []Item{{Path: path}, {Text: &text}}
	machine := transfer.New(len(items))

	err := s.Send(context.Background(), Target{Endpoint: srv.URL}, items, machine)
	require.NoError(t, err)

	snap := machine.Snapshot()
	assert.Equal(t, transfer.Completed, snap.Status)
	assert.Equal(t, 2, snap.Completed)

	data, err := os.ReadFile(filepath.Join(dir, "doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(data))
}

func TestSenderFailsWhenPeerUnreachable(t *testing.T) {
	self := model.DeviceInfo{Alias: "sender", Version: model.ProtocolVersion, Fingerprint: "x", Port: 1, Protocol: model.ProtocolHTTPS}
	opts := DefaultOptions()
	opts.RegisterMaxAttempts = 1
	opts.RegisterBackoffMin = time.Millisecond
	opts.RegisterBackoffMax = time.Millisecond
	opts.RequestTimeout = 500 * time.Millisecond

	log := logrus.New()
	log.SetOutput(os.Stderr)
	s := New(self, opts, log.WithField("component", "sender"))

	machine := transfer.New(1)
	err := s.Send(context.Background(), Target{Endpoint: "https://127.0.0.1:1"}, []Item{{Text: strPtr("x")}}, machine)
	assert.Error(t, err)
}

func strPtr(s string) *string { return &s }
