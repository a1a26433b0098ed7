// Package sender implements the client side of the protocol (C7):
// register, prepare-upload, upload each file, and report progress
// through a transfer.Machine. Registration retries on SessionBusy with
// exponential backoff; uploads retry transient failures a bounded
// number of times.
package sender

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/transfer"
)

// Options tunes retry behaviour; the zero value is not usable, call
// DefaultOptions.
type Options struct {
	RegisterBackoffMin  time.Duration
	RegisterBackoffMax  time.Duration
	RegisterMaxAttempts int
	UploadBackoffMin    time.Duration
	UploadBackoffMax    time.Duration
	UploadMaxAttempts   int
	RequestTimeout      time.Duration
}

// DefaultOptions matches spec §4.6's retry budget: base 500ms, factor
// 2, capped at 8s, at most 5 attempts to clear SessionBusy, and up to
// 3 retries per file upload with its own, shorter back-off.
func DefaultOptions() Options {
	return Options{
		RegisterBackoffMin:  500 * time.Millisecond,
		RegisterBackoffMax:  8 * time.Second,
		RegisterMaxAttempts: 5,
		UploadBackoffMin:    250 * time.Millisecond,
		UploadBackoffMax:    4 * time.Second,
		UploadMaxAttempts:   4,
		RequestTimeout:      30 * time.Second,
	}
}

// Target is the resolved peer the sender talks to.
type Target struct {
	Endpoint    string // scheme://ip:port
	Fingerprint model.Fingerprint
}

// Sender sends a set of Items to one Target.
type Sender struct {
	self model.DeviceInfo
	opts Options
	log  *logrus.Entry
	http *http.Client
}

// New builds a Sender; self is the DeviceInfo this process announces
// itself as in /register.
func New(self model.DeviceInfo, opts Options, log *logrus.Entry) *Sender {
	return &Sender{
		self: self,
		opts: opts,
		log:  log,
		http: &http.Client{
			Timeout: opts.RequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Send registers with target, requests upload tokens for items, then
// streams each item, reporting every transition through machine.
// machine must have been constructed with transfer.New(len(items)).
func (s *Sender) Send(ctx context.Context, target Target, items []Item, machine *transfer.Machine) error {
	resolvedItems, err := resolveItems(items)
	if err != nil {
		_ = machine.Cancel(err.Error())
		return fmt.Errorf("prepare items: %w", err)
	}

	files := make(map[model.FileID]model.FileMetadata, len(resolvedItems))
	for _, r := range resolvedItems {
		files[r.meta.ID] = r.meta
	}

	sessionID, err := s.register(ctx, target, files)
	if err != nil {
		_ = machine.Cancel(err.Error())
		return err
	}
	if err := machine.Register(); err != nil {
		return err
	}

	tokens, err := s.prepareUpload(ctx, target, sessionID, files)
	if err != nil {
		s.cancel(ctx, target, sessionID)
		_ = machine.Cancel(err.Error())
		return err
	}
	if err := machine.Prepared(); err != nil {
		return err
	}

	sort.Slice(resolvedItems, func(i, j int) bool {
		return resolvedItems[i].meta.ID < resolvedItems[j].meta.ID
	})

	for _, r := range resolvedItems {
		token, ok := tokens[r.meta.ID]
		if !ok {
			continue
		}
		if err := s.uploadWithRetry(ctx, target, sessionID, r, token); err != nil {
			s.cancel(ctx, target, sessionID)
			_ = machine.Cancel(err.Error())
			return err
		}
		if err := machine.FileCompleted(); err != nil {
			return err
		}
	}

	s.cancel(ctx, target, sessionID)
	return machine.Finish()
}

func (s *Sender) register(ctx context.Context, target Target, files map[model.FileID]model.FileMetadata) (model.SessionID, error) {
	sessionID := newSessionID()
	req := model.RegisterRequest{
		DeviceInfo: s.self,
		SessionID:  sessionID,
		Files:      files,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal register request: %w", err)
	}

	b := &backoff.Backoff{
		Min:    s.opts.RegisterBackoffMin,
		Max:    s.opts.RegisterBackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; attempt <= s.opts.RegisterMaxAttempts; attempt++ {
		resp, err := s.post(ctx, target.Endpoint+"/api/localsend/v2/register", body)
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				var out model.RegisterResponse
				defer resp.Body.Close()
				if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
					return "", fmt.Errorf("decode register response: %w", decErr)
				}
				return sessionID, nil
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusConflict {
				return "", fmt.Errorf("register request failed: %s", resp.Status)
			}
			s.log.Debugf("register attempt %d: peer busy, retrying", attempt)
		} else {
			s.log.WithError(err).Debugf("register attempt %d failed", attempt)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return "", fmt.Errorf("register failed after %d attempts", s.opts.RegisterMaxAttempts)
}

func (s *Sender) prepareUpload(ctx context.Context, target Target, sessionID model.SessionID, files map[model.FileID]model.FileMetadata) (map[model.FileID]model.Token, error) {
	req := model.PrepareUploadRequest{SessionID: sessionID, Files: files}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal prepare-upload request: %w", err)
	}

	resp, err := s.post(ctx, target.Endpoint+"/api/localsend/v2/prepare-upload", body)
	if err != nil {
		return nil, fmt.Errorf("prepare-upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prepare-upload failed: %s", resp.Status)
	}

	var out model.PrepareUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode prepare-upload response: %w", err)
	}
	return out.Files, nil
}

// uploadError carries the HTTP status code (0 for a transport-level
// failure) so uploadWithRetry can tell a transient failure from one
// that retrying will never fix.
type uploadError struct {
	err        error
	statusCode int
}

func (e *uploadError) Error() string { return e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

// retriable reports whether attempting the upload again could plausibly
// succeed: connection-level failures and 5xx/408 responses are
// retriable, any other 4xx is not.
func (e *uploadError) retriable() bool {
	if e.statusCode == 0 {
		return true
	}
	return e.statusCode >= http.StatusInternalServerError || e.statusCode == http.StatusRequestTimeout
}

func (s *Sender) uploadWithRetry(ctx context.Context, target Target, sessionID model.SessionID, r resolved, token model.Token) error {
	b := &backoff.Backoff{
		Min:    s.opts.UploadBackoffMin,
		Max:    s.opts.UploadBackoffMax,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.UploadMaxAttempts; attempt++ {
		err := s.upload(ctx, target, sessionID, r, token)
		if err == nil {
			return nil
		}
		lastErr = err

		var uerr *uploadError
		if ue, ok := err.(*uploadError); ok {
			uerr = ue
		}
		if uerr != nil && !uerr.retriable() {
			return fmt.Errorf("upload %s failed: %w", r.meta.FileName, err)
		}

		s.log.WithError(err).Warnf("upload attempt %d/%d failed for %s", attempt, s.opts.UploadMaxAttempts, r.meta.FileName)
		if attempt == s.opts.UploadMaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return fmt.Errorf("upload %s failed after %d attempts: %w", r.meta.FileName, s.opts.UploadMaxAttempts, lastErr)
}

func (s *Sender) upload(ctx context.Context, target Target, sessionID model.SessionID, r resolved, token model.Token) error {
	reader, err := r.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", r.meta.FileName, err)
	}
	defer reader.Close()

	url := fmt.Sprintf("%s/api/localsend/v2/upload?sessionId=%s&fileId=%s&token=%s",
		target.Endpoint, sessionID, r.meta.ID, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.http.Do(req)
	if err != nil {
		return &uploadError{err: fmt.Errorf("send upload request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &uploadError{
			err:        fmt.Errorf("upload request failed: %s", resp.Status),
			statusCode: resp.StatusCode,
		}
	}
	return nil
}

func (s *Sender) cancel(ctx context.Context, target Target, sessionID model.SessionID) {
	url := fmt.Sprintf("%s/api/localsend/v2/cancel?sessionId=%s", target.Endpoint, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return
	}
	resp, err := s.http.Do(req)
	if err != nil {
		s.log.WithError(err).Warn("failed to send cancel request")
		return
	}
	resp.Body.Close()
}

func (s *Sender) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.http.Do(req)
}

func newSessionID() model.SessionID {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return model.SessionID(fmt.Sprintf("%d", time.Now().UnixNano()))
	}
	return model.SessionID(hex.EncodeToString(buf))
}
