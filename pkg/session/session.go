// Package session implements the receiver-side Session Manager (C5): a
// single-slot active session with per-file token issuance, idle expiry,
// and per-file upload serialization. It is a leaf — it never calls back
// into the receiver; callers read its state through Current and the
// return values of its methods.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/protocol"
)

// IdleTimeout is the inactivity window after which a live session is
// reaped (spec §3/§4.5).
const IdleTimeout = 5 * time.Minute

// ActiveSession mirrors spec §3's ActiveSession value.
type ActiveSession struct {
	ID             model.SessionID
	Peer           model.DeviceInfo
	Files          map[model.FileID]model.FileMetadata
	Tokens         map[model.FileID]model.Token
	Completed      map[model.FileID]struct{}
	CreatedAt      time.Time
	LastActivityAt time.Time
}

func (s *ActiveSession) snapshot() ActiveSession {
	cp := *s
	cp.Files = cloneFiles(s.Files)
	cp.Tokens = cloneTokens(s.Tokens)
	cp.Completed = cloneCompleted(s.Completed)
	return cp
}

func cloneFiles(m map[model.FileID]model.FileMetadata) map[model.FileID]model.FileMetadata {
	out := make(map[model.FileID]model.FileMetadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTokens(m map[model.FileID]model.Token) map[model.FileID]model.Token {
	out := make(map[model.FileID]model.Token, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCompleted(m map[model.FileID]struct{}) map[model.FileID]struct{} {
	out := make(map[model.FileID]struct{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RejectReason enumerates why consumeUpload refused a request.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectSessionMismatch
	RejectUnknownFile
	RejectBadToken
	RejectAlreadyCompleted
	RejectSessionExpired
)

func (r RejectReason) String() string {
	switch r {
	case RejectSessionMismatch:
		return "session mismatch"
	case RejectUnknownFile:
		return "unknown file"
	case RejectBadToken:
		return "token mismatch"
	case RejectAlreadyCompleted:
		return "file already completed"
	case RejectSessionExpired:
		return "session expired"
	default:
		return "none"
	}
}

// Manager holds at most one ActiveSession at a time.
type Manager struct {
	mu      sync.RWMutex
	current *ActiveSession

	fileLocksMu sync.Mutex
	fileLocks   map[model.FileID]*sync.Mutex

	now func() time.Time
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{
		fileLocks: make(map[model.FileID]*sync.Mutex),
		now:       time.Now,
	}
}

func (m *Manager) reapLocked() {
	if m.current != nil && m.now().Sub(m.current.LastActivityAt) > IdleTimeout {
		m.current = nil
	}
}

// Reap drops the current session if it has been idle past IdleTimeout.
func (m *Manager) Reap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()
}

// Current returns a snapshot of the live session, or nil if none (or
// the previous one expired).
func (m *Manager) Current() *ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()
	if m.current == nil {
		return nil
	}
	snap := m.current.snapshot()
	return &snap
}

// BeginSession creates a new ActiveSession from req, unless a live
// session already exists — in which case it returns a KindSessionBusy
// error and leaves the existing session untouched.
func (m *Manager) BeginSession(req model.RegisterRequest) (*ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()

	if m.current != nil {
		return nil, protocol.New(protocol.KindSessionBusy, "a session is already active")
	}

	now := m.now()
	m.current = &ActiveSession{
		ID:             req.SessionID,
		Peer:           req.DeviceInfo,
		Files:          cloneFiles(req.Files),
		Tokens:         make(map[model.FileID]model.Token),
		Completed:      make(map[model.FileID]struct{}),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	snap := m.current.snapshot()
	return &snap, nil
}

// Authorise issues a fresh token for every requested fileId present in
// the session's file set; unknown fileIds are silently omitted. A
// duplicate prepare-upload call replaces prior tokens for the same
// files (spec §4.5 tie-break: latest call wins).
func (m *Manager) Authorise(sessionID model.SessionID, files map[model.FileID]model.FileMetadata) (map[model.FileID]model.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()

	if m.current == nil || m.current.ID != sessionID {
		return nil, protocol.New(protocol.KindAuthorisation, "unknown session")
	}

	out := make(map[model.FileID]model.Token)
	for id := range files {
		if _, known := m.current.Files[id]; !known {
			continue
		}
		tok, err := newToken()
		if err != nil {
			return nil, protocol.Wrap(protocol.KindNetwork, "generate token", err)
		}
		m.current.Tokens[id] = tok
		out[id] = tok
	}
	m.current.LastActivityAt = m.now()
	return out, nil
}

// ConsumeUpload validates (sessionID, fileID, token) against the live
// session without marking the file complete — the caller commits via
// FinishUpload once the body has actually been written.
func (m *Manager) ConsumeUpload(sessionID model.SessionID, fileID model.FileID, token model.Token) RejectReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()

	if m.current == nil {
		return RejectSessionExpired
	}
	if m.current.ID != sessionID {
		return RejectSessionMismatch
	}
	if _, ok := m.current.Files[fileID]; !ok {
		return RejectUnknownFile
	}
	if _, done := m.current.Completed[fileID]; done {
		return RejectAlreadyCompleted
	}
	want, issued := m.current.Tokens[fileID]
	if !issued || want != token {
		return RejectBadToken
	}
	m.current.LastActivityAt = m.now()
	return RejectNone
}

// FinishUpload marks fileID committed (or not) for sessionID. When
// commit is true and every file is now in Completed, the session is
// cleared. A mismatched sessionID is a no-op.
func (m *Manager) FinishUpload(sessionID model.SessionID, fileID model.FileID, commit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.ID != sessionID {
		return
	}
	if commit {
		m.current.Completed[fileID] = struct{}{}
		m.current.LastActivityAt = m.now()
		if len(m.current.Completed) == len(m.current.Files) {
			m.current = nil
		}
	}
}

// Cancel clears the session if sessionID matches; otherwise it is a
// no-op, making repeated cancels after session end idempotent.
func (m *Manager) Cancel(sessionID model.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.ID == sessionID {
		m.current = nil
	}
}

// FileLock returns a per-(file) mutex so that concurrent uploads of the
// same fileId serialise: the second acquires the lock only after the
// first either commits or aborts (spec §5). Distinct fileIds never
// contend with each other.
func (m *Manager) FileLock(fileID model.FileID) *sync.Mutex {
	m.fileLocksMu.Lock()
	defer m.fileLocksMu.Unlock()
	l, ok := m.fileLocks[fileID]
	if !ok {
		l = &sync.Mutex{}
		m.fileLocks[fileID] = l
	}
	return l
}

func newToken() (model.Token, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return model.Token(hex.EncodeToString(buf)), nil
}
