package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/protocol"
)

func registerRequest() model.RegisterRequest {
	return model.RegisterRequest{
		DeviceInfo: model.DeviceInfo{Alias: "peer", Fingerprint: "f"},
		SessionID:  "sess-1",
		Files: map[model.FileID]model.FileMetadata{
			"f1": {ID: "f1", FileName: "a.txt", Size: 10},
			"f2": {ID: "f2", FileName: "b.txt", Size: 20},
		},
	}
}

func TestBeginSessionRejectsWhenBusy(t *testing.T) {
	m := NewManager()
	_, err := m.BeginSession(registerRequest())
	require.NoError(t, err)

	_, err = m.BeginSession(registerRequest())
	require.Error(t, err)
	assert.Equal(t, protocol.KindSessionBusy, protocol.KindOf(err))
}

func TestAuthoriseIssuesTokensForKnownFilesOnly(t *testing.T) {
	m := NewManager()
	active, err := m.BeginSession(registerRequest())
	require.NoError(t, err)

	tokens, err := m.Authorise(active.ID, map[model.FileID]model.FileMetadata{
		"f1":      {ID: "f1"},
		"unknown": {ID: "unknown"},
	})
	require.NoError(t, err)
	assert.Contains(t, tokens, model.FileID("f1"))
	assert.NotContains(t, tokens, model.FileID("unknown"))
}

func TestConsumeUploadRejectReasons(t *testing.T) {
	m := NewManager()
	active, err := m.BeginSession(registerRequest())
	require.NoError(t, err)

	tokens, err := m.Authorise(active.ID, active.Files)
	require.NoError(t, err)

	assert.Equal(t, RejectSessionMismatch, m.ConsumeUpload("wrong-session", "f1", tokens["f1"]))
	assert.Equal(t, RejectUnknownFile, m.ConsumeUpload(active.ID, "ghost", "anything"))
	assert.Equal(t, RejectBadToken, m.ConsumeUpload(active.ID, "f1", "wrong-token"))
	assert.Equal(t, RejectNone, m.ConsumeUpload(active.ID, "f1", tokens["f1"]))

	m.FinishUpload(active.ID, "f1", true)
	assert.Equal(t, RejectAlreadyCompleted, m.ConsumeUpload(active.ID, "f1", tokens["f1"]))
}

func TestFinishUploadClearsSessionWhenAllFilesComplete(t *testing.T) {
	m := NewManager()
	active, err := m.BeginSession(registerRequest())
	require.NoError(t, err)
	tokens, err := m.Authorise(active.ID, active.Files)
	require.NoError(t, err)

	m.FinishUpload(active.ID, "f1", true)
	assert.NotNil(t, m.Current())

	m.FinishUpload(active.ID, "f2", true)
	assert.Nil(t, m.Current())
	_ = tokens
}

func TestFinishUploadWithoutCommitKeepsSessionOpen(t *testing.T) {
	m := NewManager()
	active, err := m.BeginSession(registerRequest())
	require.NoError(t, err)

	m.FinishUpload(active.ID, "f1", false)
	current := m.Current()
	require.NotNil(t, current)
	_, done := current.Completed["f1"]
	assert.False(t, done)
}

func TestCancelIsIdempotent(t *testing.T) {
	m := NewManager()
	active, err := m.BeginSession(registerRequest())
	require.NoError(t, err)

	m.Cancel(active.ID)
	assert.Nil(t, m.Current())
	m.Cancel(active.ID)
	assert.Nil(t, m.Current())
}

func TestFileLockReturnsSameMutexForSameFileID(t *testing.T) {
	m := NewManager()
	a := m.FileLock("f1")
	b := m.FileLock("f1")
	c := m.FileLock("f2")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestIdleSessionIsReapedOnAccess(t *testing.T) {
	m := NewManager()
	active, err := m.BeginSession(registerRequest())
	require.NoError(t, err)

	base := time.Now()
	m.now = func() time.Time { return base.Add(IdleTimeout + time.Second) }

	assert.Nil(t, m.Current())
	_ = active
}
