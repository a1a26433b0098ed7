package receiver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/kaelbridge/lansend/pkg/httputil"
	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/protocol"
	"github.com/kaelbridge/lansend/pkg/session"
)

const uploadChunkSize = 8 * 1024

func (r *Receiver) handleInfo(w http.ResponseWriter, req *http.Request) {
	fp := req.URL.Query().Get("fingerprint")
	if fp != "" && model.Fingerprint(fp) == r.cfg.Self.Fingerprint {
		httputil.RespondError(r.log, w, http.StatusPreconditionFailed, "self-discovered")
		return
	}
	httputil.RespondJSON(r.log, w, http.StatusOK, r.cfg.Self)
}

func (r *Receiver) handleRegister(w http.ResponseWriter, req *http.Request) {
	var body model.RegisterRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httputil.RespondError(r.log, w, http.StatusBadRequest, "request body malformed")
		return
	}
	defer req.Body.Close()

	if body.Fingerprint == r.cfg.Self.Fingerprint {
		httputil.RespondError(r.log, w, http.StatusPreconditionFailed, "self-discovered")
		return
	}
	if err := protocol.ValidateRegisterRequest(body); err != nil {
		httputil.RespondErrFromProtocol(r.log, w, err)
		return
	}

	active, err := r.sess.BeginSession(body)
	if err != nil {
		httputil.RespondErrFromProtocol(r.log, w, err)
		return
	}

	r.log.WithField("request_id", requestID(req)).
		Infof("registered session %s from %s (%d files)", active.ID, body.Alias, len(body.Files))
	r.emit(Event{Kind: SessionStarted, SessionID: active.ID, Peer: body.DeviceInfo})

	httputil.RespondJSON(r.log, w, http.StatusOK, model.RegisterResponse{
		DeviceInfo: r.cfg.Self,
		SessionID:  active.ID,
	})
}

func (r *Receiver) handlePrepareUpload(w http.ResponseWriter, req *http.Request) {
	var body model.PrepareUploadRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httputil.RespondError(r.log, w, http.StatusBadRequest, "request body malformed")
		return
	}
	defer req.Body.Close()

	if len(body.Files) == 0 {
		httputil.RespondError(r.log, w, http.StatusBadRequest, "request must contain at least one file")
		return
	}

	tokens, err := r.sess.Authorise(body.SessionID, body.Files)
	if err != nil {
		httputil.RespondErrFromProtocol(r.log, w, err)
		return
	}

	httputil.RespondJSON(r.log, w, http.StatusOK, model.PrepareUploadResponse{
		SessionID: body.SessionID,
		Files:     tokens,
	})
}

func (r *Receiver) handleUpload(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	sessionID := model.SessionID(q.Get("sessionId"))
	fileID := model.FileID(q.Get("fileId"))
	token := model.Token(q.Get("token"))

	if sessionID == "" || fileID == "" || token == "" {
		httputil.RespondError(r.log, w, http.StatusBadRequest, "missing sessionId, fileId, or token")
		return
	}

	lock := r.sess.FileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	if reason := r.sess.ConsumeUpload(sessionID, fileID, token); reason != session.RejectNone {
		httputil.RespondError(r.log, w, http.StatusForbidden, reason.String())
		return
	}

	current := r.sess.Current()
	if current == nil {
		httputil.RespondError(r.log, w, http.StatusForbidden, "session expired")
		return
	}
	meta, ok := current.Files[fileID]
	if !ok {
		httputil.RespondError(r.log, w, http.StatusForbidden, "unknown file")
		return
	}

	sink, path, err := r.storage.OpenForWrite(meta.FileName)
	if err != nil {
		httputil.RespondErrFromProtocol(r.log, w, err)
		return
	}

	buf := make([]byte, uploadChunkSize)
	_, copyErr := io.CopyBuffer(sink, req.Body, buf)
	req.Body.Close()

	commit := copyErr == nil
	if closeErr := sink.Close(commit); closeErr != nil {
		r.log.WithError(closeErr).Error("failed to close upload sink")
	}
	if copyErr != nil {
		r.sess.FinishUpload(sessionID, fileID, false)
		httputil.RespondError(r.log, w, http.StatusInternalServerError, "failed to save file")
		return
	}

	r.sess.FinishUpload(sessionID, fileID, true)
	r.emit(Event{Kind: FileCompleted, SessionID: sessionID, FileID: fileID, Path: path})

	if r.sess.Current() == nil {
		r.emit(Event{Kind: SessionEnded, SessionID: sessionID})
	}

	httputil.RespondOK(w)
}

func (r *Receiver) handleCancel(w http.ResponseWriter, req *http.Request) {
	sessionID := model.SessionID(req.URL.Query().Get("sessionId"))
	if sessionID == "" {
		var body model.CancelRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err == nil {
			sessionID = body.SessionID
		}
	}
	if sessionID == "" {
		httputil.RespondError(r.log, w, http.StatusBadRequest, "missing sessionId")
		return
	}
	r.sess.Cancel(sessionID)
	r.emit(Event{Kind: SessionCancelled, SessionID: sessionID})
	httputil.RespondOK(w)
}
