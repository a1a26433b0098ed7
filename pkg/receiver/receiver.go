// Package receiver implements the HTTP(S) server side of the
// protocol (C6): GET /info, POST /register, POST /prepare-upload,
// POST /upload, POST /cancel, wired to the session Manager and
// storage Facade.
package receiver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kaelbridge/lansend/pkg/identity"
	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/session"
	"github.com/kaelbridge/lansend/pkg/storage"
)

// Config carries the knobs a Receiver needs beyond its collaborators.
type Config struct {
	Self        model.DeviceInfo
	DownloadDir string
}

// Receiver owns the HTTP(S) server, the session manager, and the
// storage facade, and publishes progress over Events.
type Receiver struct {
	cfg     Config
	ident   *identity.Context
	storage storage.Facade
	sess    *session.Manager
	log     *logrus.Entry
	router  *mux.Router
	server  *http.Server
	events  chan Event
}

// New wires a Receiver. storage may be nil, in which case a
// storage.FileSystem rooted at cfg.DownloadDir is used.
func New(cfg Config, ident *identity.Context, fs storage.Facade, log *logrus.Entry) *Receiver {
	if fs == nil {
		fs = storage.NewFileSystem(cfg.DownloadDir)
	}
	r := &Receiver{
		cfg:     cfg,
		ident:   ident,
		storage: fs,
		sess:    session.NewManager(),
		log:     log,
		events:  make(chan Event, 32),
	}
	r.router = r.routes()
	return r
}

// Handle returns the receiver's HTTP handler (used directly by tests
// via httptest, and by ListenAndServe in production).
func (r *Receiver) Handle() http.Handler {
	return r.router
}

// Events returns the channel progress notifications are pushed to. It
// is never closed by the receiver.
func (r *Receiver) Events() <-chan Event {
	return r.events
}

func (r *Receiver) emit(e Event) {
	select {
	case r.events <- e:
	default:
		r.log.Warn("event channel full, dropping event")
	}
}

func (r *Receiver) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(r.requestIDMiddleware)
	api := router.PathPrefix("/api/localsend/v2").Subrouter()
	api.HandleFunc("/info", r.handleInfo).Methods(http.MethodGet)
	api.HandleFunc("/register", r.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/prepare-upload", r.handlePrepareUpload).Methods(http.MethodPost)
	api.HandleFunc("/upload", r.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/cancel", r.handleCancel).Methods(http.MethodPost)
	return router
}

type requestIDKey struct{}

// requestIDMiddleware stamps every request with its own correlation id,
// returned in the X-Request-Id response header. Only handleRegister
// writes it to the log (as the request_id field); the other handlers
// do not log it.
func (r *Receiver) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(req.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func requestID(req *http.Request) string {
	if id, ok := req.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// ListenAndServeTLS starts the HTTPS server on addr and blocks until
// ctx is cancelled, then performs a graceful shutdown.
func (r *Receiver) ListenAndServeTLS(ctx context.Context, addr string) error {
	cert, err := r.ident.TLSCertificate()
	if err != nil {
		return fmt.Errorf("load TLS identity: %w", err)
	}

	r.server = r.newServer(addr)
	r.server.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	return r.serve(ctx, func() error {
		return r.server.ListenAndServeTLS("", "")
	})
}

// ListenAndServe starts a plain-HTTP server on addr and blocks until
// ctx is cancelled, then performs a graceful shutdown. Protocol choice
// between this and ListenAndServeTLS is a start-time decision made by
// the caller (spec §4.6); trust still rests on the certificate
// fingerprint exchanged during discovery/register, not on TLS being
// present.
func (r *Receiver) ListenAndServe(ctx context.Context, addr string) error {
	r.server = r.newServer(addr)
	return r.serve(ctx, r.server.ListenAndServe)
}

func (r *Receiver) newServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      r.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func (r *Receiver) serve(ctx context.Context, listen func() error) error {
	errCh := make(chan error, 1)
	go func() {
		if err := listen(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return r.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("receiver server: %w", err)
	}
}

// Shutdown drains in-flight requests and stops the server.
func (r *Receiver) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("receiver shutdown: %w", err)
	}
	r.log.Info("receiver stopped")
	return nil
}
