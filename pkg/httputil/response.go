// Package httputil provides small JSON response helpers shared by the
// receiver's HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/kaelbridge/lansend/pkg/protocol"
)

// Error is the wire shape of every non-2xx JSON response.
type Error struct {
	Error string `json:"error"`
}

// RespondJSON writes data as a JSON body with statusCode. log receives
// the rare marshal/write failure; callers pass their own component
// logger rather than relying on a package-level one.
func RespondJSON(log *logrus.Entry, w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.WithError(err).Error("failed to marshal JSON response")
		return
	}
	if _, err := w.Write(jsonData); err != nil {
		log.WithError(err).Error("failed to write JSON response")
	}
}

// RespondError sends {"error": message} with statusCode.
func RespondError(log *logrus.Entry, w http.ResponseWriter, statusCode int, message string) {
	RespondJSON(log, w, statusCode, Error{Error: message})
}

// RespondOK writes an empty 200 response.
func RespondOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}

// statusForKind maps the protocol error taxonomy (spec §7) onto HTTP
// status codes.
func statusForKind(k protocol.Kind) int {
	switch k {
	case protocol.KindInvalidRequest:
		return http.StatusBadRequest
	case protocol.KindVersionMismatch:
		return http.StatusBadRequest
	case protocol.KindAuthorisation:
		return http.StatusForbidden
	case protocol.KindSessionBusy:
		return http.StatusConflict
	case protocol.KindInvalidState:
		return http.StatusConflict
	case protocol.KindStorage:
		return http.StatusInternalServerError
	case protocol.KindPeerNotFound:
		return http.StatusNotFound
	case protocol.KindPeerAmbiguous:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondErrFromProtocol writes the appropriate status code and
// message for any error, classifying it via protocol.KindOf.
func RespondErrFromProtocol(log *logrus.Entry, w http.ResponseWriter, err error) {
	RespondError(log, w, statusForKind(protocol.KindOf(err)), err.Error())
}
