package receiver

import "github.com/kaelbridge/lansend/pkg/model"

// EventKind tags an Event's payload.
type EventKind int

const (
	SessionStarted EventKind = iota
	FileCompleted
	SessionEnded
	SessionCancelled
)

func (k EventKind) String() string {
	switch k {
	case SessionStarted:
		return "SessionStarted"
	case FileCompleted:
		return "FileCompleted"
	case SessionEnded:
		return "SessionEnded"
	case SessionCancelled:
		return "SessionCancelled"
	default:
		return "Unknown"
	}
}

// Event is pushed to the channel returned by Receiver.Events so a
// caller (CLI, UI, test) can observe receiver-side progress without
// the receiver holding a reference back to them.
type Event struct {
	Kind      EventKind
	SessionID model.SessionID
	FileID    model.FileID
	Peer      model.DeviceInfo
	Path      string
}
