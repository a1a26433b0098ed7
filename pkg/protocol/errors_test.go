package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(KindInvalidRequest, "bad alias")
	assert.Equal(t, "InvalidRequest: bad alias", plain.Error())

	cause := errors.New("disk full")
	wrapped := Wrap(KindStorage, "write file", cause)
	assert.Equal(t, "Storage: write file: disk full", wrapped.Error())
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindSessionBusy, KindOf(New(KindSessionBusy, "busy")))
	assert.Equal(t, KindNetwork, KindOf(errors.New("raw io error")))
}

func TestKindOfUnwrapsThroughWrapperChain(t *testing.T) {
	inner := New(KindAuthorisation, "bad token")
	outer := errors.New("handler: " + inner.Error())
	// A string-concatenated message loses the type, so KindOf falls back.
	assert.Equal(t, KindNetwork, KindOf(outer))
	// errors.As still finds it through an Unwrap chain.
	assert.Equal(t, KindAuthorisation, KindOf(errWrap(inner)))
}

func errWrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
