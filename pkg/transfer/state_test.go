package transfer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaelbridge/lansend/pkg/protocol"
)

func TestHappyPathTransitions(t *testing.T) {
	m := New(2)
	assert.Equal(t, Idle, m.Snapshot().Status)

	require.NoError(t, m.Register())
	assert.Equal(t, WaitingForAcceptance, m.Snapshot().Status)

	require.NoError(t, m.Prepared())
	assert.Equal(t, Transferring, m.Snapshot().Status)

	require.NoError(t, m.FileCompleted())
	require.NoError(t, m.FileCompleted())
	assert.Equal(t, 2, m.Snapshot().Completed)

	require.NoError(t, m.Finish())
	assert.Equal(t, Completed, m.Snapshot().Status)
}

func TestIllegalTransitionsReturnInvalidState(t *testing.T) {
	m := New(1)

	err := m.Prepared()
	require.Error(t, err)
	assert.Equal(t, protocol.KindInvalidState, protocol.KindOf(err))

	err = m.FileCompleted()
	assert.Error(t, err)

	err = m.Finish()
	assert.Error(t, err)
}

func TestCancelFromAnyLiveState(t *testing.T) {
	m := New(1)
	require.NoError(t, m.Cancel("peer refused"))
	snap := m.Snapshot()
	assert.Equal(t, Cancelled, snap.Status)
	assert.Equal(t, "peer refused", snap.CancelReason)

	waiting := New(1)
	require.NoError(t, waiting.Register())
	require.NoError(t, waiting.Cancel("declined"))
	assert.Equal(t, Cancelled, waiting.Snapshot().Status)

	transferring := New(1)
	require.NoError(t, transferring.Register())
	require.NoError(t, transferring.Prepared())
	require.NoError(t, transferring.Cancel("aborted"))
	assert.Equal(t, Cancelled, transferring.Snapshot().Status)
}

func TestCancelIsTerminal(t *testing.T) {
	m := New(1)
	require.NoError(t, m.Cancel("boom"))
	assert.Error(t, m.Cancel("again"))
	assert.Error(t, m.Register())
}

func TestFinishRequiresTransferringState(t *testing.T) {
	m := New(1)
	require.NoError(t, m.Register())
	require.NoError(t, m.Prepared())
	require.NoError(t, m.FileCompleted())
	require.NoError(t, m.Finish())
	assert.Error(t, m.Finish())
}

func TestConcurrentFileCompletedIsSerialised(t *testing.T) {
	m := New(50)
	require.NoError(t, m.Register())
	require.NoError(t, m.Prepared())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.FileCompleted()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, m.Snapshot().Completed)
}
