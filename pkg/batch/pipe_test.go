package batch

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchReaderReadsUntilMarker(t *testing.T) {
	p := newBytePipe()
	abort := make(chan struct{})

	require.NoError(t, p.write([]byte("hello "), abort))
	require.NoError(t, p.write([]byte("world"), abort))
	require.NoError(t, p.endBatch(abort))

	r := newBatchReader(p)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	// The marker is batch-scoped: a second batch flows through the same pipe.
	require.NoError(t, p.write([]byte("next"), abort))
	require.NoError(t, p.endBatch(abort))

	r2 := newBatchReader(p)
	data, err = io.ReadAll(r2)
	require.NoError(t, err)
	assert.Equal(t, "next", string(data))
}

func TestFirstReadReleasesReadyGate(t *testing.T) {
	p := newBytePipe()
	abort := make(chan struct{})
	require.NoError(t, p.write([]byte("x"), abort))

	r := newBatchReader(p)
	select {
	case <-r.ready:
		t.Fatal("gate must stay shut before the first read")
	default:
	}

	buf := make([]byte, 1)
	_, err := r.Read(buf)
	require.NoError(t, err)

	select {
	case <-r.ready:
	default:
		t.Fatal("gate must open on the first read")
	}
}

func TestReleaseOpensGateWithoutRead(t *testing.T) {
	r := newBatchReader(newBytePipe())
	r.release()
	r.release() // idempotent

	select {
	case <-r.ready:
	default:
		t.Fatal("release must open the gate")
	}
}

func TestWriteAbortsWhenSignalled(t *testing.T) {
	p := newBytePipe()
	abort := make(chan struct{})

	// Fill the pipe so the next write must block.
	for i := 0; i < pipeDepth; i++ {
		require.NoError(t, p.write([]byte("x"), abort))
	}

	done := make(chan error, 1)
	go func() {
		done <- p.write([]byte("blocked"), abort)
	}()

	select {
	case <-done:
		t.Fatal("write should block on a full pipe")
	case <-time.After(50 * time.Millisecond):
	}

	close(abort)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	case <-time.After(time.Second):
		t.Fatal("write did not abort")
	}
}

func TestReaderEOFOnClosedPipe(t *testing.T) {
	p := newBytePipe()
	p.close()
	p.close() // idempotent

	r := newBatchReader(p)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
}
