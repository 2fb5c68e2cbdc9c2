package batch

import (
	"io"
	"sync"
)

// pipeDepth is the number of in-flight frames the pipe buffers. Once full,
// the producer blocks until the executor drains a frame.
const pipeDepth = 64

// bytePipe is the bounded, blocking byte channel between the producer and
// the background executor. It is the only resource shared between the two
// goroutines. A nil frame marks end-of-batch, which lets one pipe carry
// several commit cycles in multi-batch mode.
type bytePipe struct {
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func newBytePipe() *bytePipe {
	return &bytePipe{frames: make(chan []byte, pipeDepth)}
}

// write queues one frame for the executor. The data is copied because the
// caller reuses its encode buffer. write blocks on a full pipe; that is the
// flow control. It aborts with io.ErrClosedPipe when abort is closed, so a
// failed executor can never leave the producer wedged.
func (p *bytePipe) write(data []byte, abort <-chan struct{}) error {
	frame := make([]byte, len(data))
	copy(frame, data)

	select {
	case p.frames <- frame:
		return nil
	case <-abort:
		return io.ErrClosedPipe
	}
}

// endBatch queues the end-of-batch marker. The executor's reader returns
// io.EOF when it sees the marker, which completes the COPY statement.
func (p *bytePipe) endBatch(abort <-chan struct{}) error {
	select {
	case p.frames <- nil:
		return nil
	case <-abort:
		return io.ErrClosedPipe
	}
}

// close shuts the pipe down for good. Safe to call more than once.
func (p *bytePipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.frames)
	}
}

// batchReader exposes one batch of frames as an io.Reader. It reports
// io.EOF at the end-of-batch marker or when the pipe closes. The first Read
// releases the ready gate: that is the synchronization point telling the
// producer the bulk-copy statement is actually draining the pipe.
type batchReader struct {
	pipe  *bytePipe
	ready chan struct{}
	once  sync.Once

	buf []byte
	eof bool
}

func newBatchReader(pipe *bytePipe) *batchReader {
	return &batchReader{
		pipe:  pipe,
		ready: make(chan struct{}),
	}
}

func (r *batchReader) Read(p []byte) (int, error) {
	r.release()

	if r.eof {
		return 0, io.EOF
	}

	for len(r.buf) == 0 {
		frame, ok := <-r.pipe.frames
		if !ok || frame == nil {
			r.eof = true
			return 0, io.EOF
		}
		r.buf = frame
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// release opens the ready gate. The executor also calls this after the
// statement returns, covering statements that fail before the first Read;
// without that guard the producer would deadlock waiting on a dead executor.
func (r *batchReader) release() {
	r.once.Do(func() { close(r.ready) })
}
