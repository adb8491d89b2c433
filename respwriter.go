package edge

import (
	"net"
	"sync"
)

// writeQueueDepth bounds how many completed answers can be queued for a
// single DoT connection before the pipeline treats the socket as
// backpressured and pauses reading further queries from it.
const writeQueueDepth = 8

// respWriter serialises writes to a DoT connection from however many
// concurrent resolver-dispatch goroutines are in flight for it (responses
// may complete out of order -- SPEC_FULL.md section 4.7) and exposes the
// backpressure signal the read loop pauses on.
type respWriter struct {
	conn      net.Conn
	queue     chan []byte
	drain     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newRespWriter(conn net.Conn) *respWriter {
	w := &respWriter{
		conn:   conn,
		queue:  make(chan []byte, writeQueueDepth),
		drain:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *respWriter) run() {
	for {
		select {
		case b := <-w.queue:
			if _, err := w.conn.Write(b); err != nil {
				w.Close()
				return
			}
			select {
			case w.drain <- struct{}{}:
			default:
			}
		case <-w.closed:
			return
		}
	}
}

// Enqueue queues b for writing in the order it completes relative to other
// in-flight queries on this connection. ok is false once the writer (and
// so the connection) has been closed.
func (w *respWriter) Enqueue(b []byte) (ok bool) {
	select {
	case <-w.closed:
		return false
	default:
	}
	select {
	case w.queue <- b:
		return true
	case <-w.closed:
		return false
	}
}

// Backpressured reports whether the outbound queue is saturated -- the
// read loop's cue to stop consuming further bytes from the socket until
// WaitDrain returns.
func (w *respWriter) Backpressured() bool {
	return len(w.queue) >= cap(w.queue)
}

// WaitDrain blocks until the writer has room again, or the writer closes.
func (w *respWriter) WaitDrain() {
	select {
	case <-w.drain:
	case <-w.closed:
	}
}

// Close stops the writer goroutine. Safe to call more than once.
func (w *respWriter) Close() {
	w.closeOnce.Do(func() { close(w.closed) })
}
