package supervisor

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	defaultOutputBuffer = 256
	maxLineBytes        = 64 << 10
)

type outputLine struct {
	stream string
	text   string
}

// forwarder decouples engine stdout/stderr from the log sink: process writers
// enqueue complete lines without blocking, and one goroutine drains them.
// Lines that arrive while the queue is full are dropped and counted.
type forwarder struct {
	ch      chan outputLine
	dropped atomic.Int64
	done    chan struct{}
	log     zerolog.Logger
	once    sync.Once
	writers []*lineWriter
}

func newForwarder(log zerolog.Logger, capacity int) *forwarder {
	if capacity <= 0 {
		capacity = defaultOutputBuffer
	}
	f := &forwarder{ch: make(chan outputLine, capacity), done: make(chan struct{}), log: log}
	go f.run()
	return f
}

func (f *forwarder) run() {
	defer close(f.done)
	for l := range f.ch {
		// uvicorn logs routinely to stderr, so both streams go out at info
		f.log.Info().Str("stream", l.stream).Msg(l.text)
	}
}

func (f *forwarder) enqueue(stream, text string) {
	select {
	case f.ch <- outputLine{stream: stream, text: text}:
	default:
		f.dropped.Add(1)
		engineOutputDropped.Inc()
	}
}

// writer returns an io.Writer that splits its input into lines for stream.
// Each writer must be used by a single goroutine, as exec.Cmd does.
func (f *forwarder) writer(stream string) io.Writer {
	w := &lineWriter{emit: func(line string) { f.enqueue(stream, line) }}
	f.writers = append(f.writers, w)
	return w
}

// close flushes partial lines, stops the drain goroutine and returns the
// number of dropped lines. Call only after the process writers are finished.
func (f *forwarder) close() int64 {
	f.once.Do(func() {
		for _, w := range f.writers {
			w.flush()
		}
		close(f.ch)
	})
	<-f.done
	return f.dropped.Load()
}

// lineWriter splits writes into lines and hands each non-empty one to emit.
type lineWriter struct {
	emit func(line string)
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = append(w.buf, p...)
			if len(w.buf) >= maxLineBytes {
				w.flush()
			}
			break
		}
		w.buf = append(w.buf, p[:i]...)
		w.flush()
		p = p[i+1:]
	}
	return n, nil
}

func (w *lineWriter) flush() {
	if len(w.buf) == 0 {
		return
	}
	line := string(bytes.TrimRight(w.buf, "\r"))
	w.buf = w.buf[:0]
	if line != "" {
		w.emit(line)
	}
}
