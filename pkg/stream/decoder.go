// Package stream decodes server-push progress streams into ProgressEvents.
package stream

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"

	"loramint/pkg/types"
)

// Decoder turns arbitrarily chunked stream bytes into events. It keeps the
// trailing incomplete line between writes, so any split of the same bytes
// yields the same events. It is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	onEvent func(types.ProgressEvent)
	log     zerolog.Logger
	dropped int
}

// NewDecoder returns a Decoder that calls onEvent for every parsed event.
func NewDecoder(onEvent func(types.ProgressEvent), log zerolog.Logger) *Decoder {
	return &Decoder{onEvent: onEvent, log: log}
}

// Write consumes the next chunk. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		d.line(d.buf[:i])
		d.buf = d.buf[i+1:]
	}
	// reclaim consumed prefix space
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	return len(p), nil
}

// Close parses whatever remains in the buffer as a final line.
func (d *Decoder) Close() error {
	if len(bytes.TrimSpace(d.buf)) > 0 {
		d.line(d.buf)
	}
	d.buf = nil
	return nil
}

// Dropped returns how many malformed event lines were skipped.
func (d *Decoder) Dropped() int { return d.dropped }

func (d *Decoder) line(l []byte) {
	l = bytes.TrimRight(l, "\r")
	if !bytes.HasPrefix(l, []byte(types.DataPrefix)) {
		return
	}
	payload := l[len(types.DataPrefix):]
	var ev types.ProgressEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.dropped++
		d.log.Warn().Err(err).Bytes("line", truncate(l, 256)).Msg("dropping malformed progress event")
		return
	}
	d.onEvent(ev)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// Decode reads r to the end, dispatching events as they complete.
func Decode(r io.Reader, onEvent func(types.ProgressEvent), log zerolog.Logger) error {
	d := NewDecoder(onEvent, log)
	buf := make([]byte, 32<<10)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = d.Write(buf[:n])
		}
		if err != nil {
			_ = d.Close()
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
