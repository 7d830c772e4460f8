// Package stream splits a chunked event-stream response body into frames.
//
// Frames are UTF-8 text terminated by a blank line. Within a frame each
// line carrying the "data:" marker is one message; everything else
// (comments, event names, keep-alives) is skipped.
package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxFrameSize bounds a single frame. Batches of findings can be large, so
// this is well above bufio's default token size.
const MaxFrameSize = 16 << 20

const initialBufferSize = 64 << 10

var dataMarker = []byte("data:")

// Reader yields the payload of each data line of every fully terminated
// frame read from an underlying byte stream. Chunk boundaries of the
// underlying reader have no effect on the payloads produced.
type Reader struct {
	scanner  *bufio.Scanner
	pending  [][]byte
	trailing int
}

// NewReader wraps r. The caller keeps ownership of r and must close it.
func NewReader(r io.Reader) *Reader {
	rd := &Reader{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initialBufferSize), MaxFrameSize)
	sc.Split(rd.splitFrames)
	rd.scanner = sc
	return rd
}

// Next returns the payload of the next data line, in stream order. A frame
// with several data lines yields one payload per line, so a malformed line
// never takes its neighbours with it. Next returns io.EOF once the stream
// ends; an unterminated trailing fragment is discarded rather than returned.
func (r *Reader) Next() ([]byte, error) {
	for len(r.pending) == 0 {
		if !r.scanner.Scan() {
			return nil, r.scanErr()
		}
		r.pending = extractData(r.scanner.Bytes())
	}
	payload := r.pending[0]
	r.pending = r.pending[1:]
	return payload, nil
}

func (r *Reader) scanErr() error {
	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return ErrFrameTooLarge
		}
		return err
	}
	return io.EOF
}

// Discarded reports how many bytes of unterminated data were dropped at
// end of stream.
func (r *Reader) Discarded() int {
	return r.trailing
}

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("stream frame exceeds maximum size")

// splitFrames is a bufio.SplitFunc that emits one token per blank-line
// terminated frame. Both "\n\n" and "\r\n\r\n" terminate a frame.
func (r *Reader) splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i, n := frameEnd(data); i >= 0 {
		return i + n, data[:i], nil
	}
	if atEOF {
		r.trailing += len(bytes.TrimSpace(data))
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// frameEnd returns the index of the first frame terminator in data and its
// length, or -1 if none is present yet.
func frameEnd(data []byte) (int, int) {
	lf := bytes.Index(data, []byte("\n\n"))
	crlf := bytes.Index(data, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

// extractData returns a copy of each data line's value in frame. The single
// space after the marker is optional, as in the SSE format.
func extractData(frame []byte) [][]byte {
	var payloads [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, dataMarker) {
			continue
		}
		value := bytes.TrimPrefix(line[len(dataMarker):], []byte(" "))
		payloads = append(payloads, append([]byte(nil), value...))
	}
	return payloads
}
