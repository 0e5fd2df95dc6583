package handlers

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
)

// StreamResult is what the download handler learns once its sink terminates.
// Wrote distinguishes a clean error response from a truncated stream:
// headers and bytes already sent cannot be un-sent.
type StreamResult struct {
	Err   error
	Wrote bool
}

// HTTPSink streams transfer chunks straight into an HTTP response body,
// flushing per chunk so nothing buffers the whole payload. Headers go out
// with the first chunk, keeping synchronous and early failures mappable to a
// real error status.
type HTTPSink struct {
	w        gin.ResponseWriter
	filename string

	wrote  bool
	closed bool
	done   chan StreamResult
}

// NewHTTPSink wraps a response writer. The correlator serializes all sink
// calls, so HTTPSink needs no lock of its own.
func NewHTTPSink(w gin.ResponseWriter, filename string) *HTTPSink {
	return &HTTPSink{
		w:        w,
		filename: filename,
		done:     make(chan StreamResult, 1),
	}
}

// Write implements relay.ChunkSink.
func (s *HTTPSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("sink closed")
	}
	if !s.wrote {
		header := s.w.Header()
		header.Set("Content-Type", "application/octet-stream")
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.filename))
	}
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	s.wrote = true
	s.w.Flush()
	return n, nil
}

// Close implements relay.ChunkSink.
func (s *HTTPSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done <- StreamResult{Wrote: s.wrote}
	return nil
}

// CloseWithError implements relay.ChunkSink.
func (s *HTTPSink) CloseWithError(err error) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done <- StreamResult{Err: err, Wrote: s.wrote}
	return nil
}

// Done yields exactly one result when the transfer terminates.
func (s *HTTPSink) Done() <-chan StreamResult {
	return s.done
}
