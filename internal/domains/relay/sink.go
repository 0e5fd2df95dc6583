package relay

// ChunkSink is the output a streamed transfer is delivered into (e.g. an
// HTTP response body). Implementations are driven by exactly one of
// Close/CloseWithError, after which no further writes arrive.
type ChunkSink interface {
	// Write delivers one chunk in arrival order.
	Write(p []byte) (int, error)
	// Close terminates the sink after the last chunk was written.
	Close() error
	// CloseWithError terminates the sink because the transfer failed or
	// timed out. If bytes already went out the sink can only truncate.
	CloseWithError(err error) error
}
