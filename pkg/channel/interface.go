package channel

import "context"

// PhysicalChannel is the pluggable byte transport under a Channel. TCP, UDP,
// QUIC and serial ports implement it, as does the in-memory Pipe.
type PhysicalChannel interface {
	// Read blocks until one complete link frame is available, the context
	// is cancelled or the channel is closed
	Read(ctx context.Context) ([]byte, error)

	// Write writes one serialized link frame. Must be safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close releases the medium and unblocks pending Read and Write calls
	Close() error

	// Statistics returns transport-level counters
	Statistics() TransportStats
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent     uint64
	BytesReceived uint64
	WriteErrors   uint64
	ReadErrors    uint64
}

// ChannelState represents the state of a channel
type ChannelState int

const (
	ChannelStateOpen ChannelState = iota
	ChannelStateClosed
)

// String returns string representation of ChannelState
func (s ChannelState) String() string {
	switch s {
	case ChannelStateOpen:
		return "Open"
	case ChannelStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
