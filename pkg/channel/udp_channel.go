package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/dnp3-bridge/pkg/link"
)

// UDPChannelConfig configures a UDP client channel
type UDPChannelConfig struct {
	Address      string // "host:port" of the outstation
	WriteTimeout time.Duration
}

// UDPChannel implements PhysicalChannel over a connected UDP socket. One
// datagram may carry several link frames.
type UDPChannel struct {
	conn *net.UDPConn

	readMu  sync.Mutex
	pending []byte

	writeTimeout time.Duration

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}
	closed atomic.Bool
}

// NewUDPChannel creates a UDP socket connected to the outstation
func NewUDPChannel(config UDPChannelConfig) (*UDPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	remote, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", config.Address, err)
	}
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address, err)
	}
	return &UDPChannel{conn: conn, writeTimeout: config.WriteTimeout}, nil
}

// Read implements PhysicalChannel.Read
func (uc *UDPChannel) Read(ctx context.Context) ([]byte, error) {
	uc.readMu.Lock()
	defer uc.readMu.Unlock()

	buf := make([]byte, 65535)
	for {
		if len(uc.pending) >= link.HeaderSize {
			size, err := link.FrameSize(uc.pending)
			if err != nil {
				uc.stats.readErrors.Add(1)
				uc.pending = nil
				return nil, err
			}
			if len(uc.pending) >= size {
				frame := uc.pending[:size:size]
				uc.pending = uc.pending[size:]
				return frame, nil
			}
		}
		uc.pending = nil

		n, err := uc.conn.Read(buf)
		if err != nil {
			if uc.closed.Load() || ctx.Err() != nil {
				return nil, ErrPhysicalClosed
			}
			uc.stats.readErrors.Add(1)
			return nil, err
		}
		uc.stats.bytesReceived.Add(uint64(n))
		uc.pending = append([]byte(nil), buf[:n]...)
	}
}

// Write implements PhysicalChannel.Write
func (uc *UDPChannel) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if uc.closed.Load() {
		return ErrPhysicalClosed
	}
	uc.conn.SetWriteDeadline(time.Now().Add(uc.writeTimeout))
	if _, err := uc.conn.Write(data); err != nil {
		uc.stats.writeErrors.Add(1)
		return err
	}
	uc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.Close
func (uc *UDPChannel) Close() error {
	if !uc.closed.CompareAndSwap(false, true) {
		return nil
	}
	return uc.conn.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (uc *UDPChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     uc.stats.bytesSent.Load(),
		BytesReceived: uc.stats.bytesReceived.Load(),
		WriteErrors:   uc.stats.writeErrors.Load(),
		ReadErrors:    uc.stats.readErrors.Load(),
	}
}
