package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/dnp3-bridge/pkg/link"
)

// ErrPhysicalClosed is returned once the underlying medium is gone
var ErrPhysicalClosed = errors.New("physical channel closed")

// ReadFrame reads one link frame from a byte stream, skipping any noise
// before the start bytes
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	frame := make([]byte, link.HeaderSize, link.MaxFrameSize)

	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == link.StartByte1 && b == link.StartByte2 {
			break
		}
		prev = b
	}
	frame[0], frame[1] = link.StartByte1, link.StartByte2

	if _, err := io.ReadFull(r, frame[2:link.HeaderSize]); err != nil {
		return nil, err
	}
	size, err := link.FrameSize(frame)
	if err != nil {
		return nil, err
	}
	frame = frame[:size]
	if _, err := io.ReadFull(r, frame[link.HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// deadliner is implemented by net.Conn and quic streams
type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

// streamChannel adapts a byte stream (TCP connection, QUIC stream, serial
// port) to PhysicalChannel
type streamChannel struct {
	rw     io.ReadWriter
	br     *bufio.Reader
	closer func() error

	writeMu      sync.Mutex
	writeTimeout time.Duration

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}
	closed atomic.Bool
}

func newStreamChannel(rw io.ReadWriter, closer func() error, writeTimeout time.Duration) *streamChannel {
	return &streamChannel{
		rw:           rw,
		br:           bufio.NewReaderSize(rw, link.MaxFrameSize),
		closer:       closer,
		writeTimeout: writeTimeout,
	}
}

// Read implements PhysicalChannel.Read. Cancellation is effected by Close,
// which unblocks the pending stream read.
func (s *streamChannel) Read(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrPhysicalClosed
	}
	frame, err := ReadFrame(s.br)
	if err != nil {
		if s.closed.Load() || ctx.Err() != nil {
			return nil, ErrPhysicalClosed
		}
		s.stats.readErrors.Add(1)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", ErrPhysicalClosed, err)
		}
		return nil, err
	}
	s.stats.bytesReceived.Add(uint64(len(frame)))
	return frame, nil
}

// Write implements PhysicalChannel.Write
func (s *streamChannel) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrPhysicalClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if d, ok := s.rw.(deadliner); ok && s.writeTimeout > 0 {
		d.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.rw.Write(data); err != nil {
		s.stats.writeErrors.Add(1)
		return err
	}
	s.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.Close
func (s *streamChannel) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.closer()
}

// Statistics implements PhysicalChannel.Statistics
func (s *streamChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     s.stats.bytesSent.Load(),
		BytesReceived: s.stats.bytesReceived.Load(),
		WriteErrors:   s.stats.writeErrors.Load(),
		ReadErrors:    s.stats.readErrors.Load(),
	}
}
