package channel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pipe is an in-memory PhysicalChannel. NewPipe returns two connected ends;
// every Write on one end is one Read on the other.
type Pipe struct {
	rx   <-chan []byte
	tx   chan<- []byte
	done chan struct{}
	peer *Pipe

	closeOnce sync.Once

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewPipe creates a connected pair of in-memory channels
func NewPipe() (*Pipe, *Pipe) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a := &Pipe{rx: ba, tx: ab, done: make(chan struct{})}
	b := &Pipe{rx: ab, tx: ba, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Read implements PhysicalChannel.Read
func (p *Pipe) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.rx:
		p.bytesReceived.Add(uint64(len(data)))
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPhysicalClosed
	case <-p.peer.done:
		return nil, ErrPhysicalClosed
	}
}

// Write implements PhysicalChannel.Write
func (p *Pipe) Write(ctx context.Context, data []byte) error {
	buf := append([]byte(nil), data...)
	select {
	case p.tx <- buf:
		p.bytesSent.Add(uint64(len(data)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPhysicalClosed
	case <-p.peer.done:
		return ErrPhysicalClosed
	}
}

// Close implements PhysicalChannel.Close. Closing either end closes both.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// Closed reports whether either end has been closed
func (p *Pipe) Closed() bool {
	select {
	case <-p.done:
		return true
	case <-p.peer.done:
		return true
	default:
		return false
	}
}

// Statistics implements PhysicalChannel.Statistics
func (p *Pipe) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     p.bytesSent.Load(),
		BytesReceived: p.bytesReceived.Load(),
	}
}
