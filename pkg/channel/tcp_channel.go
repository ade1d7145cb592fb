package channel

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChannelConfig configures a TCP client channel
type TCPChannelConfig struct {
	Address      string // "host:port"
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// TCPChannel implements PhysicalChannel over one TCP connection to an
// outstation. It does not reconnect; a lost connection surfaces as
// ErrPhysicalClosed and the owner opens a new channel.
type TCPChannel struct {
	*streamChannel
	conn net.Conn
}

// NewTCPChannel dials the outstation
func NewTCPChannel(ctx context.Context, config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	d := net.Dialer{Timeout: config.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address, err)
	}
	return &TCPChannel{
		streamChannel: newStreamChannel(conn, conn.Close, config.WriteTimeout),
		conn:          conn,
	}, nil
}

// RemoteAddr returns the remote address of the connection
func (tc *TCPChannel) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}

// NewTCPChannelFromConn wraps an accepted connection, as a listening
// outstation does
func NewTCPChannelFromConn(conn net.Conn, writeTimeout time.Duration) *TCPChannel {
	if writeTimeout == 0 {
		writeTimeout = 10 * time.Second
	}
	return &TCPChannel{
		streamChannel: newStreamChannel(conn, conn.Close, writeTimeout),
		conn:          conn,
	}
}
