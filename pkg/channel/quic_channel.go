package channel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICNextProto is the ALPN protocol both ends must agree on
const QUICNextProto = "dnp3-quic"

// QUICChannelConfig configures a QUIC client channel
type QUICChannelConfig struct {
	Address      string // "host:port"
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	TLSConfig    *tls.Config // nil accepts any certificate
}

// QUICChannel implements PhysicalChannel over a single bidirectional QUIC
// stream
type QUICChannel struct {
	*streamChannel
	conn *quic.Conn
}

// NewQUICChannel dials the outstation and opens the frame stream
func NewQUICChannel(ctx context.Context, config QUICChannelConfig) (*QUICChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	tlsConf := config.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{NextProtos: []string{QUICNextProto}, InsecureSkipVerify: true}
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve remote address %s: %w", config.Address, err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP socket: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	conn, err := quic.Dial(dialCtx, udpConn, remoteAddr, tlsConf, nil)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address, err)
	}
	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		udpConn.Close()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	closer := func() error {
		stream.Close()
		err := conn.CloseWithError(0, "channel closed")
		udpConn.Close()
		return err
	}
	return &QUICChannel{
		streamChannel: newStreamChannel(stream, closer, config.WriteTimeout),
		conn:          conn,
	}, nil
}

// RemoteAddr returns the remote address of the connection
func (qc *QUICChannel) RemoteAddr() net.Addr {
	return qc.conn.RemoteAddr()
}

// GenerateTLSConfig builds a self-signed server configuration for QUIC
// listeners
func GenerateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{QUICNextProto},
	}, nil
}
