package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/pkg/channel"
)

// Server accepts master connections on a TCP listener. Every connection is
// served by its own Outstation over one shared database.
type Server struct {
	config Config
	db     *Database
	logger logger.Logger
	ln     net.Listener

	mu       sync.Mutex
	sessions map[*Outstation]*channel.Channel
	wg       sync.WaitGroup
}

// Listen opens the TCP listener
func Listen(addr string, config Config, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Server{
		config:   config,
		db:       NewDatabase(config.MaxEvents),
		logger:   log,
		ln:       ln,
		sessions: make(map[*Outstation]*channel.Channel),
	}, nil
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Database returns the shared point database
func (s *Server) Database() *Database {
	return s.db
}

// Serve accepts connections until ctx is done or the server is closed
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.logger.Info("Simulator accepted %s", conn.RemoteAddr())
		ch := channel.New(conn.RemoteAddr().String(), channel.NewTCPChannelFromConn(conn, 0), s.logger)
		o, err := attach(s.config, s.db, ch, s.logger)
		if err != nil {
			conn.Close()
			continue
		}
		if err := ch.Open(); err != nil {
			conn.Close()
			continue
		}
		s.mu.Lock()
		s.sessions[o] = ch
		s.mu.Unlock()
	}
}

// PushUnsolicited sends buffered events to every connection that enabled
// unsolicited responses
func (s *Server) PushUnsolicited() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for o, ch := range s.sessions {
		if ch.State() != channel.ChannelStateOpen {
			delete(s.sessions, o)
			continue
		}
		if !o.UnsolicitedEnabled() {
			continue
		}
		if err := o.PushUnsolicited(); err != nil {
			errs = append(errs, err)
		}
		// events are shared, the first enabled connection takes them
		break
	}
	return errors.Join(errs...)
}

// Close stops accepting and drops every connection
func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for o, ch := range s.sessions {
		ch.Close()
		delete(s.sessions, o)
	}
	s.mu.Unlock()
	return err
}
