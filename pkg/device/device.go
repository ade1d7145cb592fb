// Package device wraps one DNP3 outstation connection behind synchronous
// read and control calls.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/pkg/channel"
	"avaneesh/dnp3-bridge/pkg/master"
	"avaneesh/dnp3-bridge/pkg/point"
)

var (
	ErrConnection = errors.New("connection failure")
	ErrComm       = errors.New("communication failure")
)

// Handler receives records an outstation pushes unsolicited
type Handler func(records []point.Raw)

// Session is an open outstation connection. Calls block until the exchange
// completes; callers serialize them.
type Session interface {
	ReadStatic(ctx context.Context) ([]point.Raw, error)
	ReadEvents(ctx context.Context) ([]point.Raw, error)
	Operate(ctx context.Context, cmd point.Command) error
	Close() error
}

// Opener opens sessions
type Opener interface {
	Open(ctx context.Context, cfg Config, h Handler) (Session, error)
}

// Dialer creates the physical channel for a configuration
type Dialer func(ctx context.Context, cfg Config) (channel.PhysicalChannel, error)

// Dial opens the physical channel a configuration names
func Dial(ctx context.Context, cfg Config) (channel.PhysicalChannel, error) {
	if cfg.Serial != nil {
		sc, err := channel.NewSerialChannel(channel.SerialChannelConfig{
			Port:     cfg.Serial.Port,
			BaudRate: cfg.Serial.BaudRate,
			DataBits: cfg.Serial.DataBits,
			StopBits: cfg.Serial.StopBits,
			Parity:   cfg.Serial.Parity,
		})
		if err != nil {
			return nil, err
		}
		return sc, nil
	}

	addr := cfg.Network.Address()
	switch cfg.Network.Protocol {
	case ProtocolUDP:
		uc, err := channel.NewUDPChannel(channel.UDPChannelConfig{Address: addr})
		if err != nil {
			return nil, err
		}
		return uc, nil
	case ProtocolQUIC:
		qc, err := channel.NewQUICChannel(ctx, channel.QUICChannelConfig{Address: addr})
		if err != nil {
			return nil, err
		}
		return qc, nil
	}
	tc, err := channel.NewTCPChannel(ctx, channel.TCPChannelConfig{Address: addr})
	if err != nil {
		return nil, err
	}
	return tc, nil
}

// Option configures an Adapter
type Option func(*Adapter)

// WithDialer replaces the physical channel factory
func WithDialer(d Dialer) Option {
	return func(a *Adapter) { a.dial = d }
}

// WithBufferSize sets how many unsolicited batches may queue for the handler
func WithBufferSize(n int) Option {
	return func(a *Adapter) { a.bufferSize = n }
}

// Adapter opens master sessions over serial or network channels
type Adapter struct {
	logger     logger.Logger
	dial       Dialer
	bufferSize int
}

// NewAdapter creates an adapter
func NewAdapter(log logger.Logger, opts ...Option) *Adapter {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	a := &Adapter{logger: log, dial: Dial, bufferSize: 64}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open connects to the outstation. It does not retry; failures wrap
// ErrConnection. h may be nil.
func (a *Adapter) Open(ctx context.Context, cfg Config, h Handler) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	phys, err := a.dial(ctx, cfg)
	if err != nil {
		a.logger.Warn("Failed to open %s: %v", cfg, err)
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	ch := channel.New(cfg.String(), phys, a.logger)
	s := &session{
		cfg:     cfg,
		channel: ch,
		handler: h,
		logger:  a.logger,
		updates: make(chan []point.Raw, a.bufferSize),
		done:    make(chan struct{}),
	}
	m, err := master.New(master.Config{
		ID:              cfg.String(),
		LocalAddress:    cfg.MasterAddress,
		RemoteAddress:   cfg.OutstationAddress,
		ResponseTimeout: cfg.ResponseTimeout,
	}, master.UnsolicitedFunc(s.onUnsolicited), ch, a.logger)
	if err != nil {
		phys.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	s.master = m
	if err := ch.Open(); err != nil {
		m.Close()
		phys.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch()
	}()

	if cfg.EnableUnsolicited {
		if err := m.EnableUnsolicited(ctx); err != nil {
			a.logger.Warn("Outstation %s did not enable unsolicited: %v", cfg, err)
		}
	}
	a.logger.Info("Opened %s", cfg)
	return s, nil
}

type session struct {
	cfg     Config
	channel *channel.Channel
	master  *master.Master
	handler Handler
	logger  logger.Logger

	updates   chan []point.Raw
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// onUnsolicited runs on the channel read loop and only queues
func (s *session) onUnsolicited(elements []master.Element) {
	if s.handler == nil {
		return
	}
	records := toRaw(elements)
	select {
	case s.updates <- records:
	case <-s.done:
	default:
		s.logger.Warn("Outstation %s: unsolicited queue full, dropped %d records", s.cfg, len(records))
	}
}

func (s *session) dispatch() {
	for {
		select {
		case records := <-s.updates:
			s.handler(records)
		case <-s.done:
			return
		}
	}
}

func toRaw(elements []master.Element) []point.Raw {
	out := make([]point.Raw, len(elements))
	for i, e := range elements {
		out[i] = point.Raw{Group: e.Group, Index: e.Index, Value: e.Value}
	}
	return out
}

func (s *session) ReadStatic(ctx context.Context) ([]point.Raw, error) {
	elements, err := s.master.ReadStatic(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrComm, err)
	}
	return toRaw(elements), nil
}

func (s *session) ReadEvents(ctx context.Context) ([]point.Raw, error) {
	elements, err := s.master.ReadEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrComm, err)
	}
	return toRaw(elements), nil
}

func (s *session) Operate(ctx context.Context, cmd point.Command) error {
	if cmd.Index > 0xFFFF {
		return fmt.Errorf("%w: index %d out of range for a direct operate", ErrComm, cmd.Index)
	}
	var err error
	switch cmd.Category {
	case point.BinaryOutput:
		err = s.master.DirectOperateCROB(ctx, uint16(cmd.Index), cmd.CROB)
	case point.AnalogOutput:
		err = s.master.DirectOperateAnalog(ctx, uint16(cmd.Index), cmd.Analog)
	default:
		return fmt.Errorf("%w: %s is not writable", ErrComm, cmd.Category)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrComm, err)
	}
	return nil
}

// Close stops the dispatcher, detaches the master and closes the channel
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.master.Close()
		err = s.channel.Close()
		s.wg.Wait()
		s.logger.Info("Closed %s", s.cfg)
	})
	return err
}
