package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/pkg/app"
	"avaneesh/dnp3-bridge/pkg/channel"
)

var (
	ErrTimeout       = errors.New("operation timeout")
	ErrClosed        = errors.New("master is closed")
	ErrRejected      = errors.New("request rejected by outstation")
	ErrControlFailed = errors.New("control operation failed")
)

// Master issues requests to one outstation over a channel and waits for the
// answers. One request is outstanding at a time.
type Master struct {
	config  Config
	handler UnsolicitedHandler
	logger  logger.Logger

	channel *channel.Channel
	session *session

	reqMu sync.Mutex
	seq   uint8

	pendingMu sync.Mutex
	pending   chan *app.APDU

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a master and registers its session on the channel. handler may
// be nil when unsolicited responses are not wanted.
func New(config Config, handler UnsolicitedHandler, ch *channel.Channel, log logger.Logger) (*Master, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Master{
		config:  config,
		handler: handler,
		logger:  log,
		channel: ch,
		ctx:     ctx,
		cancel:  cancel,
	}
	m.session = newSession(config.LocalAddress, config.RemoteAddress, ch, m)

	if err := ch.AddSession(m.session); err != nil {
		cancel()
		return nil, err
	}

	m.logger.Info("Master %s created: local=%d, remote=%d", config.ID, config.LocalAddress, config.RemoteAddress)
	return m, nil
}

// Close detaches the master from its channel. Requests in flight fail with
// ErrClosed. The channel itself is left open.
func (m *Master) Close() error {
	if m.ctx.Err() != nil {
		return nil
	}
	m.cancel()
	m.channel.RemoveSession(m.config.LocalAddress)
	m.logger.Info("Master %s closed", m.config.ID)
	return nil
}

func (m *Master) nextSequence() uint8 {
	s := m.seq
	m.seq = (m.seq + 1) & app.AppCtrlSeqMask
	return s
}

// onReceiveAPDU is called by the session for every reassembled APDU
func (m *Master) onReceiveAPDU(data []byte) error {
	apdu, err := app.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse APDU: %w", err)
	}
	m.logger.Debug("Master %s received: %s", m.config.ID, apdu)

	switch apdu.FunctionCode {
	case app.FuncUnsolicitedResponse:
		m.onUnsolicited(apdu)
	case app.FuncResponse:
		m.pendingMu.Lock()
		pending := m.pending
		m.pendingMu.Unlock()
		if pending == nil {
			m.logger.Debug("Master %s dropping response seq=%d, nothing pending", m.config.ID, apdu.Sequence)
			return nil
		}
		select {
		case pending <- apdu:
		default:
			m.logger.Warn("Master %s response queue full, dropping seq=%d", m.config.ID, apdu.Sequence)
		}
	default:
		m.logger.Debug("Master %s ignoring %s", m.config.ID, apdu.FunctionCode)
	}
	return nil
}

func (m *Master) onUnsolicited(apdu *app.APDU) {
	if apdu.CON {
		if err := m.session.sendAPDU(app.NewConfirmAPDU(apdu.Sequence, true).Serialize()); err != nil {
			m.logger.Warn("Master %s failed to confirm unsolicited seq=%d: %v", m.config.ID, apdu.Sequence, err)
		}
	}
	ms, err := app.DecodeMeasurements(apdu.Objects)
	if err != nil {
		m.logger.Warn("Master %s unsolicited decode stopped: %v", m.config.ID, err)
	}
	if m.handler != nil && len(ms) > 0 {
		m.handler.OnUnsolicited(toElements(ms))
	}
}

// request sends one request and collects every fragment of the answer.
// Each fragment is confirmed when the outstation asks for it.
func (m *Master) request(ctx context.Context, fc app.FunctionCode, objects []byte) ([]*app.APDU, error) {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	if m.ctx.Err() != nil {
		return nil, ErrClosed
	}

	seq := m.nextSequence()
	pending := make(chan *app.APDU, 8)
	m.pendingMu.Lock()
	m.pending = pending
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		m.pending = nil
		m.pendingMu.Unlock()
	}()

	req := app.NewRequestAPDU(fc, seq, objects)
	m.logger.Debug("Master %s sending: %s", m.config.ID, req)
	if err := m.session.sendAPDU(req.Serialize()); err != nil {
		return nil, err
	}

	var fragments []*app.APDU
	expect := seq
	for {
		resp, err := m.await(ctx, pending)
		if err != nil {
			return fragments, err
		}
		if resp.Sequence != expect {
			m.logger.Debug("Master %s unexpected seq=%d, want %d", m.config.ID, resp.Sequence, expect)
			continue
		}
		if len(fragments) == 0 && !resp.FIR {
			continue
		}
		fragments = append(fragments, resp)
		if resp.CON {
			if err := m.session.sendAPDU(app.NewConfirmAPDU(resp.Sequence, false).Serialize()); err != nil {
				return fragments, err
			}
		}
		if resp.FIN {
			return fragments, nil
		}
		expect = (expect + 1) & app.AppCtrlSeqMask
	}
}

func (m *Master) await(ctx context.Context, pending <-chan *app.APDU) (*app.APDU, error) {
	timer := time.NewTimer(m.config.ResponseTimeout)
	defer timer.Stop()
	select {
	case resp := <-pending:
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.ctx.Done():
		return nil, ErrClosed
	}
}

// String returns string representation
func (m *Master) String() string {
	return fmt.Sprintf("Master{ID=%s, Local=%d, Remote=%d}", m.config.ID, m.config.LocalAddress, m.config.RemoteAddress)
}
