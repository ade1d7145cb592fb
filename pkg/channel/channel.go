package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/pkg/link"
)

var (
	ErrChannelClosed = errors.New("channel is closed")
	ErrChannelOpen   = errors.New("channel is already open")
)

// Channel runs the read and write loops over one physical channel and
// dispatches received frames to sessions by link address
type Channel struct {
	id              string
	physicalChannel PhysicalChannel
	router          *Router
	stats           *Statistics
	logger          logger.Logger

	state   ChannelState
	stateMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeQueue chan *writeRequest
}

type writeRequest struct {
	data []byte
	resp chan error
}

// New creates a new channel
func New(id string, physical PhysicalChannel, log logger.Logger) *Channel {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		id:              id,
		physicalChannel: physical,
		router:          NewRouter(),
		stats:           NewStatistics(),
		logger:          log,
		state:           ChannelStateClosed,
		ctx:             ctx,
		cancel:          cancel,
		writeQueue:      make(chan *writeRequest, 16),
	}
}

// ID returns the channel ID
func (c *Channel) ID() string {
	return c.id
}

// Open starts the read and write loops
func (c *Channel) Open() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == ChannelStateOpen {
		return ErrChannelOpen
	}
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	c.state = ChannelStateOpen

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()

	c.logger.Debug("Channel %s opened", c.id)
	return nil
}

// Close stops both loops and closes the physical channel. A closed channel
// cannot be reopened.
func (c *Channel) Close() error {
	c.stateMu.Lock()
	wasOpen := c.state == ChannelStateOpen
	c.state = ChannelStateClosed
	c.stateMu.Unlock()

	if c.ctx.Err() != nil {
		return nil
	}
	c.cancel()

	err := c.physicalChannel.Close()
	if err != nil {
		c.logger.Warn("Channel %s: error closing physical channel: %v", c.id, err)
	}
	if wasOpen {
		c.wg.Wait()
	}
	c.logger.Debug("Channel %s closed", c.id)
	return err
}

func (c *Channel) readLoop() {
	for {
		data, err := c.physicalChannel.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrPhysicalClosed) {
				c.logger.Warn("Channel %s: connection lost: %v", c.id, err)
				return
			}
			c.logger.Debug("Channel %s read error: %v", c.id, err)
			c.stats.badLinkFrame()
			continue
		}

		if logger.FrameDebugEnabled() {
			c.logger.Debug("Channel %s RX %s", c.id, logger.HexDump(data))
		}

		frame, _, err := link.Parse(data)
		if err != nil {
			c.logger.Debug("Channel %s parse error: %v", c.id, err)
			c.stats.badLinkFrame()
			continue
		}
		c.stats.linkFrameRx()

		if err := c.router.Route(frame); err != nil {
			c.stats.unroutedFrame()
			c.logger.Debug("Channel %s routing error: %v", c.id, err)
		}
	}
}

func (c *Channel) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			for {
				select {
				case req := <-c.writeQueue:
					req.resp <- ErrChannelClosed
				default:
					return
				}
			}

		case req := <-c.writeQueue:
			if logger.FrameDebugEnabled() {
				c.logger.Debug("Channel %s TX %s", c.id, logger.HexDump(req.data))
			}
			err := c.physicalChannel.Write(c.ctx, req.data)
			if err == nil {
				c.stats.linkFrameTx()
			}
			req.resp <- err
		}
	}
}

// Write queues serialized frame data and waits until it is written
func (c *Channel) Write(data []byte) error {
	if c.State() != ChannelStateOpen {
		return ErrChannelClosed
	}

	req := &writeRequest{data: data, resp: make(chan error, 1)}
	select {
	case c.writeQueue <- req:
	case <-c.ctx.Done():
		return ErrChannelClosed
	}
	select {
	case err := <-req.resp:
		return err
	case <-c.ctx.Done():
		return ErrChannelClosed
	}
}

// SendFrame serializes and writes a link frame
func (c *Channel) SendFrame(frame *link.Frame) error {
	data, err := frame.Serialize()
	if err != nil {
		return err
	}
	return c.Write(data)
}

// AddSession registers a session for frames addressed to it
func (c *Channel) AddSession(session Session) error {
	return c.router.AddSession(session)
}

// RemoveSession removes the session at address
func (c *Channel) RemoveSession(address uint16) {
	c.router.RemoveSession(address)
}

// Statistics returns channel statistics
func (c *Channel) Statistics() *Statistics {
	return c.stats
}

// PhysicalStatistics returns physical channel statistics
func (c *Channel) PhysicalStatistics() TransportStats {
	return c.physicalChannel.Statistics()
}

// State returns the current channel state
func (c *Channel) State() ChannelState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// String returns string representation of channel
func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ID=%s, State=%s, Sessions=%d}", c.id, c.State(), c.router.SessionCount())
}
