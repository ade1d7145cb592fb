package channel

import "sync/atomic"

// Statistics tracks channel-level statistics
type Statistics struct {
	linkFramesTx  atomic.Uint64
	linkFramesRx  atomic.Uint64
	badLinkFrames atomic.Uint64
	unroutable    atomic.Uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) linkFrameTx()   { s.linkFramesTx.Add(1) }
func (s *Statistics) linkFrameRx()   { s.linkFramesRx.Add(1) }
func (s *Statistics) badLinkFrame()  { s.badLinkFrames.Add(1) }
func (s *Statistics) unroutedFrame() { s.unroutable.Add(1) }

// LinkFramesTx returns transmitted link frames
func (s *Statistics) LinkFramesTx() uint64 { return s.linkFramesTx.Load() }

// LinkFramesRx returns received link frames
func (s *Statistics) LinkFramesRx() uint64 { return s.linkFramesRx.Load() }

// BadLinkFrames returns frames that failed to parse
func (s *Statistics) BadLinkFrames() uint64 { return s.badLinkFrames.Load() }

// UnroutedFrames returns frames with no session at their destination
func (s *Statistics) UnroutedFrames() uint64 { return s.unroutable.Load() }
