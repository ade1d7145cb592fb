package master

import (
	"sync"

	"avaneesh/dnp3-bridge/pkg/channel"
	"avaneesh/dnp3-bridge/pkg/link"
	"avaneesh/dnp3-bridge/pkg/transport"
)

// session connects the master to a channel
type session struct {
	linkAddress uint16
	remoteAddr  uint16
	channel     *channel.Channel
	master      *Master

	txMu sync.Mutex
	tx   *transport.Layer
	rx   *transport.Layer // read loop only
}

func newSession(local, remote uint16, ch *channel.Channel, m *Master) *session {
	return &session{
		linkAddress: local,
		remoteAddr:  remote,
		channel:     ch,
		master:      m,
		tx:          transport.NewLayer(),
		rx:          transport.NewLayer(),
	}
}

// OnReceive implements channel.Session
func (s *session) OnReceive(frame *link.Frame) error {
	if frame.Source != s.remoteAddr {
		s.master.logger.Debug("Master %s ignoring frame from %d", s.master.config.ID, frame.Source)
		return nil
	}
	if !frame.IsPrimary {
		// we only send unconfirmed data, secondary frames carry nothing for us
		return nil
	}

	switch frame.FunctionCode {
	case link.FuncResetLink, link.FuncTestLinkStates:
		if frame.FunctionCode == link.FuncResetLink {
			s.rx.Reset()
		}
		return s.channel.SendFrame(link.NewAck(frame))
	case link.FuncRequestLinkStatus:
		return s.channel.SendFrame(link.NewLinkStatus(frame))
	case link.FuncUserDataConfirmed:
		if err := s.channel.SendFrame(link.NewAck(frame)); err != nil {
			return err
		}
	case link.FuncUserDataUnconfirmed:
	default:
		return nil
	}

	apdu, err := s.rx.Receive(frame.UserData)
	if err != nil {
		return err
	}
	if apdu == nil {
		return nil
	}
	return s.master.onReceiveAPDU(apdu)
}

// LinkAddress implements channel.Session
func (s *session) LinkAddress() uint16 {
	return s.linkAddress
}

// sendAPDU segments the APDU and sends each segment as unconfirmed user data
func (s *session) sendAPDU(apdu []byte) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	for _, seg := range s.tx.Send(apdu) {
		frame := link.NewFrame(link.DirectionMasterToOutstation, link.PrimaryFrame,
			link.FuncUserDataUnconfirmed, s.remoteAddr, s.linkAddress, seg)
		if err := s.channel.SendFrame(frame); err != nil {
			return err
		}
	}
	return nil
}
