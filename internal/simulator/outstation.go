// Package simulator is a small in-process DNP3 outstation. It answers class
// reads, direct operates and unsolicited enables, enough to exercise a master
// end to end without hardware.
package simulator

import (
	"errors"
	"fmt"
	"sync"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/pkg/app"
	"avaneesh/dnp3-bridge/pkg/channel"
	"avaneesh/dnp3-bridge/pkg/link"
	"avaneesh/dnp3-bridge/pkg/transport"
)

var ErrUnsolicitedDisabled = errors.New("unsolicited responses are not enabled")

// Config configures a simulated outstation
type Config struct {
	ID            string
	LocalAddress  uint16 // outstation
	RemoteAddress uint16 // master
	MaxEvents     int
}

// Outstation answers master requests from its database
type Outstation struct {
	config Config
	logger logger.Logger
	db     *Database

	channel *channel.Channel

	txMu sync.Mutex
	tx   *transport.Layer
	rx   *transport.Layer

	stateMu            sync.Mutex
	unsolicitedEnabled bool
	unsolSeq           uint8
	silent             bool
	controlStatus      uint8
	fragmentSize       int
	requests           []app.FunctionCode
	confirms           int
}

// New creates an outstation and registers it on the channel
func New(config Config, ch *channel.Channel, log logger.Logger) (*Outstation, error) {
	return attach(config, NewDatabase(config.MaxEvents), ch, log)
}

func attach(config Config, db *Database, ch *channel.Channel, log logger.Logger) (*Outstation, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.ID == "" {
		config.ID = "simulator"
	}
	o := &Outstation{
		config:  config,
		logger:  log,
		db:      db,
		channel: ch,
		tx:      transport.NewLayer(),
		rx:      transport.NewLayer(),
	}
	if err := ch.AddSession(o); err != nil {
		return nil, err
	}
	o.logger.Info("Outstation %s created: local=%d, remote=%d", config.ID, config.LocalAddress, config.RemoteAddress)
	return o, nil
}

// Database returns the point database
func (o *Outstation) Database() *Database {
	return o.db
}

// SetSilent makes the outstation drop every request unanswered
func (o *Outstation) SetSilent(silent bool) {
	o.stateMu.Lock()
	o.silent = silent
	o.stateMu.Unlock()
}

// SetControlStatus sets the status echoed for every command
func (o *Outstation) SetControlStatus(status uint8) {
	o.stateMu.Lock()
	o.controlStatus = status
	o.stateMu.Unlock()
}

// SetFragmentSize limits the object octets per response fragment. Zero
// sends single fragment responses.
func (o *Outstation) SetFragmentSize(size int) {
	o.stateMu.Lock()
	o.fragmentSize = size
	o.stateMu.Unlock()
}

// Requests returns the function codes received so far, confirms included
func (o *Outstation) Requests() []app.FunctionCode {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return append([]app.FunctionCode(nil), o.requests...)
}

// Confirms returns the number of application confirms received
func (o *Outstation) Confirms() int {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.confirms
}

// UnsolicitedEnabled reports whether the master has enabled unsolicited
// responses
func (o *Outstation) UnsolicitedEnabled() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.unsolicitedEnabled
}

// PushUnsolicited sends the buffered events as one unsolicited response
func (o *Outstation) PushUnsolicited() error {
	o.stateMu.Lock()
	if !o.unsolicitedEnabled {
		o.stateMu.Unlock()
		return ErrUnsolicitedDisabled
	}
	seq := o.unsolSeq
	o.unsolSeq = (o.unsolSeq + 1) & app.AppCtrlSeqMask
	o.stateMu.Unlock()

	iin := o.db.iin()
	events := o.db.TakeEvents()
	if len(events) == 0 {
		return nil
	}
	objects := fragment(eventChunks(events), 0)[0]
	return o.sendAPDU(app.NewUnsolicitedAPDU(seq, iin, objects))
}

// OnReceive implements channel.Session
func (o *Outstation) OnReceive(frame *link.Frame) error {
	if !frame.IsPrimary {
		return nil
	}
	switch frame.FunctionCode {
	case link.FuncResetLink, link.FuncTestLinkStates:
		return o.channel.SendFrame(link.NewAck(frame))
	case link.FuncRequestLinkStatus:
		return o.channel.SendFrame(link.NewLinkStatus(frame))
	case link.FuncUserDataConfirmed:
		if err := o.channel.SendFrame(link.NewAck(frame)); err != nil {
			return err
		}
	case link.FuncUserDataUnconfirmed:
	default:
		return nil
	}

	data, err := o.rx.Receive(frame.UserData)
	if err != nil || data == nil {
		return err
	}
	req, err := app.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}
	return o.handle(req)
}

// LinkAddress implements channel.Session
func (o *Outstation) LinkAddress() uint16 {
	return o.config.LocalAddress
}

func (o *Outstation) handle(req *app.APDU) error {
	o.stateMu.Lock()
	o.requests = append(o.requests, req.FunctionCode)
	silent := o.silent
	if req.FunctionCode == app.FuncConfirm {
		o.confirms++
	}
	o.stateMu.Unlock()

	o.logger.Debug("Outstation %s received: %s", o.config.ID, req)
	if silent || req.FunctionCode == app.FuncConfirm {
		return nil
	}

	switch req.FunctionCode {
	case app.FuncRead:
		return o.handleRead(req)
	case app.FuncDirectOperate:
		objects, err := o.operate(req.Objects)
		if err != nil {
			return o.respond(req.Sequence, app.IIN{IIN2: app.IIN2ParameterError}, nil)
		}
		return o.respond(req.Sequence, o.db.iin(), objects)
	case app.FuncEnableUnsolicited, app.FuncDisableUnsolicited:
		o.stateMu.Lock()
		o.unsolicitedEnabled = req.FunctionCode == app.FuncEnableUnsolicited
		o.stateMu.Unlock()
		return o.respond(req.Sequence, o.db.iin(), nil)
	}
	return o.respond(req.Sequence, app.IIN{IIN2: app.IIN2NoFuncCodeSupport}, nil)
}

func (o *Outstation) handleRead(req *app.APDU) error {
	p := app.NewParser(req.Objects)
	static, events := false, false
	for p.HasMore() {
		h, err := p.ReadObjectHeader()
		if err != nil {
			return o.respond(req.Sequence, app.IIN{IIN2: app.IIN2ParameterError}, nil)
		}
		if h.Group != app.GroupClassData {
			return o.respond(req.Sequence, app.IIN{IIN2: app.IIN2ObjectUnknown}, nil)
		}
		if h.Variation == 1 {
			static = true
		} else {
			events = true
		}
	}

	var chunks [][]byte
	if events {
		chunks = append(chunks, eventChunks(o.db.TakeEvents())...)
	}
	if static {
		chunks = append(chunks, o.db.staticChunks()...)
	}

	o.stateMu.Lock()
	size := o.fragmentSize
	o.stateMu.Unlock()

	fragments := fragment(chunks, size)
	iin := o.db.iin()
	seq := req.Sequence
	for i, objects := range fragments {
		resp := app.NewResponseAPDU(seq, iin, objects)
		resp.FIR = i == 0
		resp.FIN = i == len(fragments)-1
		resp.CON = !resp.FIN
		if err := o.sendAPDU(resp); err != nil {
			return err
		}
		seq = (seq + 1) & app.AppCtrlSeqMask
	}
	return nil
}

// operate applies every command in a direct operate request and returns the
// echo with the status filled in
func (o *Outstation) operate(objects []byte) ([]byte, error) {
	o.stateMu.Lock()
	status := o.controlStatus
	o.stateMu.Unlock()

	p := app.NewParser(objects)
	b := app.NewObjectBuilder()
	for p.HasMore() {
		h, err := p.ReadObjectHeader()
		if err != nil {
			return nil, err
		}
		prefix := h.Qualifier.PrefixSize()
		if prefix <= 0 {
			return nil, fmt.Errorf("unsupported qualifier 0x%02X", uint8(h.Qualifier))
		}
		size := app.ObjectSize(h.Group, h.Variation)
		if size == 0 || (h.Group != app.GroupBinaryOutputCommand && h.Group != app.GroupAnalogOutputCommand) {
			return nil, fmt.Errorf("unsupported command object g%dv%d", h.Group, h.Variation)
		}
		b.AddHeader(h.Group, h.Variation, h.Qualifier, h.Range)
		for i := uint32(0); i < app.GetCount(h.Range); i++ {
			index, err := p.ReadUint(prefix)
			if err != nil {
				return nil, err
			}
			data, err := p.ReadBytes(size)
			if err != nil {
				return nil, err
			}
			st := status
			if st == app.ControlStatusSuccess {
				st = o.apply(h, uint16(index), data)
			}
			echo := append([]byte(nil), data...)
			echo[len(echo)-1] = st
			switch prefix {
			case 1:
				b.AddByte(uint8(index))
			case 2:
				b.AddUint16(uint16(index))
			default:
				b.AddUint32(index)
			}
			b.AddRawData(echo)
		}
	}
	return b.Build(), nil
}

func (o *Outstation) apply(h *app.ObjectHeader, index uint16, data []byte) uint8 {
	if h.Group == app.GroupBinaryOutputCommand {
		if _, ok := o.db.Value(PointTypeBinaryOutput, index); !ok {
			return app.ControlStatusNotSupported
		}
		crob, err := app.ParseCROB(data)
		if err != nil {
			return app.ControlStatusFormatError
		}
		switch crob.ControlCode {
		case app.ControlCodeLatchOn, app.ControlCodePulseOn, app.ControlCodeCloseOn:
			o.db.Update(PointTypeBinaryOutput, index, 1)
		case app.ControlCodeLatchOff, app.ControlCodePulseOff, app.ControlCodeTripOff:
			o.db.Update(PointTypeBinaryOutput, index, 0)
		default:
			return app.ControlStatusNotSupported
		}
		o.logger.Info("Outstation %s BO[%d] operated: %s", o.config.ID, index, crob)
		return app.ControlStatusSuccess
	}

	if _, ok := o.db.Value(PointTypeAnalogOutput, index); !ok {
		return app.ControlStatusNotSupported
	}
	ao, err := app.ParseAnalogOutput(h.Variation, data)
	if err != nil {
		return app.ControlStatusNotSupported
	}
	o.db.Update(PointTypeAnalogOutput, index, ao.Value)
	o.logger.Info("Outstation %s AO[%d] set to %g", o.config.ID, index, ao.Value)
	return app.ControlStatusSuccess
}

func (o *Outstation) respond(seq uint8, iin app.IIN, objects []byte) error {
	return o.sendAPDU(app.NewResponseAPDU(seq, iin, objects))
}

func (o *Outstation) sendAPDU(apdu *app.APDU) error {
	o.txMu.Lock()
	defer o.txMu.Unlock()

	o.logger.Debug("Outstation %s sending: %s", o.config.ID, apdu)
	for _, seg := range o.tx.Send(apdu.Serialize()) {
		frame := link.NewFrame(link.DirectionOutstationToMaster, link.PrimaryFrame,
			link.FuncUserDataUnconfirmed, o.config.RemoteAddress, o.config.LocalAddress, seg)
		if err := o.channel.SendFrame(frame); err != nil {
			return err
		}
	}
	return nil
}
