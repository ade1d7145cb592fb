package master

import (
	"context"
	"fmt"

	"avaneesh/dnp3-bridge/pkg/app"
)

// ReadStatic performs a Class 0 read and returns every static point value
func (m *Master) ReadStatic(ctx context.Context) ([]Element, error) {
	return m.read(ctx, "static", app.BuildIntegrityPoll())
}

// ReadEvents performs a Class 1, 2, 3 read and returns the buffered events
func (m *Master) ReadEvents(ctx context.Context) ([]Element, error) {
	return m.read(ctx, "event", app.BuildEventPoll())
}

func (m *Master) read(ctx context.Context, kind string, objects []byte) ([]Element, error) {
	fragments, err := m.request(ctx, app.FuncRead, objects)
	if err != nil {
		return nil, fmt.Errorf("%s read failed: %w", kind, err)
	}
	var out []Element
	for _, f := range fragments {
		if f.IIN.RequestRejected() {
			return nil, fmt.Errorf("%s read: %w (IIN %s)", kind, ErrRejected, f.IIN)
		}
		ms, err := app.DecodeMeasurements(f.Objects)
		if err != nil {
			// keep what decoded before the unknown object
			m.logger.Warn("Master %s %s read decode stopped: %v", m.config.ID, kind, err)
		}
		out = append(out, toElements(ms)...)
	}
	m.logger.Debug("Master %s %s read returned %d values", m.config.ID, kind, len(out))
	return out, nil
}

// DirectOperateCROB sends a g12v1 direct operate to the binary output index
func (m *Master) DirectOperateCROB(ctx context.Context, index uint16, crob app.CROB) error {
	m.logger.Info("Master %s direct operate BO[%d]: %s", m.config.ID, index, crob)
	return m.operate(ctx, app.BuildCROB(index, crob))
}

// DirectOperateAnalog sends a g41 direct operate to the analog output index
func (m *Master) DirectOperateAnalog(ctx context.Context, index uint16, ao app.AnalogOutput) error {
	m.logger.Info("Master %s direct operate AO[%d]: g41v%d value=%g", m.config.ID, index, ao.Variation, ao.Value)
	return m.operate(ctx, app.BuildAnalogOutput(index, ao))
}

func (m *Master) operate(ctx context.Context, objects []byte) error {
	fragments, err := m.request(ctx, app.FuncDirectOperate, objects)
	if err != nil {
		return fmt.Errorf("direct operate failed: %w", err)
	}
	resp := fragments[len(fragments)-1]
	if resp.IIN.RequestRejected() {
		return fmt.Errorf("direct operate: %w (IIN %s)", ErrRejected, resp.IIN)
	}
	echoes, err := app.DecodeControlEchoes(resp.Objects)
	if err != nil {
		return fmt.Errorf("direct operate: bad response: %w", err)
	}
	if len(echoes) == 0 {
		return fmt.Errorf("direct operate: %w: no command echo", ErrControlFailed)
	}
	for _, e := range echoes {
		if e.Status != app.ControlStatusSuccess {
			return fmt.Errorf("direct operate: %w: index %d status %s", ErrControlFailed, e.Index, app.ControlStatusString(e.Status))
		}
	}
	return nil
}

// EnableUnsolicited asks the outstation to report Class 1, 2, 3 events
// without being polled
func (m *Master) EnableUnsolicited(ctx context.Context) error {
	fragments, err := m.request(ctx, app.FuncEnableUnsolicited, app.BuildEnableUnsolicited())
	if err != nil {
		return fmt.Errorf("enable unsolicited failed: %w", err)
	}
	if iin := fragments[len(fragments)-1].IIN; iin.RequestRejected() {
		return fmt.Errorf("enable unsolicited: %w (IIN %s)", ErrRejected, iin)
	}
	return nil
}
