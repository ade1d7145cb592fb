package outstation

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"avaneesh/dnp3-bridge/pkg/device"
	"avaneesh/dnp3-bridge/pkg/tree"
)

// Action parameters that are not attributes
const (
	ParamName          = "Name"
	ParamManualCOMPort = "COM Port (manual entry)"
)

// Parameters builds the parameter list of the add and edit actions. d holds
// the defaults; a serial d yields serial parameters. Intervals are offered
// in seconds.
func Parameters(ports []string, d Config) []tree.Parameter {
	params := []tree.Parameter{{Name: ParamName, Type: tree.TypeString, Default: optString(d.Name)}}
	if s := d.Device.Serial; s != nil {
		params = append(params, comPortParams(ports, s.Port)...)
		params = append(params,
			numberParam(AttrBaudRate, float64(s.BaudRate)),
			numberParam(AttrDataBits, float64(s.DataBits)),
			numberParam(AttrStopBits, float64(s.StopBits)),
			numberParam(AttrParity, float64(s.Parity)),
		)
	} else {
		n := device.NetworkParams{}
		if d.Device.Network != nil {
			n = *d.Device.Network
		}
		proto := n.Protocol
		if proto == "" {
			proto = device.ProtocolTCP
		}
		params = append(params,
			tree.Parameter{Name: AttrHost, Type: tree.TypeString, Default: optString(n.Host)},
			numberParam(AttrPort, float64(n.Port)),
			tree.Parameter{Name: AttrProtocol, Type: tree.EnumType(device.Protocols...), Default: tree.String(proto)},
		)
	}
	return append(params,
		numberParam(AttrMasterAddress, float64(d.Device.MasterAddress)),
		numberParam(AttrOutstationAddress, float64(d.Device.OutstationAddress)),
		numberParam(AttrEventInterval, float64(d.EventPollInterval)/1000),
		numberParam(AttrStaticInterval, float64(d.StaticPollInterval)/1000),
	)
}

// comPortParams offers the scanned ports as an enum plus a free text entry.
// The current port is preselected when it was scanned, otherwise it is the
// manual entry default.
func comPortParams(ports []string, current string) []tree.Parameter {
	if len(ports) == 0 {
		return []tree.Parameter{{Name: AttrCOMPort, Type: tree.TypeString, Default: optString(current)}}
	}
	port := tree.Parameter{Name: AttrCOMPort, Type: tree.EnumType(ports...)}
	manual := tree.Parameter{Name: ParamManualCOMPort, Type: tree.TypeString}
	if slices.Contains(ports, current) {
		port.Default = tree.String(current)
	} else {
		manual.Default = optString(current)
	}
	return []tree.Parameter{port, manual}
}

func numberParam(name string, def float64) tree.Parameter {
	return tree.Parameter{Name: name, Type: tree.TypeNumber, Default: tree.Number(def)}
}

func optString(s string) tree.Value {
	if s == "" {
		return tree.Null()
	}
	return tree.String(s)
}

// ParamsToConfig converts add or edit action parameters into a normalized
// configuration. Violations wrap ErrConfiguration.
func ParamsToConfig(p tree.Params, isSerial bool) (Config, error) {
	c := Config{Name: strings.TrimSpace(p.Str(ParamName))}
	if isSerial {
		port := strings.TrimSpace(p.Str(ParamManualCOMPort))
		if port == "" {
			port = strings.TrimSpace(p.Str(AttrCOMPort))
		}
		c.Device.Serial = &device.SerialParams{
			Port:     port,
			BaudRate: int(p.Num(AttrBaudRate)),
			DataBits: int(p.Num(AttrDataBits)),
			StopBits: int(p.Num(AttrStopBits)),
			Parity:   int(p.Num(AttrParity)),
		}
	} else {
		proto := p.Str(AttrProtocol)
		if proto == "" {
			proto = device.ProtocolTCP
		}
		c.Device.Network = &device.NetworkParams{
			Host:     strings.TrimSpace(p.Str(AttrHost)),
			Port:     int(p.Num(AttrPort)),
			Protocol: proto,
		}
	}

	var err error
	if c.Device.MasterAddress, err = address(p, AttrMasterAddress); err != nil {
		return Config{}, err
	}
	if c.Device.OutstationAddress, err = address(p, AttrOutstationAddress); err != nil {
		return Config{}, err
	}
	if c.EventPollInterval, err = millis(p, AttrEventInterval); err != nil {
		return Config{}, err
	}
	if c.StaticPollInterval, err = millis(p, AttrStaticInterval); err != nil {
		return Config{}, err
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func address(p tree.Params, name string) (uint16, error) {
	v := p.Num(name)
	if v < 0 || v > math.MaxUint16 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s %v is not a valid address", ErrConfiguration, name, v)
	}
	return uint16(v), nil
}

func millis(p tree.Params, name string) (uint64, error) {
	ms := math.Round(p.Num(name) * 1000)
	if ms <= 0 || math.IsNaN(ms) || ms > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrConfiguration, name)
	}
	return uint64(ms), nil
}
