package midi

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // registers the real-time MIDI driver backend
)

// PortOutput adapts a physical or virtual MIDI output port to the
// Scheduler's Output interface. Unlike the SMF parsing in file.go, no
// example in this pack opens a real hardware MIDI port — this wraps
// gitlab.com/gomidi/midi/v2's own documented driver/port API rather than
// inventing a new dependency, the same library already used for parsing.
type PortOutput struct {
	out  drivers.Out
	name string
}

// ListPorts returns the names of all currently available MIDI output
// ports, for the CLI's --list-ports.
func ListPorts() []string {
	ports := midi.OutPorts()
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.String())
	}
	return names
}

// OpenPort opens the named output port, or the first available port when
// name is empty (spec.md §4.1: "an empty output_port means the first
// available port").
func OpenPort(name string) (*PortOutput, error) {
	var out drivers.Out
	var err error
	if name == "" {
		out, err = midi.OutPort(0)
	} else {
		out, err = midi.FindOutPort(name)
	}
	if err != nil {
		return nil, fmt.Errorf("midi: open output port %q: %w", name, err)
	}
	if err := out.Open(); err != nil {
		return nil, fmt.Errorf("midi: open output port %q: %w", name, err)
	}
	return &PortOutput{out: out, name: out.String()}, nil
}

func (p *PortOutput) Name() string { return p.name }

// Send implements Output.
func (p *PortOutput) Send(msg []byte) error {
	return p.out.Send(msg)
}

func (p *PortOutput) Close() error {
	return p.out.Close()
}
