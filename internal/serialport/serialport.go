package serialport

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Simulation is the pseudo-port selecting a UDP link to a simulator
const Simulation = "Simulation"

// DefaultBaudRate is preselected in the connection dialog
const DefaultBaudRate = 57600

// BaudRates lists the rates offered for a connection. 14550 is the default
// simulator UDP port and is meant for the Simulation pseudo-port.
var BaudRates = []int{9600, 19200, 38400, 57600, 115200, 14550}

// Port describes a serial device
type Port struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"isUSB"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Description returns a human-readable label for the port
func (p Port) Description() string {
	if p.IsUSB && p.Product != "" {
		return fmt.Sprintf("%s (%s)", p.Name, p.Product)
	}
	if p.IsUSB {
		return fmt.Sprintf("%s (USB %s:%s)", p.Name, p.VID, p.PID)
	}
	return p.Name
}

// Lister enumerates serial ports
type Lister interface {
	List() ([]Port, error)
}

// SystemLister enumerates ports of the host
type SystemLister struct{}

// List returns the ports sorted by name. USB details come from the enumerator;
// platforms it does not support fall back to the plain port list.
func (SystemLister) List() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]Port, 0, len(details))
		for _, d := range details {
			ports = append(ports, Port{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		sortPorts(ports)
		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}

	ports := make([]Port, 0, len(names))
	for _, name := range names {
		ports = append(ports, Port{Name: name})
	}
	sortPorts(ports)
	return ports, nil
}

func sortPorts(ports []Port) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
}

// Connections returns the selectable connection names: every port followed by
// the Simulation pseudo-port.
func Connections(ports []Port) []string {
	out := make([]string, 0, len(ports)+1)
	for _, p := range ports {
		out = append(out, p.Name)
	}
	return append(out, Simulation)
}

// IsBaudRate reports whether rate is one of BaudRates
func IsBaudRate(rate int) bool {
	for _, r := range BaudRates {
		if r == rate {
			return true
		}
	}
	return false
}
