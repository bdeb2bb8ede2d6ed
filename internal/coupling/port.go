package coupling

import (
	"errors"
	"fmt"
	"strings"

	"github.com/san-kum/hybridsim/internal/fmi"
)

// ErrInvalidConnection is returned for connections that name unknown
// ports, run in the wrong direction, or feed an input twice.
var ErrInvalidConnection = errors.New("coupling: invalid connection")

// Port names one variable of one unit.
type Port struct {
	Unit string
	Name string
}

func (p Port) String() string { return p.Unit + "." + p.Name }

// ParsePort parses "unit.port". The unit name ends at the first dot.
func ParsePort(s string) (Port, error) {
	unit, name, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || unit == "" || name == "" {
		return Port{}, fmt.Errorf("port %q is not of the form unit.variable: %w", s, ErrInvalidConnection)
	}
	return Port{Unit: unit, Name: name}, nil
}

// Connection feeds an output port into an input port.
type Connection struct {
	From Port
	To   Port
}

func (c Connection) String() string { return c.From.String() + " -> " + c.To.String() }

// UnitPorts is a unit's name and its published variable directory.
type UnitPorts struct {
	Name string
	Desc *fmi.ModelDescription
}

// PortAccess reads outputs and writes inputs of live units.
type PortAccess interface {
	Get(p Port) (float64, error)
	Set(p Port, v float64) error
}
