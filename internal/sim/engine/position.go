package engine

import (
	"errors"
	"fmt"

	"github.com/mareichhoff/football/internal/envstate"
)

// Field scale constants convert between internal physics units and the
// environment-observable coordinate space in [-1,1].
const (
	FieldScaleX float32 = 54.4
	FieldScaleY float32 = -83.6
	FieldScaleZ float32 = 1
)

// ErrAxis reports a coordinate-axis index outside [0,2]. This is a logic bug
// in the caller, never a data problem, so the harness layer aborts on it.
var ErrAxis = errors.New("position: axis index out of range")

// Position is a 3-component coordinate in internal physics units.
type Position struct {
	Value [3]float32
}

// EnvCoord converts one axis to environment-observable units.
func (p Position) EnvCoord(axis int) (float32, error) {
	switch axis {
	case 0:
		return p.Value[0] / FieldScaleX, nil
	case 1:
		return p.Value[1] / FieldScaleY, nil
	case 2:
		return p.Value[2] / FieldScaleZ, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrAxis, axis)
	}
}

// EnvCoords converts all three axes at once.
func (p Position) EnvCoords() [3]float32 {
	return [3]float32{
		p.Value[0] / FieldScaleX,
		p.Value[1] / FieldScaleY,
		p.Value[2] / FieldScaleZ,
	}
}

func (p Position) Debug() string {
	return fmt.Sprintf("%v,%v,%v", p.Value[0], p.Value[1], p.Value[2])
}

func (p *Position) ProcessState(s *envstate.State) {
	s.ProcessVec3(&p.Value)
}
