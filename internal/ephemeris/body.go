package ephemeris

// BodySetVersion identifies the fixed list of bodies below. Any change to
// the list must bump this value and the engine version that depends on it.
const BodySetVersion = "v1"

// Body is one of the fixed tracked bodies.
type Body int

const (
	Sun Body = iota
	Moon
	Mercury
	Mars
	Saturn

	NumBodies = 5
)

// Bodies lists every tracked body in fetch order.
var Bodies = [NumBodies]Body{Sun, Moon, Mercury, Mars, Saturn}

var bodyInfo = [NumBodies]struct {
	name      string
	horizonID string
}{
	Sun:     {"SUN", "10"},
	Moon:    {"MOON", "301"},
	Mercury: {"MERCURY", "199"},
	Mars:    {"MARS", "499"},
	Saturn:  {"SATURN", "699"},
}

func (b Body) String() string {
	if !b.Valid() {
		return "UNKNOWN"
	}
	return bodyInfo[b].name
}

// HorizonsID returns the Horizons COMMAND identifier for the body.
func (b Body) HorizonsID() string {
	if !b.Valid() {
		return ""
	}
	return bodyInfo[b].horizonID
}

func (b Body) Valid() bool {
	return b >= 0 && int(b) < NumBodies
}

// BodyByHorizonsID maps a Horizons identifier back to its body.
func BodyByHorizonsID(id string) (Body, bool) {
	for _, b := range Bodies {
		if bodyInfo[b].horizonID == id {
			return b, true
		}
	}
	return 0, false
}
