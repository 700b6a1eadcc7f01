package disclosure

import (
	"context"
	"fmt"
)

type templateKey struct {
	pressure PressureBucket
	rough    bool
}

var templates = map[templateKey]Text{
	{PressureLow, false}:  {State: "Open road today.", Action: "Say the thing plainly."},
	{PressureLow, true}:   {State: "Small snags in the air.", Action: "Slow your first reply."},
	{PressureMed, false}:  {State: "The load is building.", Action: "Cut one thing from the list."},
	{PressureMed, true}:   {State: "Things are running warm.", Action: "Let the next move wait."},
	{PressureHigh, false}: {State: "Heavy air, steady ground.", Action: "Keep it short and kind."},
	{PressureHigh, true}:  {State: "Everything is sticking.", Action: "Step back and hold your position."},
}

// roughAbove is the bracket above which a pressure level reads as rough.
var roughAbove = map[PressureBucket]int{
	PressureLow:  30,
	PressureMed:  50,
	PressureHigh: 40,
}

// Templates is the built-in Texter. Low fidelity softens the state line.
type Templates struct{}

func (Templates) Text(_ context.Context, b Buckets) (Text, error) {
	limit, ok := roughAbove[b.Pressure]
	if !ok {
		return Text{}, fmt.Errorf("unknown pressure bucket %q", b.Pressure)
	}
	t := templates[templateKey{pressure: b.Pressure, rough: b.Bracket10 > limit}]
	if b.Fidelity == FidelityLow {
		t.State += " The picture is partial."
	}
	return t, nil
}
