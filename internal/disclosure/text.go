package disclosure

import (
	"context"
	"regexp"
	"strings"
)

// Text is the short display pair shown with a frag.
type Text struct {
	State  string `json:"state"`
	Action string `json:"action"`
}

func (t Text) String() string {
	return t.State + " " + t.Action
}

// Texter produces display text from buckets. Implementations never see raw
// scores.
type Texter interface {
	Text(ctx context.Context, b Buckets) (Text, error)
}

var forbiddenTokens = []string{
	"algorithm", "formula", "computed", "calculated", "weights", "thresholds", "mapping",
	"nasa", "horizons", "jpl", "ephemeris", "longitude", "degrees", "aspect",
	"astrology", "human design", "chakra", "vibration", "frequency", "quantum",
	"gate 22", "channel", "transit", "retrograde", "shadow", "manifestation",
	"openai", "gpt", "model", "prompt", "json",
}

var decimalRe = regexp.MustCompile(`\d+\.\d+`)

// Violation describes why text failed validation.
type Violation struct {
	Token string
}

func (v Violation) Error() string {
	return "disclosure violation: " + v.Token
}

// Validate rejects text that names mechanism vocabulary or carries
// decimal numbers.
func Validate(text string) error {
	lower := strings.ToLower(text)
	for _, tok := range forbiddenTokens {
		if strings.Contains(lower, tok) {
			return Violation{Token: tok}
		}
	}
	if m := decimalRe.FindString(lower); m != "" {
		return Violation{Token: m}
	}
	return nil
}

// Fallback is the fixed text for a pressure bucket and friction bracket.
func Fallback(p PressureBucket, bracket10 int) Text {
	switch p {
	case PressureLow:
		if bracket10 <= 30 {
			return Text{State: "The field is clear.", Action: "Move forward with your plan."}
		}
		return Text{State: "Minor resistance detected.", Action: "Check your pacing before speaking."}
	case PressureMed:
		if bracket10 <= 50 {
			return Text{State: "Load is increasing.", Action: "Simplification is required."}
		}
		return Text{State: "Friction is active.", Action: "Wait for a clearer signal."}
	default:
		if bracket10 <= 40 {
			return Text{State: "High gravity environment.", Action: "Reduce speed and observe."}
		}
		return Text{State: "System locked.", Action: "Do not force an outcome today."}
	}
}

// SafeText asks t for text and validates it. Any error or violation yields
// the fallback for the bucket combination; the second return reports
// whether the fallback was used.
func SafeText(ctx context.Context, t Texter, b Buckets) (Text, bool) {
	if t != nil {
		text, err := t.Text(ctx, b)
		if err == nil && Validate(text.String()) == nil {
			return text, false
		}
	}
	return Fallback(b.Pressure, b.Bracket10), true
}
