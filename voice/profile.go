package voice

import (
	"context"
	"strings"
)

// Profile holds a coach's stored style attributes. The pipeline only reads it.
type Profile struct {
	CoachID            string   `json:"coach_id" bson:"coach_id"`
	Catchphrases       []string `json:"catchphrases,omitempty" bson:"catchphrases,omitempty"`
	Tone               string   `json:"tone,omitempty" bson:"tone,omitempty"`
	EnergyLevel        string   `json:"energy_level,omitempty" bson:"energy_level,omitempty"`
	CommunicationStyle string   `json:"communication_style,omitempty" bson:"communication_style,omitempty"`
}

// Empty reports whether the profile carries no style information.
func (p Profile) Empty() bool {
	return len(p.Catchphrases) == 0 &&
		strings.TrimSpace(p.Tone) == "" &&
		strings.TrimSpace(p.EnergyLevel) == "" &&
		strings.TrimSpace(p.CommunicationStyle) == ""
}

// ProfileStore reads voice profiles. A missing profile is reported as
// errors.ErrNotFound.
type ProfileStore interface {
	GetVoiceProfile(ctx context.Context, coachID string) (Profile, error)
}

// Disclaimer returns the short safety note appended to medium-risk answers,
// phrased to fit the profile's tone.
func Disclaimer(p Profile) string {
	const body = "if anything here affects your health or how you're feeling, check in with a doctor or another qualified professional."
	tone := strings.ToLower(p.Tone + " " + p.CommunicationStyle)
	switch {
	case strings.EqualFold(strings.TrimSpace(p.EnergyLevel), "high"):
		return "Quick heads-up: " + body
	case containsAny(tone, "direct", "blunt", "no-nonsense", "concise"):
		return "Important: " + body
	case containsAny(tone, "warm", "supportive", "friendly", "caring", "encouraging"):
		return "And please look after yourself: " + body
	}
	return "A quick note: " + body
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
