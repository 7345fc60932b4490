// Package memory is an in-process voice profile store.
package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/voice"
	"gopkg.in/yaml.v3"
)

// Store maps coach IDs to profiles.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]voice.Profile
}

// New creates a store holding profiles.
func New(profiles ...voice.Profile) *Store {
	s := &Store{profiles: make(map[string]voice.Profile)}
	for _, p := range profiles {
		s.Put(p)
	}
	return s
}

// Put stores or replaces the profile for p.CoachID.
func (s *Store) Put(p voice.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Catchphrases = append([]string(nil), p.Catchphrases...)
	s.profiles[p.CoachID] = p
}

// GetVoiceProfile implements voice.ProfileStore.
func (s *Store) GetVoiceProfile(ctx context.Context, coachID string) (voice.Profile, error) {
	if err := ctx.Err(); err != nil {
		return voice.Profile{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[coachID]
	if !ok {
		return voice.Profile{}, fmt.Errorf("voice profile %s: %w", coachID, errors.ErrNotFound)
	}
	p.Catchphrases = append([]string(nil), p.Catchphrases...)
	return p, nil
}

type profileFile struct {
	Profiles []struct {
		CoachID            string   `yaml:"coach_id"`
		Catchphrases       []string `yaml:"catchphrases"`
		Tone               string   `yaml:"tone"`
		EnergyLevel        string   `yaml:"energy_level"`
		CommunicationStyle string   `yaml:"communication_style"`
	} `yaml:"profiles"`
}

// LoadFile builds a store from a YAML file with a top-level "profiles" list.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profile file: %w", err)
	}
	s := New()
	for i, p := range f.Profiles {
		if p.CoachID == "" {
			return nil, fmt.Errorf("profile %d: coach_id is required", i)
		}
		s.Put(voice.Profile{
			CoachID:            p.CoachID,
			Catchphrases:       p.Catchphrases,
			Tone:               p.Tone,
			EnergyLevel:        p.EnergyLevel,
			CommunicationStyle: p.CommunicationStyle,
		})
	}
	return s, nil
}
