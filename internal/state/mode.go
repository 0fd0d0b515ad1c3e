package state

import (
	"fmt"
	"strings"
)

// Mode is the system-wide operating posture
type Mode string

const (
	ModeNormal      Mode = "NORMAL"
	ModeDefensive   Mode = "DEFENSIVE"
	ModeObservation Mode = "OBSERVATION"
	ModePause       Mode = "PAUSE"
	ModeEmergency   Mode = "EMERGENCY"
)

// AllModes lists every mode in order of increasing restriction
var AllModes = []Mode{ModeNormal, ModeDefensive, ModeObservation, ModePause, ModeEmergency}

// allowedTransitions is the complete transition table. Anything absent is illegal.
var allowedTransitions = map[Mode]map[Mode]bool{
	ModeNormal:      {ModeDefensive: true, ModeObservation: true, ModePause: true, ModeEmergency: true},
	ModeDefensive:   {ModeNormal: true, ModeObservation: true, ModePause: true, ModeEmergency: true},
	ModeObservation: {ModeNormal: true, ModeDefensive: true, ModePause: true, ModeEmergency: true},
	ModePause:       {ModeNormal: true, ModeObservation: true},
	ModeEmergency:   {ModePause: true},
}

// CanTransition reports whether from → to is in the transition table
func CanTransition(from, to Mode) bool {
	return allowedTransitions[from][to]
}

// AllowsNewEntries is true only in NORMAL and DEFENSIVE
func (m Mode) AllowsNewEntries() bool {
	return m == ModeNormal || m == ModeDefensive
}

// AllowsExits is false only in EMERGENCY, where the kill switch owns all exits
func (m Mode) AllowsExits() bool {
	return m != ModeEmergency
}

// Valid reports whether m is one of the known modes
func (m Mode) Valid() bool {
	_, ok := allowedTransitions[m]
	return ok
}

// Ordinal returns the mode's position in AllModes, used for the mode gauge
func (m Mode) Ordinal() int {
	for i, v := range AllModes {
		if v == m {
			return i
		}
	}
	return -1
}

// ParseMode converts user input to a Mode
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown system mode %q", s)
	}
	return m, nil
}
