// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxParticipantIDLen = 64

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
)

type ParticipantID string

type Participant struct {
	ID ParticipantID `json:"id"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id string) (*Participant, error) {
	if len(id) == 0 {
		return nil, ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return nil, ErrParticipantIDTooLong
	}
	return &Participant{ID: ParticipantID(id)}, nil
}
