package domain

import (
	apperrors "peercall/pkg/errors"
	"peercall/pkg/validation"
)

type ParticipantID string

// Participant is the descriptor supplied by the CRM for a call party.
type Participant struct {
	ID             ParticipantID `json:"id"`
	DisplayName    string        `json:"display_name"`
	AvatarURL      string        `json:"avatar_url,omitempty"`
	ContactAddress string        `json:"contact_address,omitempty"`
}

func (p Participant) Validate() error {
	if err := validation.ValidateParticipantID(string(p.ID)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateDisplayName(p.DisplayName); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if p.AvatarURL != "" {
		if err := validation.ValidateURL(p.AvatarURL); err != nil {
			return apperrors.NewInvalidInputError("avatar: " + err.Error())
		}
	}
	if err := validation.ValidateContactAddress(p.ContactAddress); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	return nil
}

// Label returns the display name, or the id when no name is set.
func (p Participant) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return string(p.ID)
}
