package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// PhoneRegex validates loosely formatted phone numbers
	PhoneRegex = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{5,24}$`)

	// IDRegex validates participant and session identifiers
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)
)

// MaxChatTextLength bounds a single chat message.
const MaxChatTextLength = 4096

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateContactAddress accepts an empty value, an email or a phone number
func ValidateContactAddress(contact string) error {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil
	}
	if strings.Contains(contact, "@") {
		return ValidateEmail(contact)
	}
	if !PhoneRegex.MatchString(contact) {
		return fmt.Errorf("contact address must be an email or phone number")
	}
	return nil
}

func validateID(id, what string) error {
	if id == "" {
		return fmt.Errorf("%s is required", what)
	}
	if len(id) > 128 {
		return fmt.Errorf("%s is too long (max 128 characters)", what)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", what)
	}
	return nil
}

// ValidateParticipantID validates participant ID
func ValidateParticipantID(id string) error {
	return validateID(id, "participant ID")
}

// ValidateSessionID validates session ID
func ValidateSessionID(id string) error {
	return validateID(id, "session ID")
}

// ValidateDisplayName validates a participant display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return ValidateStringLength(name, 1, 100, "display name")
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateParticipantList checks a call target list: non-empty, unique, and not containing self.
func ValidateParticipantList(self string, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("at least one participant is required")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if err := ValidateParticipantID(id); err != nil {
			return err
		}
		if id == self {
			return fmt.Errorf("cannot call yourself")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("participant %s listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ValidateChatText validates an outgoing chat message
func ValidateChatText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is required")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message text is not valid UTF-8")
	}
	return ValidateStringLength(text, 1, MaxChatTextLength, "message text")
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
