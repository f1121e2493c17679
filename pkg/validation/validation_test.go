package validation

import (
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"valid email", "user@example.com", false},
		{"valid email with subdomain", "user@mail.example.com", false},
		{"empty email", "", true},
		{"invalid format", "invalid-email", true},
		{"missing @", "userexample.com", true},
		{"too long", strings.Repeat("a", 250) + "@example.com", true},
		{"valid with plus", "user+tag@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateContactAddress(t *testing.T) {
	tests := []struct {
		name    string
		contact string
		wantErr bool
	}{
		{"empty is allowed", "", false},
		{"email", "sales@acme.io", false},
		{"bad email", "sales@acme", true},
		{"phone", "+1 (555) 010-2030", false},
		{"letters", "call me maybe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContactAddress(tt.contact)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContactAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParticipantID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"uuid", "3f2b1c4e-9d1a-4f7e-8a2b-0c1d2e3f4a5b", false},
		{"email-like", "alice@crm", false},
		{"empty", "", true},
		{"spaces", "alice smith", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParticipantID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParticipantID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	if err := ValidateDisplayName("Ana María"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateDisplayName("   "); err == nil {
		t.Error("expected error for blank name")
	}
	if err := ValidateDisplayName(strings.Repeat("x", 101)); err == nil {
		t.Error("expected error for long name")
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://cdn.example.com/a.png", false},
		{"ws", "ws://localhost:8081/ws", false},
		{"empty", "", true},
		{"ftp", "ftp://example.com", true},
		{"no host", "https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParticipantList(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr bool
	}{
		{"single", []string{"bob"}, false},
		{"group", []string{"bob", "carol"}, false},
		{"empty", nil, true},
		{"self", []string{"alice"}, true},
		{"duplicate", []string{"bob", "bob"}, true},
		{"invalid id", []string{"bo b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParticipantList("alice", tt.ids)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParticipantList() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChatText(t *testing.T) {
	if err := ValidateChatText("hello"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateChatText("  "); err == nil {
		t.Error("expected error for blank text")
	}
	if err := ValidateChatText(strings.Repeat("a", MaxChatTextLength+1)); err == nil {
		t.Error("expected error for oversized text")
	}
}
