package profile

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoleType represents a user role within the parcel-delivery platform
type RoleType string

const (
	RoleAdmin    RoleType = "admin"    // Can manage users and all parcels
	RoleSender   RoleType = "sender"   // Can book and track own parcels
	RoleReceiver RoleType = "receiver" // Can view and confirm incoming parcels
)

// Profile is the display-only snapshot of the authenticated principal as
// returned by the auth service. It is cached locally so the UI can render
// before the server re-verifies the session, and it must never be used as
// the source of truth for authorization decisions.
type Profile struct {
	ID        string    `json:"_id,omitempty"`       // Unique identifier for the user
	Email     string    `json:"email,omitempty"`     // User's email address
	Name      string    `json:"name,omitempty"`      // Full display name
	Phone     string    `json:"phone,omitempty"`     // Contact phone number
	Address   string    `json:"address,omitempty"`   // Postal address used for deliveries
	Role      RoleType  `json:"role,omitempty"`      // Platform role (admin, sender, receiver)
	IsBlocked bool      `json:"isBlocked,omitempty"` // Blocked accounts cannot log in
	CreatedAt time.Time `json:"createdAt,omitempty"` // Date and time when the user registered
}

// Encode serializes the profile to the JSON form stored in the token store.
func (p *Profile) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("profile encode: %w", err)
	}
	return string(data), nil
}

// Decode deserializes a profile previously stored with Encode. A nil profile
// and nil error are returned for empty input.
func Decode(encoded string) (*Profile, error) {
	if encoded == "" {
		return nil, nil
	}
	var p Profile
	if err := json.Unmarshal([]byte(encoded), &p); err != nil {
		return nil, fmt.Errorf("profile decode: %w", err)
	}
	return &p, nil
}
