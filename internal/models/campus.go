package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Campus is an isolated tenant boundary; every event, user, and attendance
// record belongs to exactly one.
type Campus struct {
	ID                 uuid.UUID       `json:"id"`
	Code               string          `json:"code"` // short uppercase code, e.g. "SNSU"
	Name               string          `json:"name"`
	Address            string          `json:"address,omitempty"`
	Latitude           *float64        `json:"latitude,omitempty"`
	Longitude          *float64        `json:"longitude,omitempty"`
	Branding           json.RawMessage `json:"branding,omitempty"` // colors, logo keys
	CrossCampusEnabled bool            `json:"cross_campus_enabled"`
	Active             bool            `json:"active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Branding is the decoded shape of Campus.Branding.
type Branding struct {
	PrimaryColor   string `json:"primary_color,omitempty"`
	SecondaryColor string `json:"secondary_color,omitempty"`
	LogoKey        string `json:"logo_key,omitempty"`
}
