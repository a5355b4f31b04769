// internal/models/venue.go
package models

import (
	"strings"
	"time"
)

// Venue is an identity record for a customer site. Records are loaded in bulk
// at startup or refresh and are read-only during a conversation turn.
type Venue struct {
	Name          string    `json:"name"`
	Aliases       []string  `json:"aliases"`
	Country       string    `json:"country"`
	Timezone      string    `json:"timezone"`
	Zones         []Zone    `json:"zones"`
	ContractStart time.Time `json:"contractStart"`
	ContractEnd   time.Time `json:"contractEnd"`
	AnnualPrice   float64   `json:"annualPrice"` // per zone
	Currency      string    `json:"currency"`
	Platform      string    `json:"platform"`
	Contacts      []Contact `json:"contacts"`
	Active        bool      `json:"active"`
	Priority      bool      `json:"priority"`
}

// Zone is one addressable music-playback point within a Venue.
type Zone struct {
	Name         string `json:"name"` // unique within the venue
	DeviceID     string `json:"deviceId"`
	Online       bool   `json:"online"`
	Controllable bool   `json:"controllable"`
}

// Contact is a named person registered for a venue.
type Contact struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ZoneByName returns the zone with the given name, nil if absent. Names
// compare case-insensitively; callers pass user-typed text.
func (v *Venue) ZoneByName(name string) *Zone {
	for i := range v.Zones {
		if strings.EqualFold(v.Zones[i].Name, name) {
			return &v.Zones[i]
		}
	}
	return nil
}
