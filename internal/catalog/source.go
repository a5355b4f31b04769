// internal/catalog/source.go
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"
	"github.com/xeipuuv/gojsonschema"

	"bma-social-bot/internal/models"
)

// Source produces a full venue batch for an atomic catalog load.
type Source interface {
	Fetch(ctx context.Context) ([]models.Venue, error)
}

// --- Postgres source ---

// PostgresSource loads venue records from the relational store the sheet
// importer writes into.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Fetch(ctx context.Context) ([]models.Venue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, aliases, country, timezone, contract_start, contract_end,
		       annual_price_per_zone, currency, platform, active, priority
		FROM venues
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query venues: %w", err)
	}
	defer rows.Close()

	var out []models.Venue
	byName := make(map[string]int)

	for rows.Next() {
		var v models.Venue
		var aliases pq.StringArray
		var start, end sql.NullTime
		if err := rows.Scan(&v.Name, &aliases, &v.Country, &v.Timezone,
			&start, &end, &v.AnnualPrice, &v.Currency, &v.Platform,
			&v.Active, &v.Priority); err != nil {
			return nil, fmt.Errorf("scan venue: %w", err)
		}
		v.Aliases = []string(aliases)
		if start.Valid {
			v.ContractStart = start.Time
		}
		if end.Valid {
			v.ContractEnd = end.Time
		}
		byName[v.Name] = len(out)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate venues: %w", err)
	}

	if err := s.attachZones(ctx, out, byName); err != nil {
		return nil, err
	}
	if err := s.attachContacts(ctx, out, byName); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresSource) attachZones(ctx context.Context, venues []models.Venue, byName map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT venue_name, name, device_id, online, controllable
		FROM zones
		ORDER BY venue_name, position`)
	if err != nil {
		return fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var venueName string
		var z models.Zone
		if err := rows.Scan(&venueName, &z.Name, &z.DeviceID, &z.Online, &z.Controllable); err != nil {
			return fmt.Errorf("scan zone: %w", err)
		}
		if i, ok := byName[venueName]; ok {
			venues[i].Zones = append(venues[i].Zones, z)
		}
	}
	return rows.Err()
}

func (s *PostgresSource) attachContacts(ctx context.Context, venues []models.Venue, byName map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT venue_name, name, title, email, phone
		FROM contacts
		ORDER BY venue_name, name`)
	if err != nil {
		return fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var venueName string
		var c models.Contact
		var email, phone sql.NullString
		if err := rows.Scan(&venueName, &c.Name, &c.Title, &email, &phone); err != nil {
			return fmt.Errorf("scan contact: %w", err)
		}
		c.Email = email.String
		c.Phone = phone.String
		if i, ok := byName[venueName]; ok {
			venues[i].Contacts = append(venues[i].Contacts, c)
		}
	}
	return rows.Err()
}

// --- File source ---

// venueFileSchema validates the JSON export produced by the spreadsheet
// sync before any record reaches the catalog.
const venueFileSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["name", "zones"],
		"properties": {
			"name":     {"type": "string", "minLength": 1},
			"aliases":  {"type": "array", "items": {"type": "string"}},
			"country":  {"type": "string"},
			"timezone": {"type": "string"},
			"zones": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name"],
					"properties": {
						"name":         {"type": "string", "minLength": 1},
						"deviceId":     {"type": "string"},
						"online":       {"type": "boolean"},
						"controllable": {"type": "boolean"}
					}
				}
			},
			"contractStart": {"type": "string"},
			"contractEnd":   {"type": "string"},
			"annualPrice":   {"type": "number"},
			"currency":      {"type": "string"},
			"platform":      {"type": "string"},
			"contacts": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name"],
					"properties": {
						"name":  {"type": "string"},
						"title": {"type": "string"},
						"email": {"type": "string"},
						"phone": {"type": "string"}
					}
				}
			},
			"active":   {"type": "boolean"},
			"priority": {"type": "boolean"}
		}
	}
}`

// FileSource loads venue records from a JSON export file.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Fetch(_ context.Context) ([]models.Venue, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(venueFileSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("validate catalog file: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("catalog file failed schema validation: %v", result.Errors())
	}

	var raw []fileVenue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}

	out := make([]models.Venue, 0, len(raw))
	for _, fv := range raw {
		out = append(out, fv.toModel())
	}
	return out, nil
}

// fileVenue mirrors models.Venue but carries dates as strings so partially
// filled spreadsheet rows survive decoding.
type fileVenue struct {
	Name          string           `json:"name"`
	Aliases       []string         `json:"aliases"`
	Country       string           `json:"country"`
	Timezone      string           `json:"timezone"`
	Zones         []models.Zone    `json:"zones"`
	ContractStart string           `json:"contractStart"`
	ContractEnd   string           `json:"contractEnd"`
	AnnualPrice   float64          `json:"annualPrice"`
	Currency      string           `json:"currency"`
	Platform      string           `json:"platform"`
	Contacts      []models.Contact `json:"contacts"`
	Active        bool             `json:"active"`
	Priority      bool             `json:"priority"`
}

func (fv fileVenue) toModel() models.Venue {
	v := models.Venue{
		Name:        fv.Name,
		Aliases:     fv.Aliases,
		Country:     fv.Country,
		Timezone:    fv.Timezone,
		Zones:       fv.Zones,
		AnnualPrice: fv.AnnualPrice,
		Currency:    fv.Currency,
		Platform:    fv.Platform,
		Contacts:    fv.Contacts,
		Active:      fv.Active,
		Priority:    fv.Priority,
	}
	if t, err := time.Parse("2006-01-02", fv.ContractStart); err == nil {
		v.ContractStart = t
	}
	if t, err := time.Parse("2006-01-02", fv.ContractEnd); err == nil {
		v.ContractEnd = t
	}
	return v
}
