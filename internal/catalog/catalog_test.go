// internal/catalog/catalog_test.go
package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/models"
)

func venueFixtures() []models.Venue {
	return []models.Venue{
		{
			Name:    "Hilton Pattaya",
			Aliases: []string{"hilton pattaya", "pattaya hilton"},
			Zones: []models.Zone{
				{Name: "Edge", DeviceID: "dev-1"},
				{Name: "Drift Bar", DeviceID: "dev-2"},
			},
		},
		{
			Name:    "Mana Beach Club",
			Aliases: []string{"mana"},
			Zones:   []models.Zone{{Name: "Pool", DeviceID: "dev-3"}},
		},
	}
}

func TestLoadAllAndLookups(t *testing.T) {
	c := New()
	assert.False(t, c.Loaded())

	require.NoError(t, c.LoadAll(venueFixtures()))
	assert.True(t, c.Loaded())

	v := c.ByExactAlias("Hilton Pattaya")
	require.NotNil(t, v)
	assert.Equal(t, "Hilton Pattaya", v.Name)

	// Aliases resolve case-insensitively; canonical names count as aliases.
	assert.NotNil(t, c.ByExactAlias("PATTAYA HILTON"))
	assert.NotNil(t, c.ByExactAlias("mana beach club"))
	assert.Nil(t, c.ByExactAlias("unknown venue"))

	assert.NotNil(t, c.VenueByName("Mana Beach Club"))
	assert.Nil(t, c.VenueByName("mana")) // by name, not by alias

	zones := c.ZonesOf(v)
	require.Len(t, zones, 2)
	assert.Equal(t, "Edge", zones[0].Name) // insertion order
	assert.Equal(t, "Drift Bar", zones[1].Name)
}

func TestAllAliasesCoversCanonicalNames(t *testing.T) {
	c := New()
	require.NoError(t, c.LoadAll(venueFixtures()))

	seen := make(map[string]string)
	for _, e := range c.AllAliases() {
		seen[e.Alias] = e.Venue.Name
	}
	assert.Equal(t, "Hilton Pattaya", seen["hilton pattaya"])
	assert.Equal(t, "Hilton Pattaya", seen["pattaya hilton"])
	assert.Equal(t, "Mana Beach Club", seen["mana beach club"])
	assert.Equal(t, "Mana Beach Club", seen["mana"])
}

func TestLoadAllRejectsAliasCollision(t *testing.T) {
	c := New()
	require.NoError(t, c.LoadAll(venueFixtures()))

	collided := venueFixtures()
	collided = append(collided, models.Venue{
		Name:    "Mana Restaurant",
		Aliases: []string{"mana"},
	})

	err := c.LoadAll(collided)
	require.Error(t, err)
	var stdErr *commonerrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, commonerrors.ErrCodeDataIntegrity, stdErr.Code)

	// The previous catalog stays live after a rejected batch.
	assert.True(t, c.Loaded())
	assert.Len(t, c.Venues(), 2)
	assert.NotNil(t, c.ByExactAlias("mana"))
	assert.Nil(t, c.VenueByName("Mana Restaurant"))
}

func TestLoadAllReplacesAtomically(t *testing.T) {
	c := New()
	require.NoError(t, c.LoadAll(venueFixtures()))

	require.NoError(t, c.LoadAll([]models.Venue{
		{Name: "New Venue", Aliases: []string{"newv"}},
	}))
	assert.Nil(t, c.ByExactAlias("hilton pattaya"))
	assert.NotNil(t, c.ByExactAlias("newv"))
	assert.Len(t, c.Venues(), 1)
}
