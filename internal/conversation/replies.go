// internal/conversation/replies.go
package conversation

import (
	"fmt"
	"strings"

	"bma-social-bot/internal/models"
	"bma-social-bot/internal/platform"
)

// Templated replies. These are the honest fallbacks the state machine
// degrades to; anything richer comes from the generator and still passes
// the guard.

const (
	replyAskVenue = "Hi! Which venue are you contacting us about? Please tell me the venue name."

	replyAskVenueAgain = "Sorry, I couldn't find that venue. Could you tell me the full venue name as it appears on your account?"

	replyGiveUp = "I'm having trouble finding your venue. I've asked our team to step in, someone will be with you shortly."

	replyEscalated = "I've notified our team and someone will follow up with you shortly."

	replyCantReach = "I can't reach your music system right now. I've let our team know, and someone will check on it shortly."

	replyNotControllable = "That zone's player doesn't support remote control from here, so I can't change it for you. Our team can help with this directly."

	replyZoneOffline = "That zone's device looks offline at the moment. I've flagged it for our team to check."

	replyVerifyDeflect = "For account details I just need to double-check with our team first. Someone will confirm and get back to you shortly."

	replyTechnicalAck = "Sorry about that! I've alerted our technical team and they'll look into it right away."

	replyDesignAck = "Great idea! I've passed your request to our music design team, they'll be in touch to discuss it."

	replyRestart = "No problem, let's start fresh. Which venue are you contacting us about?"
)

func disambiguationPrompt(candidates []string) string {
	var sb strings.Builder
	sb.WriteString("I found a few venues that could match. Which one is yours?\n")
	for i, name := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, name)
	}
	sb.WriteString("Reply with the number, or 0 if none of these.")
	return sb.String()
}

func askZonePrompt(venue *models.Venue) string {
	names := make([]string, 0, len(venue.Zones))
	for _, z := range venue.Zones {
		names = append(names, z.Name)
	}
	return fmt.Sprintf("Which zone is this about? You have: %s.", strings.Join(names, ", "))
}

func venueConfirmed(venue string) string {
	return fmt.Sprintf("Got it, %s. How can I help with your music today?", venue)
}

func statusReply(zone string, status *platform.ZoneStatus) string {
	if !status.Online {
		return fmt.Sprintf("The %s player looks offline right now. I've flagged it for our team.", zone)
	}
	if !status.Playing {
		return fmt.Sprintf("Music in %s is currently paused at volume %d. Want me to start it?", zone, status.Volume)
	}
	if status.TrackName != "" {
		track := status.TrackName
		if status.ArtistName != "" {
			track += " by " + status.ArtistName
		}
		return fmt.Sprintf("%s is playing \"%s\" at volume %d.", zone, track, status.Volume)
	}
	return fmt.Sprintf("Music is playing in %s at volume %d.", zone, status.Volume)
}

func volumeAck(zone string, level int) string {
	return fmt.Sprintf("Done! Volume in %s is now %d.", zone, level)
}

func controlAck(zone, command string) string {
	switch command {
	case platform.CommandPlay:
		return fmt.Sprintf("Music in %s is playing again.", zone)
	case platform.CommandPause:
		return fmt.Sprintf("I've paused the music in %s.", zone)
	case platform.CommandSkip:
		return fmt.Sprintf("Skipped! %s is on to the next track.", zone)
	}
	return fmt.Sprintf("Done for %s.", zone)
}

func playlistAck(zone, playlist string) string {
	return fmt.Sprintf("%s is now set to the %s playlist.", zone, playlist)
}

func verificationQuestion(kind string) string {
	switch kind {
	case "contact":
		return "Before I share account details, could you tell me the name of a registered contact person for your venue?"
	default:
		return "Before I share account details, could you tell me the name of one of your music zones?"
	}
}

func priceReply(venue *models.Venue) string {
	currency := venue.Currency
	if currency == "" {
		currency = "THB"
	}
	return fmt.Sprintf("Your rate is %s %s per zone per year.", currency, formatAmount(venue.AnnualPrice))
}

func contractReply(venue *models.Venue) string {
	if venue.ContractEnd.IsZero() {
		return replyVerifyDeflect
	}
	return fmt.Sprintf("Your current contract runs until %s.", venue.ContractEnd.Format("January 2, 2006"))
}

func formatAmount(v float64) string {
	whole := int64(v)
	if float64(whole) != v {
		return fmt.Sprintf("%.2f", v)
	}
	s := fmt.Sprintf("%d", whole)
	if len(s) <= 3 {
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	return s + "," + strings.Join(parts, ",")
}
