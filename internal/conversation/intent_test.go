// internal/conversation/intent_test.go
package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Intent
	}{
		{"price question", "how much are we paying per year?", Intent{Type: IntentSensitive}},
		{"contract question", "when does our contract renew?", Intent{Type: IntentSensitive}},
		{"outage", "there's no music in the lobby", Intent{Type: IntentTechnical}},
		{"stopped wins over stop verb", "the music stopped an hour ago", Intent{Type: IntentTechnical}},
		{"status", "what's playing right now?", Intent{Type: IntentStatus}},
		{"status with is", "what is playing at the pool?", Intent{Type: IntentStatus}},
		{"volume absolute", "set the volume to 8 please", Intent{Type: IntentControl, Command: ControlVolumeSet, Level: 8}},
		{"volume up", "can you turn it up a bit", Intent{Type: IntentControl, Command: ControlVolumeUp}},
		{"too loud", "the music is too loud", Intent{Type: IntentControl, Command: ControlVolumeDown}},
		{"pause", "please pause the music", Intent{Type: IntentControl, Command: ControlPause}},
		{"skip", "skip this one", Intent{Type: IntentControl, Command: ControlSkip}},
		{"resume", "can you resume the music", Intent{Type: IntentControl, Command: ControlPlay}},
		{"playlist change", "change the playlist to Chill Vibes", Intent{Type: IntentControl, Command: ControlPlaylist, Playlist: "Chill Vibes"}},
		{"design request", "we'd love a custom playlist for the spa", Intent{Type: IntentDesign}},
		{"greeting", "hello there", Intent{Type: IntentGeneral}},
		{"venue name only", "Hilton Pattaya", Intent{Type: IntentGeneral}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyIntent(tt.text))
		})
	}
}

func TestIsRestart(t *testing.T) {
	assert.True(t, IsRestart("let's start over"))
	assert.True(t, IsRestart("actually it's a different venue"))
	assert.False(t, IsRestart("restart the music please"))
}
