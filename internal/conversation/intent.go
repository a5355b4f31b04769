// internal/conversation/intent.go
package conversation

import (
	"regexp"
	"strconv"
	"strings"
)

// IntentType partitions caller messages by what the bot must do with them.
type IntentType string

const (
	IntentStatus    IntentType = "status_query"
	IntentControl   IntentType = "control_request"
	IntentSensitive IntentType = "sensitive_query"
	IntentTechnical IntentType = "technical_issue"
	IntentDesign    IntentType = "design_request"
	IntentGeneral   IntentType = "general"
)

// Control commands the classifier can extract from a control_request.
const (
	ControlVolumeSet  = "volume_set"
	ControlVolumeUp   = "volume_up"
	ControlVolumeDown = "volume_down"
	ControlPlay       = "play"
	ControlPause      = "pause"
	ControlSkip       = "skip"
	ControlPlaylist   = "playlist"
)

// Intent is the classified shape of one caller message.
type Intent struct {
	Type     IntentType
	Command  string // control command, empty otherwise
	Level    int    // absolute volume for ControlVolumeSet
	Playlist string // requested playlist for ControlPlaylist
}

var (
	sensitiveRe = regexp.MustCompile(`(?i)\b(price|prices|pricing|cost|costs|invoice|bill|billing|paying|payment|contract|renew|renewal|rate|fee|fees)\b|how much`)

	technicalRe = regexp.MustCompile(`(?i)\b(not working|no music|no sound|stopped|offline|broken|(is|are|went|system) down|silent|silence|cut out|cutting out|keeps? (skipping|stopping|cutting)|won'?t (play|start)|dead)\b`)

	statusRe = regexp.MustCompile(`(?i)(what'?s? (is )?playing|now playing|current (song|track)|what song|which (song|track|playlist)|is (the )?music (on|playing)|status)`)

	volumeSetRe  = regexp.MustCompile(`(?i)\bvolume\b.*?\b(\d{1,2})\b|\b(\d{1,2})\b\s*(?:out of\s*\d+)?\s*$`)
	volumeUpRe   = regexp.MustCompile(`(?i)\b(turn (it |the music )?up|louder|volume up|too (quiet|soft|low)|increase)\b`)
	volumeDownRe = regexp.MustCompile(`(?i)\b(turn (it |the music )?down|quieter|softer|volume down|too loud|lower|decrease)\b`)

	pauseRe    = regexp.MustCompile(`(?i)\b(pause|stop the music|turn (the music |it )?off|mute)\b`)
	playRe     = regexp.MustCompile(`(?i)\b(resume|unpause|start the music|turn (the music |it )?on|play the music|start playing)\b`)
	skipRe     = regexp.MustCompile(`(?i)\b(skip|next (song|track)|change (the |this )?(song|track))\b`)
	playlistRe = regexp.MustCompile(`(?i)(?:switch|change|set|put on)\s+(?:the\s+)?(?:music\s+)?(?:playlist\s+)?to\s+(.+?)(?:\s+playlist)?\s*$`)

	designRe = regexp.MustCompile(`(?i)\b(design|curate|custom playlist|new playlist for|different vibe|change the vibe|music style)\b`)

	volumeMentionRe = regexp.MustCompile(`(?i)\bvolume\b`)
)

// ClassifyIntent is a deterministic keyword classifier. Ordering matters:
// outage wording like "the music stopped" must win over the control verb
// "stop", and "what's playing" must win over "play".
func ClassifyIntent(text string) Intent {
	trimmed := strings.TrimSpace(text)

	if sensitiveRe.MatchString(trimmed) {
		return Intent{Type: IntentSensitive}
	}
	if technicalRe.MatchString(trimmed) {
		return Intent{Type: IntentTechnical}
	}
	if statusRe.MatchString(trimmed) {
		return Intent{Type: IntentStatus}
	}

	if m := playlistRe.FindStringSubmatch(trimmed); m != nil {
		return Intent{Type: IntentControl, Command: ControlPlaylist, Playlist: strings.TrimSpace(m[1])}
	}
	if volumeUpRe.MatchString(trimmed) {
		return Intent{Type: IntentControl, Command: ControlVolumeUp}
	}
	if volumeDownRe.MatchString(trimmed) {
		return Intent{Type: IntentControl, Command: ControlVolumeDown}
	}
	if volumeMentionRe.MatchString(trimmed) {
		if m := volumeSetRe.FindStringSubmatch(trimmed); m != nil {
			raw := m[1]
			if raw == "" {
				raw = m[2]
			}
			if level, err := strconv.Atoi(raw); err == nil {
				return Intent{Type: IntentControl, Command: ControlVolumeSet, Level: level}
			}
		}
	}
	if pauseRe.MatchString(trimmed) {
		return Intent{Type: IntentControl, Command: ControlPause}
	}
	if skipRe.MatchString(trimmed) {
		return Intent{Type: IntentControl, Command: ControlSkip}
	}
	if playRe.MatchString(trimmed) {
		return Intent{Type: IntentControl, Command: ControlPlay}
	}

	if designRe.MatchString(trimmed) {
		return Intent{Type: IntentDesign}
	}
	return Intent{Type: IntentGeneral}
}

var (
	restartRe      = regexp.MustCompile(`(?i)\b(start over|restart|reset|different venue|another venue|wrong venue|new conversation)\b`)
	restartMusicRe = regexp.MustCompile(`(?i)\b(restart|reset)\b.*\b(music|song|track|player|playlist|zone)\b`)
)

// IsRestart reports whether the caller asked to drop the current context and
// begin again. "Restart the music" is a control request, not a context reset.
func IsRestart(text string) bool {
	return restartRe.MatchString(text) && !restartMusicRe.MatchString(text)
}
