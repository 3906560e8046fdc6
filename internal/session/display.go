package session

// Display is the three-valued live state shown to a participant.
type Display string

const (
	DisplayWaiting Display = "waiting"
	DisplayReady   Display = "ready"
	DisplayStarted Display = "started"
)

// MapLiveStatus translates a server live status into a display state. Terminal
// and unrecognised values fall back to waiting so no start control is offered
// for a session that cannot be started.
func MapLiveStatus(liveStatus string) Display {
	switch liveStatus {
	case string(LiveUpcoming):
		return DisplayWaiting
	case string(LiveReady):
		return DisplayReady
	case string(LiveStarted), string(StatusInProgress):
		return DisplayStarted
	default:
		return DisplayWaiting
	}
}

// Display maps the session's current live status.
func (s *Session) Display() Display {
	return MapLiveStatus(string(s.LiveStatus))
}
