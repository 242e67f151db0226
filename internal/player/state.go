package player

// PlaybackState is the playback state as reported by the embedded page.
type PlaybackState string

const (
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
	StateStopped PlaybackState = "stopped"
)

// Valid reports whether the state is one of the known wire values.
func (s PlaybackState) Valid() bool {
	switch s {
	case StatePlaying, StatePaused, StateStopped:
		return true
	}
	return false
}

// RepeatMode is the repeat behavior of the embedded page's queue.
type RepeatMode string

const (
	RepeatNone RepeatMode = "none"
	RepeatOne  RepeatMode = "one"
	RepeatAll  RepeatMode = "all"
)

// Valid reports whether the mode is one of the known wire values.
func (m RepeatMode) Valid() bool {
	switch m {
	case RepeatNone, RepeatOne, RepeatAll:
		return true
	}
	return false
}
