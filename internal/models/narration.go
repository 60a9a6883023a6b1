package models

// Narration segment kinds in playback order: one intro, one transition
// per clip, one outro.
const (
	NarrationKindIntro      = "intro"
	NarrationKindTransition = "transition"
	NarrationKindOutro      = "outro"
)

// NarrationAudio describes one synthesized narration segment persisted in
// the object store. It travels in the assemble job payload, so every field
// must survive a JSON round-trip.
type NarrationAudio struct {
	Position    int     `json:"position"`
	Kind        string  `json:"kind"`
	ObjectKey   string  `json:"object_key"`
	DurationSec float64 `json:"duration_sec"`
}

// NarrationKindAt returns the segment kind for a playback position given
// the digest's clip count.
func NarrationKindAt(position, clipCount int) string {
	switch {
	case position == 0:
		return NarrationKindIntro
	case position == clipCount+1:
		return NarrationKindOutro
	default:
		return NarrationKindTransition
	}
}
