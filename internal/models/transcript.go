package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
)

// TranscriptSegment is one diarized span of speech within an episode.
// Timestamps are seconds from the start of the episode audio.
type TranscriptSegment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Speaker  string  `json:"speaker,omitempty"`
	Text     string  `json:"text"`
}

// SegmentList stores the ordered transcript segments as a JSON column
type SegmentList []TranscriptSegment

// Value implements driver.Valuer interface for SegmentList
func (s SegmentList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner interface for SegmentList
func (s *SegmentList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, s)
}

// Transcript holds the diarized transcript for an episode. At most one
// transcript exists per episode; segment timestamps are non-decreasing.
type Transcript struct {
	gorm.Model
	EpisodeID uint        `json:"episode_id" gorm:"not null;uniqueIndex"`
	FullText  string      `json:"full_text" gorm:"type:text"`
	Segments  SegmentList `json:"segments" gorm:"type:json"`
	Language  string      `json:"language" gorm:"size:10"`
	Status    string      `json:"status" gorm:"default:pending;size:20"`
	Error     string      `json:"error,omitempty" gorm:"size:500"`
	WordCount int         `json:"word_count"`
	Provider  string      `json:"provider,omitempty" gorm:"size:50"`
}

// DurationSec returns the end timestamp of the last segment, 0 when empty
func (t *Transcript) DurationSec() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].EndSec
}

// IsCompleted returns true when the transcript is usable for analysis
func (t *Transcript) IsCompleted() bool {
	return t.Status == TranscriptStatusCompleted && len(t.Segments) > 0
}

// TableName specifies the table name for GORM
func (Transcript) TableName() string {
	return "transcripts"
}
