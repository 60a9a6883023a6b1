package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Digest status values. Transitions follow the stage order; any
// non-terminal status may move to failed.
const (
	DigestStatusPending      = "pending"
	DigestStatusCrawling     = "crawling"
	DigestStatusTranscribing = "transcribing"
	DigestStatusAnalyzing    = "analyzing"
	DigestStatusNarrating    = "narrating"
	DigestStatusAssembling   = "assembling"
	DigestStatusDelivering   = "delivering"
	DigestStatusCompleted    = "completed"
	DigestStatusFailed       = "failed"
)

// Clip length preferences
const (
	ClipLengthShort  = "short"
	ClipLengthMedium = "medium"
	ClipLengthLong   = "long"
	ClipLengthMixed  = "mixed"
)

// Digest orderings
const (
	StructureByScore       = "byScore"
	StructureByShow        = "byShow"
	StructureByTopic       = "byTopic"
	StructureChronological = "chronological"
)

// Narration depth levels
const (
	NarrationBrief    = "brief"
	NarrationStandard = "standard"
	NarrationDetailed = "detailed"
)

// Transition styles between digest segments
const (
	TransitionStinger  = "stinger"
	TransitionSoftFade = "softFade"
	TransitionWhoosh   = "whoosh"
	TransitionSilence  = "silence"
)

// Delivery methods
const (
	DeliverySyndication = "syndication"
	DeliveryPush        = "push"
	DeliveryEmail       = "email"
	DeliveryInApp       = "inApp"
)

// Clip feedback tags
const (
	FeedbackUp   = "up"
	FeedbackDown = "down"
)

// digestStatusRank orders the non-failed statuses along the pipeline
var digestStatusRank = map[string]int{
	DigestStatusPending:      0,
	DigestStatusCrawling:     1,
	DigestStatusTranscribing: 2,
	DigestStatusAnalyzing:    3,
	DigestStatusNarrating:    4,
	DigestStatusAssembling:   5,
	DigestStatusDelivering:   6,
	DigestStatusCompleted:    7,
}

// DigestConfig captures a user's weekly digest preferences
type DigestConfig struct {
	gorm.Model
	UserID               string `json:"user_id" gorm:"not null;index"`
	Name                 string `json:"name"`
	TargetLengthMinutes  int    `json:"target_length_minutes" gorm:"default:60"`
	ClipLengthPreference string `json:"clip_length_preference" gorm:"default:medium;size:20"`
	Structure            string `json:"structure" gorm:"default:byScore;size:20"`
	BreadthDepth         int    `json:"breadth_depth" gorm:"default:50"` // 0 = breadth, 100 = depth
	VoiceID              string `json:"voice_id" gorm:"size:100"`
	NarrationDepth       string `json:"narration_depth" gorm:"default:standard;size:20"`
	MusicStyle           string `json:"music_style" gorm:"size:50"`
	TransitionStyle      string `json:"transition_style" gorm:"default:stinger;size:20"`
	DeliveryDay          string `json:"delivery_day" gorm:"default:Friday;size:10"`
	DeliveryTime         string `json:"delivery_time" gorm:"default:08:00;size:5"` // HH:MM, UTC
	DeliveryMethod       string `json:"delivery_method" gorm:"default:syndication;size:20"`
	Active               bool   `json:"active" gorm:"default:true"`
}

// ClipLengthRange returns the [lo, hi] clip duration range in seconds for
// the config's clip length preference.
func (c *DigestConfig) ClipLengthRange() (float64, float64) {
	switch c.ClipLengthPreference {
	case ClipLengthShort:
		return 120, 240
	case ClipLengthLong:
		return 480, 900
	case ClipLengthMixed:
		return 120, 900
	default: // medium
		return 240, 480
	}
}

// DeliveryHour parses DeliveryTime ("HH:MM") and returns the UTC hour of day
func (c *DigestConfig) DeliveryHour() (int, error) {
	t, err := time.Parse("15:04", c.DeliveryTime)
	if err != nil {
		return 0, fmt.Errorf("parsing delivery time %q: %w", c.DeliveryTime, err)
	}
	return t.Hour(), nil
}

// Chapter marks one clip's span inside the rendered digest audio
type Chapter struct {
	Title    string  `json:"title"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// ChapterList stores the ordered chapter index as a JSON column
type ChapterList []Chapter

// Value implements driver.Valuer interface for ChapterList
func (c ChapterList) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner interface for ChapterList
func (c *ChapterList) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, c)
}

// Digest represents one production run of a weekly audio digest
type Digest struct {
	ID               string       `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	UserID           string       `json:"user_id" gorm:"not null;index"`
	ConfigID         uint         `json:"config_id" gorm:"not null;index"`
	Title            string       `json:"title"`
	WeekStart        time.Time    `json:"week_start"`
	WeekEnd          time.Time    `json:"week_end"`
	AudioObjectKey   string       `json:"audio_object_key,omitempty"`
	TotalDurationSec float64      `json:"total_duration_sec"`
	ClipCount        int          `json:"clip_count"`
	Chapters         ChapterList  `json:"chapters,omitempty" gorm:"type:json"`
	Status           string       `json:"status" gorm:"default:pending;size:20;index"`
	Error            string       `json:"error,omitempty" gorm:"size:500"`
	Version          int64        `json:"-" gorm:"default:0"` // guards concurrent status writes
	Clips            []DigestClip `json:"clips,omitempty" gorm:"foreignKey:DigestID"`
}

// BeforeCreate generates a UUID before creating a new digest
func (d *Digest) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = DigestStatusPending
	}
	return nil
}

// TableName specifies the table name for GORM
func (Digest) TableName() string {
	return "digests"
}

// IsTerminal returns true once the digest has finished, successfully or not
func (d *Digest) IsTerminal() bool {
	return d.Status == DigestStatusCompleted || d.Status == DigestStatusFailed
}

// CanTransitionTo reports whether moving to next respects the stage order.
// Any non-terminal digest may fail; a failed digest may only be reset to
// pending by an explicit retry.
func (d *Digest) CanTransitionTo(next string) bool {
	if next == DigestStatusFailed {
		return !d.IsTerminal()
	}
	if d.Status == DigestStatusFailed {
		return next == DigestStatusPending
	}
	cur, ok := digestStatusRank[d.Status]
	if !ok {
		return false
	}
	nxt, ok := digestStatusRank[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}

// DigestClip represents a selected excerpt of an episode within a digest
type DigestClip struct {
	gorm.Model
	DigestID              string  `json:"digest_id" gorm:"not null;index;uniqueIndex:idx_digest_clips_digest_position;size:36"`
	EpisodeID             uint    `json:"episode_id" gorm:"not null;index"`
	StartSec              float64 `json:"start_sec" gorm:"not null"`
	EndSec                float64 `json:"end_sec" gorm:"not null"`
	Score                 float64 `json:"score" gorm:"not null"`
	InsightDensity        int     `json:"insight_density"`
	EmotionalIntensity    int     `json:"emotional_intensity"`
	Actionability         int     `json:"actionability"`
	TopicalRelevance      int     `json:"topical_relevance"`
	ConversationalQuality int     `json:"conversational_quality"`
	Position              int     `json:"position" gorm:"not null;uniqueIndex:idx_digest_clips_digest_position"`
	FeedbackTag           string  `json:"feedback_tag,omitempty" gorm:"size:10"`
	Episode               Episode `json:"-" gorm:"foreignKey:EpisodeID"`
}

// TableName specifies the table name for GORM
func (DigestClip) TableName() string {
	return "digest_clips"
}

// DurationSec returns the clip length in seconds
func (c *DigestClip) DurationSec() float64 {
	return c.EndSec - c.StartSec
}

// Overlaps reports whether two clips of the same episode share any time span
func (c *DigestClip) Overlaps(other *DigestClip) bool {
	if c.EpisodeID != other.EpisodeID {
		return false
	}
	return c.StartSec < other.EndSec && other.StartSec < c.EndSec
}
