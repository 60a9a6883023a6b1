package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription priority tags
const (
	PriorityMust      = "must"
	PriorityPreferred = "preferred"
	PriorityNice      = "nice"
)

// Transcript status values for Episode.TranscriptStatus and
// Transcript.Status. Advanced monotonically: pending → processing →
// completed or failed.
const (
	TranscriptStatusPending    = "pending"
	TranscriptStatusProcessing = "processing"
	TranscriptStatusCompleted  = "completed"
	TranscriptStatusFailed     = "failed"
)

// Podcast represents a podcast feed
type Podcast struct {
	gorm.Model
	Title         string         `json:"title" gorm:"not null"`
	Author        string         `json:"author"`
	Description   string         `json:"description"`
	FeedURL       string         `json:"feed_url" gorm:"uniqueIndex;not null"`
	ArtworkURL    string         `json:"artwork_url"`
	Language      string         `json:"language"`
	ExternalID    string         `json:"external_id"`
	Categories    datatypes.JSON `json:"categories,omitempty"`
	LastCrawledAt *time.Time     `json:"last_crawled_at"`
	Episodes      []Episode      `json:"episodes,omitempty" gorm:"foreignKey:PodcastID"`
}

// Subscription represents a (user, podcast) edge with a priority tag.
// Deactivation is a flag flip; rows are never cascade-deleted.
type Subscription struct {
	gorm.Model
	UserID    string  `json:"user_id" gorm:"not null;uniqueIndex:idx_subscriptions_user_podcast"`
	PodcastID uint    `json:"podcast_id" gorm:"not null;uniqueIndex:idx_subscriptions_user_podcast"`
	Priority  string  `json:"priority" gorm:"default:preferred;size:20"`
	Active    bool    `json:"active" gorm:"default:true"`
	Podcast   Podcast `json:"podcast,omitempty" gorm:"foreignKey:PodcastID"`
}

// Episode represents a discovered item in a podcast feed
type Episode struct {
	gorm.Model
	PodcastID        uint      `json:"podcast_id" gorm:"not null;index;uniqueIndex:idx_episodes_podcast_guid"`
	GUID             string    `json:"guid" gorm:"not null;uniqueIndex:idx_episodes_podcast_guid"`
	Title            string    `json:"title" gorm:"not null"`
	Description      string    `json:"description" gorm:"type:text"`
	AudioURL         string    `json:"audio_url" gorm:"not null"`
	EnclosureType    string    `json:"enclosure_type"`
	Duration         int       `json:"duration"` // seconds, 0 = unknown
	PublishedAt      time.Time `json:"published_at" gorm:"index"`
	TranscriptStatus string    `json:"transcript_status" gorm:"default:pending;size:20;index"`
	Podcast          Podcast   `json:"-" gorm:"foreignKey:PodcastID"`
}

// HasKnownDuration returns true when the feed supplied a parseable duration.
func (e *Episode) HasKnownDuration() bool {
	return e.Duration > 0
}
