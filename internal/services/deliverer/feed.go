package deliverer

import (
	"encoding/xml"
	"fmt"
	"math"
	"time"

	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/pkg/timeutil"
)

const (
	itunesNamespace = "http://www.itunes.com/dtds/podcast-1.0.dtd"
	atomNamespace   = "http://www.w3.org/2005/Atom"
)

// rssDocument is the RSS 2.0 envelope for a user's digest feed
type rssDocument struct {
	XMLName  xml.Name   `xml:"rss"`
	Version  string     `xml:"version,attr"`
	ITunesNS string     `xml:"xmlns:itunes,attr"`
	AtomNS   string     `xml:"xmlns:atom,attr"`
	Channel  rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Description   string    `xml:"description"`
	Link          string    `xml:"link"`
	Language      string    `xml:"language"`
	LastBuildDate string    `xml:"lastBuildDate"`
	SelfLink      atomLink  `xml:"atom:link"`
	Author        string    `xml:"itunes:author"`
	Summary       string    `xml:"itunes:summary"`
	Items         []rssItem `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title       string       `xml:"title"`
	Description string       `xml:"description"`
	Enclosure   rssEnclosure `xml:"enclosure"`
	GUID        rssGUID      `xml:"guid"`
	PubDate     string       `xml:"pubDate"`
	Duration    string       `xml:"itunes:duration"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// renderFeed serializes the user's digests, newest first, into RSS 2.0.
// Callers pass only digests that have rendered audio.
func renderFeed(feedURL, author string, digests []models.Digest, audioURL func(key string) string, now time.Time) ([]byte, error) {
	doc := rssDocument{
		Version:  "2.0",
		ITunesNS: itunesNamespace,
		AtomNS:   atomNamespace,
		Channel: rssChannel{
			Title:         "PodDigest Weekly",
			Description:   "Your weekly audio digests, produced by PodDigest.",
			Link:          feedURL,
			Language:      "en-us",
			LastBuildDate: now.UTC().Format(time.RFC1123Z),
			SelfLink:      atomLink{Href: feedURL, Rel: "self", Type: "application/rss+xml"},
			Author:        author,
			Summary:       "Your weekly audio digests, produced by PodDigest.",
		},
	}

	for i := range digests {
		doc.Channel.Items = append(doc.Channel.Items, feedItem(&digests[i], audioURL))
	}

	payload, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling feed: %w", err)
	}
	return append([]byte(xml.Header), payload...), nil
}

func feedItem(digest *models.Digest, audioURL func(key string) string) rssItem {
	return rssItem{
		Title: digest.Title,
		Description: fmt.Sprintf("%d clips from your subscriptions for the week of %s.",
			digest.ClipCount, digest.WeekStart.UTC().Format("January 2, 2006")),
		Enclosure: rssEnclosure{
			URL:    audioURL(digest.AudioObjectKey),
			Type:   "audio/mpeg",
			Length: "0",
		},
		GUID:     rssGUID{IsPermaLink: "false", Value: digest.ID},
		PubDate:  digest.CreatedAt.UTC().Format(time.RFC1123Z),
		Duration: timeutil.FormatHMS(int(math.Round(digest.TotalDurationSec))),
	}
}
