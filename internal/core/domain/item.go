package domain

import "time"

type ItemStatus string

const (
	ItemStatusFetched     ItemStatus = "fetched"
	ItemStatusTranscribed ItemStatus = "transcribed"
	ItemStatusAnalyzed    ItemStatus = "analyzed"
	ItemStatusIndexed     ItemStatus = "indexed"
	ItemStatusFailed      ItemStatus = "failed"
)

type Source string

const (
	SourceYouTube Source = "youtube"
)

// Item represents one ingested piece of content.
type Item struct {
	ID        string
	URL       string
	Source    Source
	Title     string
	Uploader  string
	Duration  time.Duration
	MediaPath string
	Status    ItemStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemMeta is the metadata returned by the remote source before any media
// is downloaded.
type ItemMeta struct {
	VideoID  string
	URL      string
	Title    string
	Uploader string
	Duration time.Duration
}
