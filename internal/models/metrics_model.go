package models

import "time"

// MetricsSnapshot is a daily roll-up of publishing activity.
type MetricsSnapshot struct {
	ID                 string    `db:"id" json:"id"`
	Date               time.Time `db:"date" json:"date"`
	PostsPublished     int64     `db:"posts_published" json:"posts_published"`
	StoriesPublished   int64     `db:"stories_published" json:"stories_published"`
	ReelsPublished     int64     `db:"reels_published" json:"reels_published"`
	FailedPublications int64     `db:"failed_publications" json:"failed_publications"`
	ActiveAccounts     int64     `db:"active_accounts" json:"active_accounts"`
}

type Stats struct {
	TotalAccounts  int64                       `json:"total_accounts"`
	ActiveAccounts int64                       `json:"active_accounts"`
	ByStatus       map[PublicationStatus]int64 `json:"by_status"`
	ByContentType  map[ContentType]int64       `json:"by_content_type"`
}
