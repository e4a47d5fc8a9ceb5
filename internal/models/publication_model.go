package models

import "time"

type ContentType string

const (
	ContentPost  ContentType = "post"
	ContentStory ContentType = "story"
	ContentReel  ContentType = "reel"
)

func (c ContentType) Valid() bool {
	return c == ContentPost || c == ContentStory || c == ContentReel
}

type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
)

func (m MediaType) Valid() bool {
	return m == MediaPhoto || m == MediaVideo
}

type PublicationStatus string

const (
	StatusQueued    PublicationStatus = "queued"
	StatusPublished PublicationStatus = "published"
	StatusFailed    PublicationStatus = "failed"
	StatusCancelled PublicationStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s PublicationStatus) Terminal() bool {
	return s == StatusPublished || s == StatusFailed || s == StatusCancelled
}

type Publication struct {
	ID            string            `db:"id" json:"id"`
	AccountHandle string            `db:"account_handle" json:"account_handle"`
	ContentType   ContentType       `db:"content_type" json:"content_type"`
	MediaType     MediaType         `db:"media_type" json:"media_type"`
	MediaRefs     []string          `db:"media_refs" json:"media_refs"`
	Caption       string            `db:"caption" json:"caption"`
	PublishTime   time.Time         `db:"publish_time" json:"publish_time"`
	NotBefore     time.Time         `db:"not_before" json:"not_before"`
	Status        PublicationStatus `db:"status" json:"status"`
	Attempts      int               `db:"attempts" json:"attempts"`
	ItemsDone     int               `db:"items_done" json:"items_done,omitempty"` // story items already live
	ErrorMessage  string            `db:"error_message" json:"error_message,omitempty"`
	MediaID       string            `db:"media_id" json:"media_id,omitempty"`
	LockedUntil   time.Time         `db:"locked_until" json:"-"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
	PublishedAt   *time.Time        `db:"published_at" json:"published_at,omitempty"`
}

// PublicationDraft is what the front-end hands to Enqueue.
type PublicationDraft struct {
	AccountHandle string
	ContentType   ContentType
	MediaType     MediaType
	MediaRefs     []string
	Caption       string
	PublishTime   time.Time
}

// PublicationFilter narrows ListQueue. Zero values match everything.
type PublicationFilter struct {
	Status        PublicationStatus
	AccountHandle string
	ContentType   ContentType
	Limit         int
}

// PublicationAttempt is one call to the publisher for a publication.
type PublicationAttempt struct {
	ID            string    `db:"id" json:"id"`
	PublicationID string    `db:"publication_id" json:"publication_id"`
	Attempt       int       `db:"attempt" json:"attempt"`
	ErrorMessage  string    `db:"error_message" json:"error_message"`
	Transient     bool      `db:"transient" json:"transient"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
