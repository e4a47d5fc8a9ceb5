package models

import (
	"time"
)

type VerificationMethod string

const (
	VerificationNone     VerificationMethod = "none"
	VerificationApp      VerificationMethod = "app"
	VerificationSMS      VerificationMethod = "sms"
	VerificationWhatsApp VerificationMethod = "whatsapp"
	VerificationCall     VerificationMethod = "call"
	VerificationEmail    VerificationMethod = "email"
)

func (m VerificationMethod) Valid() bool {
	switch m {
	case VerificationNone, VerificationApp, VerificationSMS, VerificationWhatsApp, VerificationCall, VerificationEmail:
		return true
	}
	return false
}

type Account struct {
	ID                 string             `db:"id" json:"id"`
	Handle             string             `db:"handle" json:"handle"`
	ExternalID         string             `db:"external_id" json:"external_id"`
	EncryptedPassword  string             `db:"encrypted_password" json:"-"`
	VerificationMethod VerificationMethod `db:"verification_method" json:"verification_method"`
	SessionState       string             `db:"session_state" json:"-"` // encrypted, empty when absent
	LastUsed           time.Time          `db:"last_used" json:"last_used"`
	Active             bool               `db:"active" json:"active"`
	PostsCount         int64              `db:"posts_count" json:"posts_count"`
	StoriesCount       int64              `db:"stories_count" json:"stories_count"`
	ReelsCount         int64              `db:"reels_count" json:"reels_count"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}
