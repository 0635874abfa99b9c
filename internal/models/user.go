package models

import "time"

// Identity is the authenticated principal behind a session.
// The zero value is the anonymous identity.
type Identity struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// Anonymous returns the identity used when a credential is absent or invalid.
func Anonymous() Identity {
	return Identity{}
}

func (i Identity) IsAnonymous() bool {
	return i.ID == 0
}

// UserRef is the compact user shape embedded in outbound payloads.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (i Identity) Ref() UserRef {
	return UserRef{ID: i.ID, Username: i.Username}
}
