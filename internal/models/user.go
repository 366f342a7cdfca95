package models

import "time"

// User is an identity owned by the auth subsystem. Conversations and messages
// only reference users.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email,omitempty"`
	Image     string    `db:"image" json:"image,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// HasEmail reports whether the user can be addressed on a personal channel.
func (u User) HasEmail() bool {
	return u.Email != ""
}
