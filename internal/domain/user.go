// Package domain defines the persistence models for users, messages, and
// idempotency records. These types are mapped with GORM and form the core
// data layer of the chat relay.
package domain

import "time"

// User is a registered account. Email uniqueness is enforced by a unique
// index; the stored value is exactly what the client supplied.
//
// PasswordHash holds a bcrypt digest and is never serialized.
type User struct {
	ID           string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name         string    `json:"name"       gorm:"type:varchar(255);not null"`
	Email        string    `json:"email"      gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// PublicUser is the outward-facing view of a User.
type PublicUser struct {
	ID    string `json:"id"    example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Name  string `json:"name"  example:"Ann"`
	Email string `json:"email" example:"ann@x.com"`
}

// Public strips everything but id, name and email.
func (u *User) Public() PublicUser {
	if u == nil {
		return PublicUser{}
	}
	return PublicUser{ID: u.ID, Name: u.Name, Email: u.Email}
}
