package models

import "time"

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

type User struct {
	ID        int64
	Username  string
	Email     string
	PassHash  []byte
	Role      string
	CreatedAt time.Time
}

// UserUpdate carries the columns to change; nil fields are left untouched.
type UserUpdate struct {
	Username *string
	Email    *string
	PassHash []byte
}

func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && len(u.PassHash) == 0
}
