package domain

import "time"

type Role int

const (
	RoleBuyer Role = 1
	RoleAdmin Role = 2
)

func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleAdmin
}

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

type User struct {
	ID           string
	Email        string
	Name         string
	Contact      string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Principal is the authenticated caller resolved from a session token.
type Principal struct {
	UserID string
	Role   Role
}

func (p *Principal) IsBuyer() bool {
	return p != nil && p.UserID != "" && p.Role == RoleBuyer
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.UserID != "" && p.Role == RoleAdmin
}
