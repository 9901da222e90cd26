package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// User roles.
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// User is an account able to sign in with a one-time password.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	Name      string    `bun:"name" json:"name"`
	Email     string    `bun:"email,unique" json:"email"`
	Phone     string    `bun:"phone" json:"phone"`
	Role      string    `bun:"role" json:"role"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// Setting is a key/value configuration row.
type Setting struct {
	bun.BaseModel `bun:"table:settings,alias:s"`

	Key       string    `bun:"key,pk" json:"key"`
	Value     string    `bun:"value" json:"value"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}
