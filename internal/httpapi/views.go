package httpapi

import (
	"time"

	"github.com/MrEthical07/rideauth"
)

// accountView is the public shape of an account. The password hash never
// leaves the engine.
type accountView struct {
	ID         string          `json:"id"`
	Email      string          `json:"email"`
	Roles      []rideauth.Role `json:"roles"`
	ActiveRole rideauth.Role   `json:"active_role"`
	Verified   bool            `json:"verified"`
	CreatedAt  time.Time       `json:"created_at"`
}

func viewAccount(a rideauth.Account) accountView {
	return accountView{
		ID:         a.ID,
		Email:      a.Email,
		Roles:      a.Roles,
		ActiveRole: a.ActiveRole,
		Verified:   a.Verified,
		CreatedAt:  a.CreatedAt,
	}
}

type sessionView struct {
	Account accountView        `json:"account"`
	Tokens  rideauth.TokenPair `json:"tokens"`
	Created bool               `json:"created,omitempty"`
}

type registerView struct {
	Account      accountView `json:"account"`
	Verification struct {
		ExpiresAt time.Time `json:"expires_at"`
		Delivered bool      `json:"delivered"`
	} `json:"verification"`
}
