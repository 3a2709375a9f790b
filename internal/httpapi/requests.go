package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/rideauth"
)

const maxBodyBytes = 64 << 10

// decodeJSON reads exactly one JSON object into dst and runs its Validate.
// Unknown fields are rejected. Failures wrap rideauth.ErrInvalidInput.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{ Validate() error }) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()

	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", rideauth.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed JSON body", rideauth.ErrInvalidInput)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", rideauth.ErrInvalidInput)
	}
	return dst.Validate()
}

func required(fields ...string) error {
	for i := 0; i < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return fmt.Errorf("%w: %s is required", rideauth.ErrInvalidInput, fields[i])
		}
	}
	return nil
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func (r registerRequest) Validate() error {
	return required("email", r.Email, "password", r.Password)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return required("email", r.Email, "password", r.Password)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r refreshRequest) Validate() error {
	return required("refresh_token", r.RefreshToken)
}

type emailRequest struct {
	Email string `json:"email"`
}

func (r emailRequest) Validate() error {
	return required("email", r.Email)
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (r verifyEmailRequest) Validate() error {
	return required("email", r.Email, "code", r.Code)
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (r resetPasswordRequest) Validate() error {
	return required("email", r.Email, "code", r.Code, "new_password", r.NewPassword)
}

type googleRequest struct {
	IDToken string `json:"id_token"`
}

func (r googleRequest) Validate() error {
	return required("id_token", r.IDToken)
}

type appleRequest struct {
	IdentityToken string `json:"identity_token"`
}

func (r appleRequest) Validate() error {
	return required("identity_token", r.IdentityToken)
}

type switchRoleRequest struct {
	Role string `json:"role"`
}

func (r switchRoleRequest) Validate() error {
	return required("role", r.Role)
}

type updateRolesRequest struct {
	Roles []string `json:"roles"`
}

func (r updateRolesRequest) Validate() error {
	if len(r.Roles) == 0 {
		return fmt.Errorf("%w: roles is required", rideauth.ErrInvalidInput)
	}
	return nil
}

func (r updateRolesRequest) roles() []rideauth.Role {
	out := make([]rideauth.Role, 0, len(r.Roles))
	for _, role := range r.Roles {
		out = append(out, rideauth.Role(strings.TrimSpace(role)))
	}
	return out
}
