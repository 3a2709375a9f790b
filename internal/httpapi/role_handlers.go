package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/rideauth"
	"github.com/MrEthical07/rideauth/response"
)

func (a *API) switchRole(w http.ResponseWriter, r *http.Request) {
	var req switchRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	claims, _ := rideauth.ClaimsFromContext(r.Context())
	res, err := a.engine.SwitchActiveRole(r.Context(), claims.AccountID, rideauth.Role(req.Role))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "active role switched", sessionView{Account: viewAccount(res.Account), Tokens: res.Pair})
}

type meView struct {
	Account   accountView   `json:"account"`
	TokenRole rideauth.Role `json:"token_role"`
	ExpiresAt time.Time     `json:"token_expires_at"`
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := rideauth.ClaimsFromContext(r.Context())
	account, err := a.engine.Account(r.Context(), claims.AccountID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "ok", meView{
		Account:   viewAccount(account),
		TokenRole: claims.Role,
		ExpiresAt: claims.ExpiresAt,
	})
}

func (a *API) updateRoles(w http.ResponseWriter, r *http.Request) {
	var req updateRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	claims, _ := rideauth.ClaimsFromContext(r.Context())
	account, err := a.engine.UpdateAssignedRoles(r.Context(), claims, r.PathValue("id"), req.roles())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "roles updated", viewAccount(account))
}

// internalAccount lets trusted services resolve an account id. It sits
// behind the internal key gate only.
func (a *API) internalAccount(w http.ResponseWriter, r *http.Request) {
	account, err := a.engine.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "ok", viewAccount(account))
}
