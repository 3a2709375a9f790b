package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/rideauth"
	"github.com/MrEthical07/rideauth/response"
	"go.uber.org/zap"
)

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.engine.Register(r.Context(), rideauth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     rideauth.Role(req.Role),
	})
	// The account exists even when the verification email could not be
	// sent; the client can ask for a resend.
	if err != nil && !(errors.Is(err, rideauth.ErrEmailDeliveryFailed) && res.Account.ID != "") {
		a.fail(w, r, err)
		return
	}

	var out registerView
	out.Account = viewAccount(res.Account)
	out.Verification.ExpiresAt = res.Dispatch.ExpiresAt
	out.Verification.Delivered = res.Dispatch.Delivered
	response.OK(w, http.StatusCreated, "account created", out)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "signed in", sessionView{Account: viewAccount(res.Account), Tokens: res.Pair})
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	account, err := a.engine.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "email verified", viewAccount(account))
}

const acceptedMessage = "if the address belongs to an account, an email has been sent"

func (a *API) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	if _, err := a.engine.ResendVerification(r.Context(), req.Email); err != nil {
		if !errors.Is(err, rideauth.ErrEmailDeliveryFailed) {
			a.fail(w, r, err)
			return
		}
		a.log.Warn("verification resend not delivered",
			zap.String("request_id", rideauth.RequestIDFromContext(r.Context())))
	}
	response.OK(w, http.StatusAccepted, acceptedMessage, nil)
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusAccepted, acceptedMessage, nil)
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.engine.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "password updated", nil)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	pair, err := a.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "tokens refreshed", pair)
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "signed out", nil)
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := rideauth.ClaimsFromContext(r.Context())
	if err := a.engine.LogoutAll(r.Context(), claims.AccountID); err != nil {
		a.fail(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "signed out everywhere", nil)
}

func (a *API) signInGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.engine.SignInWithGoogle(r.Context(), req.IDToken)
	a.federatedResult(w, r, res, err)
}

func (a *API) signInApple(w http.ResponseWriter, r *http.Request) {
	var req appleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.engine.SignInWithApple(r.Context(), req.IdentityToken)
	a.federatedResult(w, r, res, err)
}

func (a *API) federatedResult(w http.ResponseWriter, r *http.Request, res rideauth.LoginResult, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	response.OK(w, status, "signed in", sessionView{
		Account: viewAccount(res.Account),
		Tokens:  res.Pair,
		Created: res.Created,
	})
}
