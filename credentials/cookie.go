// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"net/http"
	"time"
)

// CookieName is the cookie carrying the credential token.
const CookieName = "db_credentials"

// SetCookie writes the credential token. HttpOnly and SameSite=Strict keep
// the token away from scripts and cross-site requests; secure should be true
// whenever the deployment serves HTTPS.
func SetCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the credential cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// FromRequest extracts the token from the request cookie. A missing cookie
// is ErrNoCredentials.
func FromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", ErrNoCredentials
	}
	return cookie.Value, nil
}
