package httpapi

import (
	"net/http"

	"authcenter.org/internal/handoff"
)

// signingKeyID names the current HMAC key generation in the JWKS
// document.
const signingKeyID = "auth-center-hs256-v1"

type discoveryDocument struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	VerifyEndpoint        string   `json:"verify_endpoint"`
	IDTokenSigningAlgs    []string `json:"id_token_signing_alg_values_supported"`
	ResponseTypes         []string `json:"response_types_supported"`
	SubjectTypes          []string `json:"subject_types_supported"`
	Scopes                []string `json:"scopes_supported"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
}

type jwksDocument struct {
	Keys           []jwksKey `json:"keys"`
	VerifyEndpoint string    `json:"verify_endpoint"`
}

// handleOpenIDConfiguration serves the discovery document so downstream
// projects can auto-discover the token, userinfo and verify endpoints.
func (a *API) handleOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, discoveryDocument{
		Issuer:                "auth-center",
		AuthorizationEndpoint: handoff.AuthOrigin + "/login",
		TokenEndpoint:         handoff.AuthOrigin + "/v1/auth/token",
		UserinfoEndpoint:      handoff.AuthOrigin + "/v1/auth/me",
		JWKSURI:               handoff.AuthOrigin + "/v1/auth/jwks",
		VerifyEndpoint:        handoff.AuthOrigin + "/v1/auth/verify",
		IDTokenSigningAlgs:    []string{"HS256"},
		ResponseTypes:         []string{"code"},
		SubjectTypes:          []string{"public"},
		Scopes:                handoff.Projects(),
	})
}

// handleJWKS advertises the signing key metadata. The key is symmetric
// (HS256), so no key material is published; clients that cannot hold the
// shared secret must validate tokens through the verify endpoint.
func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, jwksDocument{
		Keys: []jwksKey{
			{Kty: "oct", Alg: "HS256", Use: "sig", Kid: signingKeyID},
		},
		VerifyEndpoint: handoff.AuthOrigin + "/v1/auth/verify",
	})
}
