package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "blog-client"
	testKeyID    = "k1"
)

// fakeIssuer is a minimal OIDC provider: discovery, JWKS, and a token
// endpoint that checks the PKCE verifier against the challenge it was sent.
type fakeIssuer struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu         sync.Mutex
	challenges map[string]string // code -> S256 challenge
	nonces     map[string]string // code -> nonce
	tokenCalls int
	lastForm   map[string][]string
	failToken  bool
	tamper     func(claims jwt.MapClaims)
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIssuer{
		t:          t,
		key:        key,
		challenges: make(map[string]string),
		nonces:     make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.discovery)
	mux.HandleFunc("/jwks", f.jwks)
	mux.HandleFunc("/token", f.token)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIssuer) URL() string { return f.server.URL }

// authorize simulates the browser completing login at the provider for the
// given authorize URL query and returns the code the provider would issue.
func (f *fakeIssuer) authorize(code, challenge, nonce string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges[code] = challenge
	f.nonces[code] = nonce
}

func (f *fakeIssuer) setFailToken(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failToken = fail
}

func (f *fakeIssuer) setTamper(fn func(claims jwt.MapClaims)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tamper = fn
}

func (f *fakeIssuer) calls() (int, map[string][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.lastForm
}

func (f *fakeIssuer) discovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"issuer":                                f.URL(),
		"authorization_endpoint":                f.URL() + "/authorize",
		"token_endpoint":                        f.URL() + "/token",
		"jwks_uri":                              f.URL() + "/jwks",
		"end_session_endpoint":                  f.URL() + "/oidc/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIssuer) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := f.key.PublicKey
	writeJSON(w, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (f *fakeIssuer) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())

	f.mu.Lock()
	f.tokenCalls++
	f.lastForm = r.PostForm
	code := r.PostForm.Get("code")
	challenge, ok := f.challenges[code]
	nonce := f.nonces[code]
	fail := f.failToken
	tamper := f.tamper
	f.mu.Unlock()

	if fail || !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"pkce mismatch"}`))
		return
	}

	claims := jwt.MapClaims{
		"iss":   f.URL(),
		"sub":   "asgardeo-user-1",
		"aud":   testClientID,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
		"nonce": nonce,
		"email": "ada@example.com",
	}
	if tamper != nil {
		tamper(claims)
	}
	writeJSON(w, map[string]any{
		"access_token": "at-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     f.sign(claims),
	})
}

func (f *fakeIssuer) sign(claims jwt.MapClaims) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	raw, err := tok.SignedString(f.key)
	require.NoError(f.t, err)
	return raw
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
