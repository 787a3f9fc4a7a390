// Package testkeys builds signing keys, key sets and signed tokens for tests.
package testkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Pair is an RSA signing key and its public JWK.
type Pair struct {
	KID     string
	Private *rsa.PrivateKey
	Public  jwk.Key
}

func NewPair(t testing.TB, kid string) Pair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		t.Fatalf("public jwk: %v", err)
	}
	_ = pub.Set(jwk.KeyIDKey, kid)
	_ = pub.Set(jwk.AlgorithmKey, jwa.RS256)
	_ = pub.Set(jwk.KeyUsageKey, "sig")
	return Pair{KID: kid, Private: priv, Public: pub}
}

func Set(t testing.TB, pairs ...Pair) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	for _, p := range pairs {
		if err := set.AddKey(p.Public); err != nil {
			t.Fatalf("add key: %v", err)
		}
	}
	return set
}

// Sign produces an RS256 compact token with kid in the protected header.
func (p Pair) Sign(t testing.TB, claims map[string]any) string {
	t.Helper()
	return SignWith(t, jwa.RS256, p.Private, p.KID, claims)
}

func SignWith(t testing.TB, alg jwa.SignatureAlgorithm, key any, kid string, claims map[string]any) string {
	t.Helper()
	tok := jwt.New()
	for k, v := range claims {
		if err := tok.Set(k, v); err != nil {
			t.Fatalf("set claim %s: %v", k, err)
		}
	}
	hdr := jws.NewHeaders()
	if kid != "" {
		_ = hdr.Set(jws.KeyIDKey, kid)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(alg, key, jws.WithProtectedHeaders(hdr)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return string(signed)
}

// Server serves set as a JWKS document and counts requests.
type Server struct {
	*httptest.Server
	hits atomic.Int32
	set  atomic.Value
}

func NewServer(t testing.TB, set jwk.Set) *Server {
	t.Helper()
	s := &Server{}
	s.Replace(set)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.set.Load())
	}))
	t.Cleanup(s.Close)
	return s
}

// Replace swaps the served set, simulating provider-side rotation.
func (s *Server) Replace(set jwk.Set) { s.set.Store(set) }

func (s *Server) Hits() int { return int(s.hits.Load()) }
