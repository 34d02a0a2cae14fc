package auth

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
)

// mojangDiscoveryURL is the best-effort OpenID discovery document used to
// find the live JWKS endpoint.
const mojangDiscoveryURL = "https://login.live.com/.well-known/openid-configuration"

// fallbackAuthorizationURI is used when discovery itself fails.
const fallbackAuthorizationURI = "https://login.live.com/oauth20_authorize.srf"

// discoveryTTL bounds how often the discovery document is refreshed.
const discoveryTTL = 6 * time.Hour

// jwksMinRefresh bounds how often the JWKS document itself is refreshed.
const jwksMinRefresh = 30 * time.Minute

// JWKSResolver implements KeyResolver using, in priority order: the JWT's
// own x5u header, its first x5c entry, a static kid→key map, or a remotely
// fetched JWKS.
type JWKSResolver struct {
	httpClient *http.Client
	staticKeys map[string]any

	mu            sync.Mutex
	cachedJWKS    *jose.JSONWebKeySet
	jwksFetchedAt time.Time
	cachedJWKSURL string
	discoveredURL string
	discoveredAt  time.Time
}

// NewJWKSResolver builds a resolver with an optional static kid→key map for
// offline-friendly testing or pinned deployments.
func NewJWKSResolver(httpClient *http.Client, staticKeys map[string]any) *JWKSResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &JWKSResolver{httpClient: httpClient, staticKeys: staticKeys}
}

// Resolve implements KeyResolver.
func (r *JWKSResolver) Resolve(ctx context.Context, tok *jose.JSONWebSignature, _ string) (any, error) {
	header := tok.Signatures[0].Header

	if header.ExtraHeaders != nil {
		if x5u, ok := header.ExtraHeaders[jose.HeaderKey("x5u")]; ok {
			if key, err := decodeDERPublicKeyBase64(x5u); err == nil {
				return key, nil
			}
		}
	}
	if chains, err := header.Certificates(x509.VerifyOptions{}); err == nil && len(chains) > 0 && len(chains[0]) > 0 {
		return chains[0][0].PublicKey, nil
	}
	if kid := header.KeyID; kid != "" {
		if key, ok := r.staticKeys[kid]; ok {
			return key, nil
		}
	}

	jwks, err := r.jwks(ctx)
	if err != nil {
		return nil, err
	}
	if kid := header.KeyID; kid != "" {
		if keys := jwks.Key(kid); len(keys) > 0 {
			return keys[0].Key, nil
		}
	}
	if len(jwks.Keys) > 0 {
		return jwks.Keys[0].Key, nil
	}
	return nil, bedrockerr.New(bedrockerr.AuthFailure, "no matching JWKS key")
}

func decodeDERPublicKeyBase64(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, bedrockerr.New(bedrockerr.AuthFailure, "x5u header is not a string")
	}
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		der, err = base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return nil, bedrockerr.Wrap(bedrockerr.AuthFailure, "decode x5u base64", err)
		}
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.AuthFailure, "parse x5u DER key", err)
	}
	return key, nil
}

// jwks returns the cached JWKS document, refreshing it only on cache miss or
// staleness past jwksMinRefresh.
func (r *JWKSResolver) jwks(ctx context.Context) (*jose.JSONWebKeySet, error) {
	r.mu.Lock()
	if r.cachedJWKS != nil && time.Since(r.jwksFetchedAt) < jwksMinRefresh {
		jwks := r.cachedJWKS
		r.mu.Unlock()
		return jwks, nil
	}
	r.mu.Unlock()

	jwksURL, err := r.discoverJWKSURL(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.AuthFailure, "build jwks request", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.AuthFailure, "fetch jwks", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.AuthFailure, "read jwks body", err)
	}

	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.AuthFailure, "decode jwks body", err)
	}

	r.mu.Lock()
	r.cachedJWKS = &jwks
	r.jwksFetchedAt = time.Now()
	r.mu.Unlock()
	return &jwks, nil
}

type openIDConfig struct {
	JWKSURI string `json:"jwks_uri"`
}

// discoverJWKSURL resolves the JWKS endpoint via the Mojang discovery
// document, cached for discoveryTTL, falling back to a hard-coded
// authorization service URI on failure.
func (r *JWKSResolver) discoverJWKSURL(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.discoveredURL != "" && time.Since(r.discoveredAt) < discoveryTTL {
		url := r.discoveredURL
		r.mu.Unlock()
		return url, nil
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mojangDiscoveryURL, nil)
	if err != nil {
		return fallbackAuthorizationURI, nil
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fallbackAuthorizationURI, nil
	}
	defer resp.Body.Close()

	var cfg openIDConfig
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&cfg); err != nil || cfg.JWKSURI == "" {
		return fallbackAuthorizationURI, nil
	}

	r.mu.Lock()
	r.discoveredURL = cfg.JWKSURI
	r.discoveredAt = time.Now()
	r.mu.Unlock()
	return cfg.JWKSURI, nil
}
