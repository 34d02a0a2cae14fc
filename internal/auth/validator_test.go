package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v3"
)

func signChainLink(t *testing.T, priv *ecdsa.PrivateKey, claims chainClaims) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES384, Key: priv}, nil)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		t.Fatal(err)
	}
	out, err := jws.CompactSerialize()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

type staticResolver struct{ key any }

func (s staticResolver) Resolve(context.Context, *jose.JSONWebSignature, string) (any, error) {
	return s.key, nil
}

func TestValidateOnlineModeSuccess(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	claims := chainClaims{IdentityPublicKey: "abc", Exp: time.Now().Add(time.Hour).Unix(), Nbf: time.Now().Add(-time.Minute).Unix()}
	claims.ExtraData.XUID = "123"
	claims.ExtraData.DisplayName = "Steve"
	claims.ExtraData.Identity = "uuid-1"
	link := signChainLink(t, priv, claims)

	v := New(Options{OnlineMode: true, Resolver: staticResolver{key: &priv.PublicKey}})
	identity, err := v.Validate(context.Background(), []string{link}, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.XUID != "123" || identity.DisplayName != "Steve" || identity.UUID != "uuid-1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestValidateExpiredTokenFails(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	claims := chainClaims{IdentityPublicKey: "abc", Exp: time.Now().Add(-time.Hour).Unix()}
	link := signChainLink(t, priv, claims)

	v := New(Options{OnlineMode: true, Resolver: staticResolver{key: &priv.PublicKey}})
	if _, err := v.Validate(context.Background(), []string{link}, ""); err == nil {
		t.Fatal("expected temporal validation failure")
	}
}

func TestValidateMissingIdentityKeyFails(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	claims := chainClaims{Exp: time.Now().Add(time.Hour).Unix()}
	link := signChainLink(t, priv, claims)

	v := New(Options{OnlineMode: true, Resolver: staticResolver{key: &priv.PublicKey}})
	if _, err := v.Validate(context.Background(), []string{link}, ""); err == nil {
		t.Fatal("expected missing identity key failure")
	}
}

func TestValidateOfflineModeBypassesSignature(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	claims := chainClaims{IdentityPublicKey: "abc", Exp: time.Now().Add(time.Hour).Unix()}
	claims.ExtraData.Identity = "offline-uuid"
	link := signChainLink(t, priv, claims)

	v := New(Options{OnlineMode: false, AllowLegacyAuth: true})
	identity, err := v.Validate(context.Background(), []string{link}, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.UUID != "offline-uuid" {
		t.Fatalf("got %+v", identity)
	}
}
