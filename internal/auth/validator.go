// Package auth implements the JWT identity-chain validator : it
// verifies the login JWT chain against a rotating JWKS (or an offline
// fallback) and merges claims into a ValidatedIdentity.
package auth

import (
	"context"
	"encoding/json"
	"time"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
)

// allowedAlgorithms is the set of JWT signing algorithms accepted anywhere
// in the chain.
var allowedAlgorithms = map[jose.SignatureAlgorithm]bool{
	jose.ES256: true,
	jose.ES384: true,
	jose.RS256: true,
}

// multiplayerAudience is the fixed audience claim expected from
// provider-issued tokens.
const multiplayerAudience = "https://multiplayer.minecraft.net/"

// KeyResolver resolves a signing key for a JWT, trying the token's own
// headers, a static kid map, and a remote JWKS in that order.
type KeyResolver interface {
	Resolve(ctx context.Context, tok *jose.JSONWebSignature, issuer string) (any, error)
}

// ValidatedIdentity is the merged result of validating an identity chain
// plus client-data JWT.
type ValidatedIdentity struct {
	XUID              string
	DisplayName       string
	UUID              string
	IdentityPublicKey string
}

type chainClaims struct {
	ExtraData struct {
		XUID        string `json:"XUID"`
		DisplayName string `json:"displayName"`
		Identity    string `json:"identity"`
	} `json:"extraData"`
	IdentityPublicKey string `json:"identityPublicKey"`
	Exp               int64  `json:"exp"`
	Nbf               int64  `json:"nbf"`
	Iss               string `json:"iss"`
}

type clientDataClaims struct {
	ServerAddress     string `json:"ServerAddress"`
	DisplayName       string `json:"DisplayName"`
	ThirdPartyName    string `json:"ThirdPartyName"`
	IdentityPublicKey string `json:"IdentityPublicKey"`
}

// Options configures Validator behavior.
type Options struct {
	OnlineMode      bool
	AllowLegacyAuth bool
	ClockSkew       time.Duration
	Resolver        KeyResolver
}

func (o Options) withDefaults() Options {
	if o.ClockSkew == 0 {
		o.ClockSkew = 60 * time.Second
	}
	return o
}

// Validator validates identity chains against a resolved signing key.
type Validator struct {
	opts Options
	now  func() time.Time
}

// New constructs a Validator.
func New(opts Options) *Validator {
	return &Validator{opts: opts.withDefaults(), now: time.Now}
}

// Validate validates the identity JWT chain and client-data JWT, returning
// the merged identity or a classified *bedrockerr.Error.
func (v *Validator) Validate(ctx context.Context, chain []string, clientDataJWT string) (ValidatedIdentity, error) {
	if len(chain) == 0 {
		return ValidatedIdentity{}, bedrockerr.WrapAuth(bedrockerr.AuthInvalidToken, "empty identity chain", nil)
	}

	var merged chainClaims
	var lastPublicKey string
	for i, raw := range chain {
		tok, err := jose.ParseSigned(raw)
		if err != nil {
			return ValidatedIdentity{}, bedrockerr.WrapAuth(bedrockerr.AuthInvalidToken, "parse chain link", err)
		}
		if len(tok.Signatures) == 0 {
			return ValidatedIdentity{}, bedrockerr.WrapAuth(bedrockerr.AuthInvalidToken, "token carries no signature", nil)
		}
		alg := tok.Signatures[0].Header.Algorithm
		if !allowedAlgorithms[jose.SignatureAlgorithm(alg)] {
			return ValidatedIdentity{}, bedrockerr.WrapAuth(bedrockerr.AuthUnsupportedAlg, "unsupported signing algorithm "+alg, nil)
		}

		var payload []byte
		if v.opts.OnlineMode {
			key, err := v.resolveKey(ctx, tok, merged.Iss)
			if err != nil {
				return ValidatedIdentity{}, err
			}
			payload, err = tok.Verify(key)
			if err != nil {
				return ValidatedIdentity{}, bedrockerr.WrapAuth(bedrockerr.AuthBadSignature, "chain link signature invalid", err)
			}
		} else {
			if !v.opts.AllowLegacyAuth && i == 0 {
				return ValidatedIdentity{}, bedrockerr.WrapAuth(bedrockerr.AuthInvalidToken, "legacy unsigned auth not allowed", nil)
			}
			payload = tok.UnsafePayloadWithoutVerification()
		}

		var claims chainClaims
		if err := json.Unmarshal(payload, &claims); err != nil {
			return ValidatedIdentity{}, bedrockerr.WrapAuth(bedrockerr.AuthInvalidToken, "decode chain link claims", err)
		}
		if err := v.checkTemporal(claims.Exp, claims.Nbf); err != nil {
			return ValidatedIdentity{}, err
		}
		// Claims from the chain dominate; merge non-empty fields forward.
		if claims.ExtraData.XUID != "" {
			merged.ExtraData.XUID = claims.ExtraData.XUID
		}
		if claims.ExtraData.DisplayName != "" {
			merged.ExtraData.DisplayName = claims.ExtraData.DisplayName
		}
		if claims.ExtraData.Identity != "" {
			merged.ExtraData.Identity = claims.ExtraData.Identity
		}
		if claims.IdentityPublicKey != "" {
			lastPublicKey = claims.IdentityPublicKey
		}
		if claims.Iss != "" {
			merged.Iss = claims.Iss
		}
	}

	if lastPublicKey == "" {
		return ValidatedIdentity{}, bedrockerr.WrapAuth(bedrockerr.AuthMissingIdentityKey, "no identity public key present in chain", nil)
	}

	identity := ValidatedIdentity{
		XUID:              merged.ExtraData.XUID,
		DisplayName:       merged.ExtraData.DisplayName,
		UUID:              merged.ExtraData.Identity,
		IdentityPublicKey: lastPublicKey,
	}

	// Client-data fills gaps the chain left empty; it is never verified
	// against a signing key (the client self-signs it), only parsed.
	if clientDataJWT != "" {
		if tok, err := jose.ParseSigned(clientDataJWT); err == nil {
			payload := tok.UnsafePayloadWithoutVerification()
			var cd clientDataClaims
			if err := json.Unmarshal(payload, &cd); err == nil {
				if identity.DisplayName == "" {
					if cd.DisplayName != "" {
						identity.DisplayName = cd.DisplayName
					} else {
						identity.DisplayName = cd.ThirdPartyName
					}
				}
				if identity.IdentityPublicKey == "" {
					identity.IdentityPublicKey = cd.IdentityPublicKey
				}
			}
		}
	}

	return identity, nil
}

func (v *Validator) checkTemporal(exp, nbf int64) error {
	now := v.now()
	if exp != 0 && now.After(time.Unix(exp, 0).Add(v.opts.ClockSkew)) {
		return bedrockerr.WrapAuth(bedrockerr.AuthTemporalValidation, "token expired", nil)
	}
	if nbf != 0 && now.Before(time.Unix(nbf, 0).Add(-v.opts.ClockSkew)) {
		return bedrockerr.WrapAuth(bedrockerr.AuthTemporalValidation, "token not yet valid", nil)
	}
	return nil
}

func (v *Validator) resolveKey(ctx context.Context, tok *jose.JSONWebSignature, issuer string) (any, error) {
	if v.opts.Resolver == nil {
		return nil, bedrockerr.WrapAuth(bedrockerr.AuthInvalidToken, "online mode requires a key resolver", nil)
	}
	key, err := v.opts.Resolver.Resolve(ctx, tok, issuer)
	if err != nil {
		return nil, bedrockerr.WrapAuth(bedrockerr.AuthBadSignature, "resolve signing key", err)
	}
	return key, nil
}
