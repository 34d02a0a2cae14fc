// Package handshake implements the server-side login typestate chain:
// Handshake → Login → SecurePending → ResourcePacks → StartGame → Play.
// Each phase consumes the previous phase's state and advances; an
// unexpected packet at any non-Play phase is a fatal protocol error.
package handshake

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"time"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/unastar/bedrock-core/internal/auth"
	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/crypto"
	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/protocol"
	"github.com/unastar/bedrock-core/internal/session"
)

// Phase names the typestate chain's states, in order.
type Phase int

const (
	PhaseHandshake Phase = iota
	PhaseLogin
	PhaseSecurePending
	PhaseResourcePacks
	PhaseStartGame
	PhasePlay
)

func (p Phase) String() string {
	switch p {
	case PhaseHandshake:
		return "handshake"
	case PhaseLogin:
		return "login"
	case PhaseSecurePending:
		return "secure-pending"
	case PhaseResourcePacks:
		return "resource-packs"
	case PhaseStartGame:
		return "start-game"
	case PhasePlay:
		return "play"
	default:
		return "unknown"
	}
}

// loadingScreenTimeout bounds how long the StartGame phase waits for each
// loading-screen handshake type before declaring the session dead.
const loadingScreenTimeout = 60 * time.Second

// Config parameterizes one run of the handshake chain.
type Config struct {
	ServerProtocol        int32
	CompressionThreshold  uint16
	CompressionLevel      int
	EncryptionEnabled     bool
	ServerKey             *ecdsa.PrivateKey // P-384, used both to sign and for ECDH
	Validator             *auth.Validator
	MinChunkRadius        int32
	MaxChunkRadius        int32
	ResourcePacksRequired bool
	BuildStartGame        func(identity auth.ValidatedIdentity) *protocol.StartGame
	BuildBiomes           func() *protocol.BiomeDefinitionList
	Log                   *logging.Logger
}

func (c Config) withDefaults() Config {
	if c.MinChunkRadius == 0 {
		c.MinChunkRadius = 2
	}
	if c.MaxChunkRadius == 0 {
		c.MaxChunkRadius = 32
	}
	if c.CompressionLevel == 0 {
		c.CompressionLevel = 7
	}
	if c.Log == nil {
		c.Log = logging.New("handshake")
	}
	return c
}

// Handshake drives one session through the login typestate chain.
type Handshake struct {
	sess  *session.Session
	cfg   Config
	phase Phase

	identity    auth.ValidatedIdentity
	chunkRadius int32
}

// New constructs a Handshake bound to sess, starting at PhaseHandshake.
func New(sess *session.Session, cfg Config) *Handshake {
	return &Handshake{sess: sess, cfg: cfg.withDefaults(), phase: PhaseHandshake}
}

// Phase reports the current typestate.
func (h *Handshake) Phase() Phase { return h.phase }

// Run drives the chain to completion, returning the validated identity once
// PhasePlay is reached, or a fatal *bedrockerr.Error.
func (h *Handshake) Run(ctx context.Context) (auth.ValidatedIdentity, error) {
	steps := []func(context.Context) error{
		h.runHandshake,
		h.runLogin,
		h.runSecurePending,
		h.runResourcePacks,
		h.runStartGame,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return auth.ValidatedIdentity{}, err
		}
	}
	h.phase = PhasePlay
	return h.identity, nil
}

func (h *Handshake) expect(ctx context.Context, want uint32) (protocol.Packet, error) {
	pk, err := h.sess.RecvPacket(ctx)
	if err != nil {
		return nil, err
	}
	if pk.ID() != want {
		return nil, bedrockerr.New(bedrockerr.ProtocolViolation,
			"unexpected packet id at phase "+h.phase.String())
	}
	return pk, nil
}

// runHandshake negotiates protocol version and compression.
func (h *Handshake) runHandshake(ctx context.Context) error {
	pk, err := h.expect(ctx, protocol.IDRequestNetworkSettings)
	if err != nil {
		return err
	}
	req := pk.(*protocol.RequestNetworkSettings)

	switch {
	case req.ClientProtocol < h.cfg.ServerProtocol:
		_ = h.sess.SendPacket(&protocol.PlayStatus{Status: protocol.PlayStatusFailedClient})
		return bedrockerr.New(bedrockerr.ProtocolViolation, "client protocol older than server")
	case req.ClientProtocol > h.cfg.ServerProtocol:
		_ = h.sess.SendPacket(&protocol.PlayStatus{Status: protocol.PlayStatusFailedSpawn})
		return bedrockerr.New(bedrockerr.ProtocolViolation, "client protocol newer than server")
	}

	if err := h.sess.SendPacket(&protocol.NetworkSettings{
		CompressionThreshold: h.cfg.CompressionThreshold,
		CompressionAlgorithm: 0,
	}); err != nil {
		return err
	}
	h.sess.EnableCompression(int(h.cfg.CompressionThreshold), h.cfg.CompressionLevel)
	h.phase = PhaseLogin
	h.cfg.Log.Debug("compression negotiated", logging.Fields{"threshold": h.cfg.CompressionThreshold})
	return nil
}

// runLogin validates the identity chain.
func (h *Handshake) runLogin(ctx context.Context) error {
	pk, err := h.expect(ctx, protocol.IDLogin)
	if err != nil {
		return err
	}
	login := pk.(*protocol.Login)

	identity, err := h.cfg.Validator.Validate(ctx, login.IdentityChain, login.ClientDataJWT)
	if err != nil {
		return err
	}
	h.identity = identity
	h.phase = PhaseSecurePending
	h.cfg.Log.Info("identity validated", logging.Fields{"xuid": identity.XUID, "name": identity.DisplayName})
	return nil
}

// runSecurePending performs the ECDH key exchange and installs the stream
// cipher, or skips straight to LoginSuccess if encryption is disabled.
func (h *Handshake) runSecurePending(ctx context.Context) error {
	if !h.cfg.EncryptionEnabled {
		h.phase = PhaseResourcePacks
		return h.sess.SendPacket(&protocol.PlayStatus{Status: protocol.PlayStatusLoginSuccess})
	}

	clientDER, err := base64.StdEncoding.DecodeString(h.identity.IdentityPublicKey)
	if err != nil {
		return bedrockerr.Wrap(bedrockerr.AuthFailure, "decode client identity public key", err)
	}
	clientPubAny, err := x509.ParsePKIXPublicKey(clientDER)
	if err != nil {
		return bedrockerr.Wrap(bedrockerr.AuthFailure, "parse client identity public key", err)
	}
	clientECDSA, ok := clientPubAny.(*ecdsa.PublicKey)
	if !ok || clientECDSA.Curve != elliptic.P384() {
		return bedrockerr.New(bedrockerr.AuthFailure, "client identity key is not P-384")
	}
	clientECDH, err := clientECDSA.ECDH()
	if err != nil {
		return bedrockerr.Wrap(bedrockerr.CryptoFailure, "convert client key to ECDH", err)
	}
	serverECDH, err := h.cfg.ServerKey.ECDH()
	if err != nil {
		return bedrockerr.Wrap(bedrockerr.CryptoFailure, "convert server key to ECDH", err)
	}
	shared, err := serverECDH.ECDH(clientECDH)
	if err != nil {
		return bedrockerr.Wrap(bedrockerr.CryptoFailure, "compute ECDH shared secret", err)
	}

	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return bedrockerr.Wrap(bedrockerr.CryptoFailure, "generate handshake salt", err)
	}
	key := crypto.DeriveKey(salt[:], shared)
	iv := crypto.DerivedIV(key)

	sendDir, err := crypto.NewDirection(key, iv)
	if err != nil {
		return err
	}
	recvDir, err := crypto.NewDirection(key, iv)
	if err != nil {
		return err
	}

	jwt, err := h.signHandshakeJWT(salt[:])
	if err != nil {
		return err
	}
	if err := h.sess.SendPacket(&protocol.ServerToClientHandshake{JWT: jwt}); err != nil {
		return err
	}
	h.sess.EnableEncryption(sendDir, recvDir)

	if _, err := h.expect(ctx, protocol.IDClientToServerHandshake); err != nil {
		return err
	}
	if err := h.sess.SendPacket(&protocol.PlayStatus{Status: protocol.PlayStatusLoginSuccess}); err != nil {
		return err
	}
	h.phase = PhaseResourcePacks
	return nil
}

type handshakeSaltClaims struct {
	Salt string `json:"salt"`
}

// signHandshakeJWT builds the ES384 JWT carrying the handshake salt, with
// the server's public key attached as the x5u header.
func (h *Handshake) signHandshakeJWT(salt []byte) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&h.cfg.ServerKey.PublicKey)
	if err != nil {
		return "", bedrockerr.Wrap(bedrockerr.CryptoFailure, "marshal server public key", err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES384, Key: h.cfg.ServerKey}, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]any{
			"x5u": base64.StdEncoding.EncodeToString(der),
		},
	})
	if err != nil {
		return "", bedrockerr.Wrap(bedrockerr.CryptoFailure, "create handshake JWT signer", err)
	}
	claims := handshakeSaltClaims{Salt: base64.RawURLEncoding.EncodeToString(salt)}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", bedrockerr.Wrap(bedrockerr.CryptoFailure, "marshal handshake claims", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", bedrockerr.Wrap(bedrockerr.CryptoFailure, "sign handshake JWT", err)
	}
	out, err := jws.CompactSerialize()
	if err != nil {
		return "", bedrockerr.Wrap(bedrockerr.CryptoFailure, "serialize handshake JWT", err)
	}
	return out, nil
}

// runResourcePacks sends empty pack info/stack and loops on the client's
// response until it accepts or refuses.
func (h *Handshake) runResourcePacks(ctx context.Context) error {
	if err := h.sess.SendPacket(&protocol.ResourcePacksInfo{MustAccept: h.cfg.ResourcePacksRequired}); err != nil {
		return err
	}
	if err := h.sess.SendPacket(&protocol.ResourcePackStack{}); err != nil {
		return err
	}
	for {
		pk, err := h.expect(ctx, protocol.IDResourcePackClientResponse)
		if err != nil {
			return err
		}
		resp := pk.(*protocol.ResourcePackClientResponse)
		switch resp.Status {
		case protocol.ResourcePackResponseHaveAllPacks:
			h.phase = PhaseStartGame
			return nil
		case protocol.ResourcePackResponseRefused:
			if h.cfg.ResourcePacksRequired {
				return bedrockerr.New(bedrockerr.ProtocolViolation, "client refused required resource packs")
			}
			h.phase = PhaseStartGame
			return nil
		default:
			// SendPacks/Completed: client is still negotiating; keep looping.
		}
	}
}

// runStartGame sends the world template, negotiates chunk radius, and waits
// for the client to fully initialize.
func (h *Handshake) runStartGame(ctx context.Context) error {
	sg := h.cfg.BuildStartGame(h.identity)
	if err := h.sess.SendPacket(sg); err != nil {
		return err
	}

	pk, err := h.expect(ctx, protocol.IDRequestChunkRadius)
	if err != nil {
		return err
	}
	requested := pk.(*protocol.RequestChunkRadius).Radius
	h.chunkRadius = clamp32(requested, h.cfg.MinChunkRadius, h.cfg.MaxChunkRadius)
	if err := h.sess.SendPacket(&protocol.ChunkRadiusUpdate{Radius: h.chunkRadius}); err != nil {
		return err
	}

	biomes := &protocol.BiomeDefinitionList{}
	if h.cfg.BuildBiomes != nil {
		biomes = h.cfg.BuildBiomes()
	}
	if err := h.sess.SendPacket(biomes); err != nil {
		return err
	}
	if err := h.sess.SendPacket(&protocol.PlayStatus{Status: protocol.PlayStatusPlayerSpawn}); err != nil {
		return err
	}
	if err := h.sess.SendPacket(&protocol.CreativeContent{}); err != nil {
		return err
	}

	for _, wantType := range []int32{1, 2} {
		lctx, cancel := context.WithTimeout(ctx, loadingScreenTimeout)
		pk, err := h.expect(lctx, protocol.IDServerboundLoadingScreenPacket)
		cancel()
		if err != nil {
			return err
		}
		if pk.(*protocol.ServerboundLoadingScreen).Type != wantType {
			return bedrockerr.New(bedrockerr.ProtocolViolation, "loading screen type out of sequence")
		}
	}

	if _, err := h.expect(ctx, protocol.IDSetLocalPlayerAsInitialized); err != nil {
		return err
	}
	h.phase = PhasePlay
	return nil
}

// ChunkRadius returns the clamped radius negotiated during StartGame.
func (h *Handshake) ChunkRadius() int32 { return h.chunkRadius }

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
