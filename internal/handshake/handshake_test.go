package handshake

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/unastar/bedrock-core/internal/auth"
	"github.com/unastar/bedrock-core/internal/protocol"
	"github.com/unastar/bedrock-core/internal/session"
	"github.com/unastar/bedrock-core/internal/transport"
)

// pipeTransport is one half of an in-memory, cross-wired transport pair
// used to drive both sides of the handshake without a real socket.
type pipeTransport struct {
	out chan transport.Frame
	in  chan transport.Frame
}

func newPipePair() (a, b *pipeTransport) {
	ab := make(chan transport.Frame, 32)
	ba := make(chan transport.Frame, 32)
	return &pipeTransport{out: ab, in: ba}, &pipeTransport{out: ba, in: ab}
}

func (p *pipeTransport) Send(payload []byte, reliability transport.Reliability, channel uint8) error {
	p.out <- transport.Frame{Payload: append([]byte(nil), payload...), Reliability: reliability, Channel: channel}
	return nil
}
func (p *pipeTransport) Recv(ctx context.Context) (transport.Frame, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}
func (p *pipeTransport) EnableCompression()                           {}
func (p *pipeTransport) EnableEncryption(_, _ transport.CipherStream) {}
func (p *pipeTransport) RemoteAddr() string                           { return "pipe" }
func (p *pipeTransport) Close() error                                 { return nil }
func (p *pipeTransport) LastActivity() time.Time                      { return time.Now() }

func offlineIdentityJWT(t *testing.T, uuid, xuid, name string) string {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: priv}, nil)
	if err != nil {
		t.Fatal(err)
	}
	claims := fmt.Sprintf(`{"extraData":{"XUID":%q,"displayName":%q,"identity":%q},"identityPublicKey":"Zm9v","exp":%d}`,
		xuid, name, uuid, time.Now().Add(time.Hour).Unix())
	jws, err := signer.Sign([]byte(claims))
	if err != nil {
		t.Fatal(err)
	}
	out, err := jws.CompactSerialize()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHandshakeFullChainReachesPlay(t *testing.T) {
	serverTr, clientTr := newPipePair()
	serverSess := session.New(serverTr, session.Config{Framed: true, MaxDecompressedSize: 1 << 20})
	clientSess := session.New(clientTr, session.Config{Framed: true, MaxDecompressedSize: 1 << 20})

	validator := auth.New(auth.Options{OnlineMode: false, AllowLegacyAuth: true})

	hs := New(serverSess, Config{
		ServerProtocol:       800,
		CompressionThreshold: 256,
		EncryptionEnabled:    false,
		Validator:            validator,
		MinChunkRadius:       2,
		MaxChunkRadius:       32,
		BuildStartGame: func(identity auth.ValidatedIdentity) *protocol.StartGame {
			return &protocol.StartGame{EntityRuntimeID: 1, WorldSeed: 42, Dimension: 0}
		},
	})

	type runResult struct {
		identity auth.ValidatedIdentity
		err      error
	}
	resultCh := make(chan runResult, 1)
	go func() {
		identity, err := hs.Run(context.Background())
		resultCh <- runResult{identity, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mustSend := func(pk protocol.Packet) {
		t.Helper()
		if err := clientSess.SendPacket(pk); err != nil {
			t.Fatalf("client send %T: %v", pk, err)
		}
	}
	mustRecv := func(want uint32) protocol.Packet {
		t.Helper()
		pk, err := clientSess.RecvPacket(ctx)
		if err != nil {
			t.Fatalf("client recv: %v", err)
		}
		if pk.ID() != want {
			t.Fatalf("got packet id %d want %d", pk.ID(), want)
		}
		return pk
	}

	mustSend(&protocol.RequestNetworkSettings{ClientProtocol: 800})
	mustRecv(protocol.IDNetworkSettings)

	mustSend(&protocol.Login{
		ClientProtocol: 800,
		IdentityChain:  []string{offlineIdentityJWT(t, "uuid-1", "123456", "Steve")},
	})
	mustRecv(protocol.IDPlayStatus)

	mustRecv(protocol.IDResourcePacksInfo)
	mustRecv(protocol.IDResourcePackStack)
	mustSend(&protocol.ResourcePackClientResponse{Status: protocol.ResourcePackResponseHaveAllPacks})

	mustRecv(protocol.IDStartGame)
	mustSend(&protocol.RequestChunkRadius{Radius: 50})
	radiusPk := mustRecv(protocol.IDChunkRadiusUpdate).(*protocol.ChunkRadiusUpdate)
	if radiusPk.Radius != 32 {
		t.Fatalf("expected clamped radius 32, got %d", radiusPk.Radius)
	}
	mustRecv(protocol.IDBiomeDefinitionList)
	mustRecv(protocol.IDPlayStatus)
	mustRecv(protocol.IDCreativeContent)

	mustSend(&protocol.ServerboundLoadingScreen{Type: 1})
	mustSend(&protocol.ServerboundLoadingScreen{Type: 2})
	mustSend(&protocol.SetLocalPlayerAsInitialized{EntityRuntimeID: 1})

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("handshake failed: %v", res.err)
		}
		if res.identity.UUID != "uuid-1" || res.identity.XUID != "123456" {
			t.Fatalf("unexpected identity: %+v", res.identity)
		}
	case <-ctx.Done():
		t.Fatal("handshake did not complete in time")
	}

	if hs.Phase() != PhasePlay {
		t.Fatalf("expected PhasePlay, got %v", hs.Phase())
	}
	if hs.ChunkRadius() != 32 {
		t.Fatalf("expected chunk radius 32, got %d", hs.ChunkRadius())
	}
}

func TestHandshakeRejectsProtocolMismatch(t *testing.T) {
	serverTr, clientTr := newPipePair()
	serverSess := session.New(serverTr, session.Config{Framed: true, MaxDecompressedSize: 1 << 20})
	clientSess := session.New(clientTr, session.Config{Framed: true, MaxDecompressedSize: 1 << 20})

	hs := New(serverSess, Config{ServerProtocol: 800, Validator: auth.New(auth.Options{})})

	errCh := make(chan error, 1)
	go func() {
		_, err := hs.Run(context.Background())
		errCh <- err
	}()

	if err := clientSess.SendPacket(&protocol.RequestNetworkSettings{ClientProtocol: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := clientSess.RecvPacket(ctx); err != nil {
		t.Fatalf("recv play status: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected protocol mismatch error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not fail in time")
	}
}
