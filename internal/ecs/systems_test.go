package ecs

import (
	"context"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/protocol"
	"github.com/unastar/bedrock-core/internal/world/chunk"
)

type fakeProvider struct {
	mu    sync.Mutex
	store map[chunk.Coord]*chunk.Column
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{store: make(map[chunk.Coord]*chunk.Column)}
}

func (p *fakeProvider) LoadColumn(_ context.Context, pos chunk.Coord) (*chunk.Column, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store[pos], nil
}
func (p *fakeProvider) SaveColumn(_ context.Context, pos chunk.Coord, col *chunk.Column) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store[pos] = col
	return nil
}
func (p *fakeProvider) Flush(context.Context) error { return nil }
func (p *fakeProvider) Close() error                { return nil }

type fakeGenerator struct{}

func (fakeGenerator) Generate(_ context.Context, pos chunk.Coord) (*chunk.Column, error) {
	return &chunk.Column{Coord: pos, SubChunks: [][]uint32{{1, 2, 3}}, BiomeGrid: []uint8{0}}, nil
}

type recordingSender struct {
	mu      sync.Mutex
	packets []protocol.Packet
}

func (s *recordingSender) SendPacket(pk protocol.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, pk)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

func newTestLogger() *logging.Logger {
	l := logging.New("test")
	l.SetLevel(logging.LevelError)
	return l
}

func TestStreamingSystemSendsLevelChunkAndPublisherUpdate(t *testing.T) {
	w := New()
	mgr := chunk.NewManager(newFakeProvider(), fakeGenerator{})
	sender := &recordingSender{}
	log := newTestLogger()

	id := w.SpawnPlayer(PlayerMeta{UUID: uuid.New(), Username: "Alex", EntityRuntimeID: 1}, Position{})
	loader := w.Loaders[id]
	loader.Recenter(ChunkCoord{X: 0, Z: 0}, 1)

	sessions := map[EntityID]PacketSender{id: sender}
	StreamingSystem(context.Background(), w, mgr, sessions, log, 100)

	if sender.count() == 0 {
		t.Fatal("expected at least one LevelChunk to be sent")
	}
	foundPublisherUpdate := false
	for _, pk := range sender.packets {
		if _, ok := pk.(*protocol.NetworkChunkPublisherUpdate); ok {
			foundPublisherUpdate = true
		}
	}
	if !foundPublisherUpdate {
		t.Fatal("expected a NetworkChunkPublisherUpdate once streaming caught up")
	}
}

func TestUnloadSystemEvictsAfterGracePeriod(t *testing.T) {
	w := New()
	mgr := chunk.NewManager(newFakeProvider(), fakeGenerator{})
	log := newTestLogger()

	coord := ChunkCoord{X: 5, Z: 5}
	chunkID := w.SpawnChunk(coord, true)
	if _, _, err := mgr.GetOrCreate(context.Background(), chunk.Coord{X: coord.X, Z: coord.Z}); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	mgr.MarkDirty(chunk.Coord{X: coord.X, Z: coord.Z})

	for i := 0; i < DefaultUnloadGraceTicks+1; i++ {
		UnloadSystem(context.Background(), w, mgr, log, DefaultUnloadGraceTicks)
	}

	if _, ok := w.ChunkCoords[chunkID]; ok {
		t.Fatal("expected chunk entity to be despawned after its grace period expired")
	}
	if mgr.Loaded(chunk.Coord{X: coord.X, Z: coord.Z}) {
		t.Fatal("expected chunk to be evicted from the manager")
	}
}

func TestUnloadSystemClearsPendingWhenViewerReturns(t *testing.T) {
	w := New()
	mgr := chunk.NewManager(newFakeProvider(), fakeGenerator{})
	log := newTestLogger()

	coord := ChunkCoord{X: 1, Z: 1}
	chunkID := w.SpawnChunk(coord, false)

	UnloadSystem(context.Background(), w, mgr, log, DefaultUnloadGraceTicks)
	if _, ok := w.PendingUnl[chunkID]; !ok {
		t.Fatal("expected chunk to be marked pending unload")
	}

	w.AddViewer(chunkID, EntityID(999))
	UnloadSystem(context.Background(), w, mgr, log, DefaultUnloadGraceTicks)
	if _, ok := w.PendingUnl[chunkID]; ok {
		t.Fatal("expected pending-unload marker to clear once a viewer returned")
	}
}

func TestTickingSystemMarksUnionOfDiscs(t *testing.T) {
	w := New()
	id := w.SpawnPlayer(PlayerMeta{UUID: uuid.New()}, Position{})
	w.Loaders[id].Recenter(ChunkCoord{X: 0, Z: 0}, 1)

	for _, c := range DiscCoords(ChunkCoord{X: 0, Z: 0}, 1) {
		w.SpawnChunk(c, false)
	}

	TickingSystem(w, 1)

	for _, c := range DiscCoords(ChunkCoord{X: 0, Z: 0}, 1) {
		cid := w.ChunkIndex[c]
		if _, ok := w.Ticking[cid]; !ok {
			t.Fatalf("expected chunk %+v to be marked ticking", c)
		}
	}
}

func TestMovementBroadcastSystemSendsOnlyAboveThreshold(t *testing.T) {
	w := New()
	grid := NewEntityGrid()
	log := newTestLogger()

	mover := w.SpawnPlayer(PlayerMeta{EntityRuntimeID: 1}, Position{Vec: mgl64.Vec3{0, 0, 0}})
	viewer := w.SpawnPlayer(PlayerMeta{EntityRuntimeID: 2}, Position{Vec: mgl64.Vec3{1, 0, 0}})
	grid.Insert(mover, w.Positions[mover].Chunk())
	grid.Insert(viewer, w.Positions[viewer].Chunk())

	viewerSender := &recordingSender{}
	sessions := map[EntityID]PacketSender{viewer: viewerSender}

	// Below threshold: no broadcast.
	w.Positions[mover].Vec = mgl64.Vec3{0.01, 0, 0}
	MovementBroadcastSystem(w, grid, sessions, log)
	if viewerSender.count() != 0 {
		t.Fatalf("expected no broadcast below threshold, got %d", viewerSender.count())
	}

	// Above threshold: broadcast to neighborhood.
	w.Positions[mover].Vec = mgl64.Vec3{5, 0, 0}
	MovementBroadcastSystem(w, grid, sessions, log)
	if viewerSender.count() != 1 {
		t.Fatalf("expected exactly one broadcast above threshold, got %d", viewerSender.count())
	}
}

func TestSpawnDespawnBroadcastSystemNotifiesExistingPlayers(t *testing.T) {
	w := New()
	grid := NewEntityGrid()
	log := newTestLogger()

	existing := w.SpawnPlayer(PlayerMeta{UUID: uuid.New(), Username: "Existing", EntityRuntimeID: 1}, Position{})
	existingSender := &recordingSender{}
	sessions := map[EntityID]PacketSender{existing: existingSender}
	SpawnDespawnBroadcastSystem(w, grid, sessions, log)

	newcomer := w.SpawnPlayer(PlayerMeta{UUID: uuid.New(), Username: "Newcomer", EntityRuntimeID: 2}, Position{})
	newcomerSender := &recordingSender{}
	sessions[newcomer] = newcomerSender
	SpawnDespawnBroadcastSystem(w, grid, sessions, log)

	if existingSender.count() != 1 {
		t.Fatalf("expected the existing player to receive one AddPlayer, got %d", existingSender.count())
	}
	if newcomerSender.count() != 1 {
		t.Fatalf("expected the newcomer to receive the existing player's AddPlayer, got %d", newcomerSender.count())
	}

	w.DespawnPlayer(newcomer)
	delete(sessions, newcomer)
	SpawnDespawnBroadcastSystem(w, grid, sessions, log)
	if existingSender.count() != 2 {
		t.Fatalf("expected the existing player to also receive a RemoveEntity, got %d", existingSender.count())
	}
}
