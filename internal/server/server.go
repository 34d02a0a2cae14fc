// Package server wires the handshake, ECS world, chunk manager, and
// storage providers into the 20Hz tick loop , the way
// samp-server-go's source/server.Server owns the UDP socket and drives an
// update ticker, generalized from one fixed-port game to Bedrock's
// session-per-player, chunk-streamed world.
package server

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/unastar/bedrock-core/internal/auth"
	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/ecs"
	"github.com/unastar/bedrock-core/internal/handshake"
	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/protocol"
	"github.com/unastar/bedrock-core/internal/raknet"
	"github.com/unastar/bedrock-core/internal/session"
	"github.com/unastar/bedrock-core/internal/storage/column"
	"github.com/unastar/bedrock-core/internal/storage/kv"
	"github.com/unastar/bedrock-core/internal/world/chunk"
	"github.com/unastar/bedrock-core/internal/world/generator"
)

// Config bundles everything a Server needs to accept connections, run the
// login handshake, and drive the tick loop.
type Config struct {
	ListenAddr string

	TickInterval       time.Duration // default 50ms (20Hz)
	OutboundCapacity   int           // default 1024
	ChunksPerTick      int
	UnloadGraceTicks   int
	SimulationDistance int32

	WorldSeed     int64
	Dimension     int32
	SpawnPosition mgl64.Vec3
	Palette       generator.Palette

	ServerProtocol        int32
	CompressionThreshold  uint16
	CompressionLevel      int
	EncryptionEnabled     bool
	ServerKey             *ecdsa.PrivateKey
	Validator             *auth.Validator
	MinChunkRadius        int32
	MaxChunkRadius        int32
	ResourcePacksRequired bool
	BuildBiomes           func() *protocol.BiomeDefinitionList

	RakNet     raknet.ListenerConfig
	StorageDir string

	Log *logging.Logger
}

func (c Config) withDefaults() Config {
	if c.TickInterval == 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.OutboundCapacity == 0 {
		c.OutboundCapacity = 1024
	}
	if c.ChunksPerTick == 0 {
		c.ChunksPerTick = ecs.DefaultChunksPerTick
	}
	if c.UnloadGraceTicks == 0 {
		c.UnloadGraceTicks = ecs.DefaultUnloadGraceTicks
	}
	if c.SimulationDistance == 0 {
		c.SimulationDistance = ecs.DefaultSimulationDistance
	}
	if c.Log == nil {
		c.Log = logging.New("server")
	}
	return c
}

// playerConn bundles everything the tick loop needs for one connected
// player: its entity id, its session, and its bounded outbound sender.
type playerConn struct {
	entity ecs.EntityID
	sess   *session.Session
	out    *connSender
	uuid   uuid.UUID
}

// Server owns the world, the chunk manager, both storage providers, and
// every connected player's session.
type Server struct {
	cfg Config

	world     *ecs.World
	grid      *ecs.EntityGrid
	chunkMgr  *chunk.Manager
	playerDB  *kv.Store
	columnDB  *column.Provider
	raknet    *raknet.Listener

	connsMu sync.RWMutex
	conns   map[ecs.EntityID]*playerConn
	senders map[ecs.EntityID]ecs.PacketSender

	stopCh chan struct{}
}

// New constructs a Server, opening its storage providers and binding its
// RakNet listener. Call Run to start accepting connections and ticking.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()

	columnDB, err := column.Open(cfg.StorageDir+"/chunks", column.Config{}, cfg.Log)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "open chunk storage", err)
	}
	playerDB, err := kv.Open(cfg.StorageDir+"/players", kv.Config{}, cfg.Log)
	if err != nil {
		columnDB.Close()
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "open player storage", err)
	}

	gen := generator.NewWorldGenerator(cfg.WorldSeed, cfg.Palette)
	chunkMgr := chunk.NewManager(columnDB, gen)

	raknetListener, err := raknet.Listen(cfg.ListenAddr, cfg.RakNet, cfg.Log)
	if err != nil {
		playerDB.Close()
		columnDB.Close()
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		world:    ecs.New(),
		grid:     ecs.NewEntityGrid(),
		chunkMgr: chunkMgr,
		playerDB: playerDB,
		columnDB: columnDB,
		raknet:   raknetListener,
		conns:    make(map[ecs.EntityID]*playerConn),
		senders:  make(map[ecs.EntityID]ecs.PacketSender),
		stopCh:   make(chan struct{}),
	}, nil
}

// Run accepts connections and drives the tick loop until ctx is cancelled,
// then saves every dirty chunk and every connected player before returning.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.acceptLoop(ctx)
	}()

	s.tickLoop(ctx)

	close(s.stopCh)
	wg.Wait()
	return s.shutdown(context.Background())
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		sess, err := s.raknet.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.cfg.Log.Warn("accept failed", logging.Fields{"err": err})
			continue
		}
		go s.handleConnection(ctx, sess)
	}
}

func (s *Server) handleConnection(ctx context.Context, transportSess *raknet.Session) {
	sess := session.New(transportSess, session.Config{
		CompressionThreshold: int(s.cfg.CompressionThreshold),
		CompressionLevel:     s.cfg.CompressionLevel,
		MaxDecompressedSize:  8 << 20,
	})

	hs := handshake.New(sess, handshake.Config{
		ServerProtocol:        s.cfg.ServerProtocol,
		CompressionThreshold:  s.cfg.CompressionThreshold,
		CompressionLevel:      s.cfg.CompressionLevel,
		EncryptionEnabled:     s.cfg.EncryptionEnabled,
		ServerKey:             s.cfg.ServerKey,
		Validator:             s.cfg.Validator,
		MinChunkRadius:        s.cfg.MinChunkRadius,
		MaxChunkRadius:        s.cfg.MaxChunkRadius,
		ResourcePacksRequired: s.cfg.ResourcePacksRequired,
		BuildBiomes:           s.cfg.BuildBiomes,
		BuildStartGame:        s.buildStartGame,
		Log:                   s.cfg.Log,
	})

	identity, err := hs.Run(ctx)
	if err != nil {
		s.cfg.Log.Warn("handshake failed", logging.Fields{"peer": transportSess.RemoteAddr(), "err": err})
		transportSess.Close()
		return
	}

	s.spawnPlayer(ctx, sess, identity, hs.ChunkRadius())
}

func (s *Server) buildStartGame(identity auth.ValidatedIdentity) *protocol.StartGame {
	pos := s.cfg.SpawnPosition
	return &protocol.StartGame{
		PlayerPosition: [3]float32{float32(pos.X()), float32(pos.Y()), float32(pos.Z())},
		WorldSeed:      s.cfg.WorldSeed,
		Dimension:      s.cfg.Dimension,
	}
}

func (s *Server) spawnPlayer(ctx context.Context, sess *session.Session, identity auth.ValidatedIdentity, radius int32) {
	playerUUID, err := uuid.Parse(identity.UUID)
	if err != nil {
		playerUUID = uuid.New()
	}

	spawnPos := s.cfg.SpawnPosition
	if rec, err := s.playerDB.LoadPlayer(ctx, playerUUID); err == nil && rec != nil {
		spawnPos = rec.Position
	}

	out := newConnSender(sess, s.cfg.OutboundCapacity, s.cfg.Log)

	s.connsMu.Lock()
	id := s.world.SpawnPlayer(ecs.PlayerMeta{
		UUID:            playerUUID,
		Username:        identity.DisplayName,
		EntityRuntimeID: int64(uint64(id32())),
	}, ecs.Position{Vec: spawnPos})
	s.world.Loaders[id].Recenter(ecs.ChunkCoord{
		X: int32(spawnPos.X()) >> 4,
		Z: int32(spawnPos.Z()) >> 4,
	}, radius)
	s.conns[id] = &playerConn{entity: id, sess: sess, out: out, uuid: playerUUID}
	s.senders[id] = out
	s.connsMu.Unlock()

	s.cfg.Log.Info("player joined", logging.Fields{"name": identity.DisplayName, "uuid": playerUUID})

	go s.recvLoop(ctx, id, sess, out)
}

// id32 stands in for a monotonically increasing entity runtime id source;
// the world's own EntityID already uniquely identifies the player, so the
// protocol-level runtime id only needs to be stable and non-zero per
// connection lifetime.
var runtimeIDCounter uint32

func id32() uint32 {
	runtimeIDCounter++
	return runtimeIDCounter
}

// recvLoop drains one player's inbound batches. The ECS world is
// single-writer (the tick thread), so this goroutine never touches it
// directly; it only keeps the transport's reliability engine progressing
// and disconnects the player on transport error.
func (s *Server) recvLoop(ctx context.Context, id ecs.EntityID, sess *session.Session, out *connSender) {
	defer s.disconnect(ctx, id, out)
	for {
		if _, err := sess.RecvBatch(ctx); err != nil {
			return
		}
	}
}

func (s *Server) disconnect(ctx context.Context, id ecs.EntityID, out *connSender) {
	s.connsMu.Lock()
	conn, ok := s.conns[id]
	delete(s.conns, id)
	delete(s.senders, id)
	s.connsMu.Unlock()
	if !ok {
		return
	}

	if pos, ok := s.world.Positions[id]; ok {
		rec := kv.Record{UUID: conn.uuid, Position: pos.Vec}
		if rot, ok := s.world.Rotations[id]; ok {
			rec.Yaw, rec.Pitch = rot.Yaw, rot.Pitch
		}
		if err := s.playerDB.SavePlayer(ctx, rec); err != nil {
			s.cfg.Log.Warn("failed to save player on disconnect", logging.Fields{"uuid": conn.uuid, "err": err})
		}
	}

	s.world.DespawnPlayer(id)
	s.grid.Remove(id)
	out.Close()
	conn.sess.Transport.Close()
}

// tickLoop runs the fixed-rate tick that drives every ECS system in order.
func (s *Server) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) tick(ctx context.Context) {
	s.connsMu.RLock()
	sessions := make(map[ecs.EntityID]ecs.PacketSender, len(s.senders))
	for id, sender := range s.senders {
		sessions[id] = sender
	}
	s.connsMu.RUnlock()

	ecs.StreamingSystem(ctx, s.world, s.chunkMgr, sessions, s.cfg.Log, s.cfg.ChunksPerTick)
	ecs.UnloadSystem(ctx, s.world, s.chunkMgr, s.cfg.Log, s.cfg.UnloadGraceTicks)
	ecs.TickingSystem(s.world, s.cfg.SimulationDistance)
	ecs.MovementBroadcastSystem(s.world, s.grid, sessions, s.cfg.Log)
	ecs.SpawnDespawnBroadcastSystem(s.world, s.grid, sessions, s.cfg.Log)
}

func (s *Server) shutdown(ctx context.Context) error {
	s.cfg.Log.Info("shutting down: saving players and dirty chunks", nil)

	s.connsMu.Lock()
	conns := make([]*playerConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		if pos, ok := s.world.Positions[c.entity]; ok {
			rec := kv.Record{UUID: c.uuid, Position: pos.Vec}
			if rot, ok := s.world.Rotations[c.entity]; ok {
				rec.Yaw, rec.Pitch = rot.Yaw, rot.Pitch
			}
			if err := s.playerDB.SavePlayer(ctx, rec); err != nil {
				s.cfg.Log.Warn("shutdown: failed to save player", logging.Fields{"uuid": c.uuid, "err": err})
			}
		}
		c.out.Close()
		c.sess.Transport.Close()
	}
	if err := s.playerDB.Flush(ctx); err != nil {
		s.cfg.Log.Warn("shutdown: failed to flush player storage", logging.Fields{"err": err})
	}

	if err := s.chunkMgr.SaveAllDirty(ctx); err != nil {
		s.cfg.Log.Warn("shutdown: failed to save dirty chunks", logging.Fields{"err": err})
	}

	if err := s.raknet.Close(); err != nil {
		s.cfg.Log.Warn("shutdown: failed to close listener", logging.Fields{"err": err})
	}
	if err := s.playerDB.Close(); err != nil {
		return err
	}
	return s.chunkMgr.Close()
}
