// Package ecs implements the lightweight entity-component world the chunk
// streaming and broadcast systems run against: a single-writer tick-thread
// resource the game loop drives once per tick.
package ecs

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// EntityID identifies one entity within a World. Entities are never reused
// within a running process; ids only grow.
type EntityID uint64

// ChunkCoord identifies one 16x384x16 column by its chunk-grid X/Z.
type ChunkCoord struct {
	X, Z int32
}

// Position is a component holding world-space coordinates.
type Position struct {
	Vec mgl64.Vec3
}

// Chunk returns the ChunkCoord this position falls within.
func (p Position) Chunk() ChunkCoord {
	x, z := int64(p.Vec.X()), int64(p.Vec.Z())
	// The int64 conversion truncates toward zero; step negative fractions
	// down to their floor so e.g. X=-0.5 lands in chunk -1.
	if float64(x) > p.Vec.X() {
		x--
	}
	if float64(z) > p.Vec.Z() {
		z--
	}
	return ChunkCoord{X: int32(floorDiv(x, 16)), Z: int32(floorDiv(z, 16))}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Rotation is a component holding yaw/pitch in degrees.
type Rotation struct {
	Yaw, Pitch float32
}

// PlayerMeta is a component identifying a connected player entity.
type PlayerMeta struct {
	UUID            uuid.UUID
	Username         string
	EntityRuntimeID int64
}

// LastBroadcastPosition remembers the last position/rotation a movement
// broadcast was sent for, so unchanged state isn't retransmitted.
type LastBroadcastPosition struct {
	Vec        mgl64.Vec3
	Yaw, Pitch float32
}

// ChunkLoader is attached to every player entity and tracks its streaming
// state.
type ChunkLoader struct {
	Radius      int32
	Center      ChunkCoord
	initialized bool
	pending     []ChunkCoord
	caughtUpAt  bool
}

// PendingUnload marks a chunk entity whose viewer set just became empty,
// counting down a grace period before it is saved and despawned.
type PendingUnload struct {
	TicksRemaining int
}

// Dirty marks a chunk entity that has been generated or modified since its
// last save.
type Dirty struct{}

// ChunkTicking marks a chunk entity as inside some player's simulation
// distance.
type ChunkTicking struct{}

// ChunkCoordComponent stores the coordinate of a chunk entity (so systems
// can map entity → coord without a second lookup structure).
type ChunkCoordComponent struct {
	Coord ChunkCoord
}

// Viewers is the set of player EntityIDs currently streaming a chunk.
type Viewers map[EntityID]struct{}

// World holds every entity's components, keyed by EntityID. It is a plain
// struct, not a generic archetype store, matching the scale this module
// needs: thousands of entities, not millions.
type World struct {
	nextID EntityID

	Positions   map[EntityID]*Position
	Rotations   map[EntityID]*Rotation
	Players     map[EntityID]*PlayerMeta
	LastBcast   map[EntityID]*LastBroadcastPosition
	Loaders     map[EntityID]*ChunkLoader
	ChunkCoords map[EntityID]*ChunkCoordComponent
	Viewers     map[EntityID]Viewers
	PendingUnl  map[EntityID]*PendingUnload
	Dirty       map[EntityID]struct{}
	Ticking     map[EntityID]struct{}

	ChunkIndex map[ChunkCoord]EntityID

	Events *EventQueue
}

// New constructs an empty World.
func New() *World {
	return &World{
		Positions:   make(map[EntityID]*Position),
		Rotations:   make(map[EntityID]*Rotation),
		Players:     make(map[EntityID]*PlayerMeta),
		LastBcast:   make(map[EntityID]*LastBroadcastPosition),
		Loaders:     make(map[EntityID]*ChunkLoader),
		ChunkCoords: make(map[EntityID]*ChunkCoordComponent),
		Viewers:     make(map[EntityID]Viewers),
		PendingUnl:  make(map[EntityID]*PendingUnload),
		Dirty:       make(map[EntityID]struct{}),
		Ticking:     make(map[EntityID]struct{}),
		ChunkIndex:  make(map[ChunkCoord]EntityID),
		Events:      NewEventQueue(),
	}
}

// SpawnPlayer creates a new player entity with the given identity and
// starting position, and posts a PlayerSpawned event.
func (w *World) SpawnPlayer(meta PlayerMeta, pos Position) EntityID {
	id := w.nextID
	w.nextID++
	w.Players[id] = &meta
	w.Positions[id] = &pos
	w.Rotations[id] = &Rotation{}
	w.LastBcast[id] = &LastBroadcastPosition{Vec: pos.Vec}
	w.Loaders[id] = &ChunkLoader{}
	w.Events.Post(Event{Kind: EventPlayerSpawned, Entity: id})
	return id
}

// DespawnPlayer removes a player entity entirely and posts a
// PlayerDespawned event. Callers must first evict it from every chunk's
// viewer set with RemoveViewer; no system in this package does so.
func (w *World) DespawnPlayer(id EntityID) {
	var metaSnapshot *PlayerMeta
	if meta, ok := w.Players[id]; ok {
		copied := *meta
		metaSnapshot = &copied
	}
	delete(w.Players, id)
	delete(w.Positions, id)
	delete(w.Rotations, id)
	delete(w.LastBcast, id)
	delete(w.Loaders, id)
	w.Events.Post(Event{Kind: EventPlayerDespawned, Entity: id, DespawnMeta: metaSnapshot})
}

// SpawnChunk creates a chunk entity for coord and indexes it.
func (w *World) SpawnChunk(coord ChunkCoord, dirty bool) EntityID {
	id := w.nextID
	w.nextID++
	w.ChunkCoords[id] = &ChunkCoordComponent{Coord: coord}
	w.Viewers[id] = make(Viewers)
	w.ChunkIndex[coord] = id
	if dirty {
		w.Dirty[id] = struct{}{}
	}
	return id
}

// DespawnChunk removes a chunk entity and its index entry.
func (w *World) DespawnChunk(id EntityID) {
	if cc, ok := w.ChunkCoords[id]; ok {
		delete(w.ChunkIndex, cc.Coord)
	}
	delete(w.ChunkCoords, id)
	delete(w.Viewers, id)
	delete(w.PendingUnl, id)
	delete(w.Dirty, id)
	delete(w.Ticking, id)
}

// AddViewer adds playerID to coord's viewer set, creating the chunk's
// viewer bucket if needed (the chunk entity itself may not exist yet — the
// manager creates it lazily).
func (w *World) AddViewer(chunkID EntityID, playerID EntityID) {
	if w.Viewers[chunkID] == nil {
		w.Viewers[chunkID] = make(Viewers)
	}
	w.Viewers[chunkID][playerID] = struct{}{}
	delete(w.PendingUnl, chunkID)
}

// RemoveViewer removes playerID from coord's viewer set.
func (w *World) RemoveViewer(chunkID EntityID, playerID EntityID) {
	if set, ok := w.Viewers[chunkID]; ok {
		delete(set, playerID)
	}
}
