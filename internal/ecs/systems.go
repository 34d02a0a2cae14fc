package ecs

import (
	"context"
	"encoding/binary"

	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/protocol"
	"github.com/unastar/bedrock-core/internal/world/chunk"
)

// Tick-loop tuning constants.
const (
	DefaultChunksPerTick      = 8
	DefaultUnloadGraceTicks   = 200 // 10s at the 20Hz tick rate
	DefaultSimulationDistance = 6
	MovementPositionThreshold = 0.1 * 0.1 // squared blocks
	MovementRotationThreshold = 1.0       // degrees
)

// PacketSender is the per-player collaborator systems push packets through;
// satisfied by *session.Session without importing it directly (avoids an
// ecs → session dependency neither package needs beyond this one method
// each).
type PacketSender interface {
	SendPacket(pk protocol.Packet) error
}

// StreamingSystem pops each player's pending chunk queue, materializes
// chunks via the manager, updates viewer sets, and sends LevelChunk /
// NetworkChunkPublisherUpdate packets.
func StreamingSystem(ctx context.Context, w *World, mgr *chunk.Manager, sessions map[EntityID]PacketSender, log *logging.Logger, perTick int) {
	for id, loader := range w.Loaders {
		sender, ok := sessions[id]
		if !ok {
			continue
		}

		coords := loader.PopPending(perTick)
		for _, coord := range coords {
			pos := chunk.Coord{X: coord.X, Z: coord.Z, Dimension: 0}
			col, generated, err := mgr.GetOrCreate(ctx, pos)
			if err != nil {
				log.Warn("chunk streaming: get-or-create failed", logging.Fields{"x": coord.X, "z": coord.Z, "err": err})
				continue
			}

			chunkID, ok := w.ChunkIndex[coord]
			if !ok {
				chunkID = w.SpawnChunk(coord, generated && col.Generated)
			}
			w.AddViewer(chunkID, id)

			pk := &protocol.LevelChunk{
				X:             coord.X,
				Z:             coord.Z,
				Dimension:     pos.Dimension,
				SubChunkCount: uint32(len(col.SubChunks)),
				Payload:       encodeColumnPayload(col),
			}
			if err := sender.SendPacket(pk); err != nil {
				log.Warn("chunk streaming: send failed", logging.Fields{"x": coord.X, "z": coord.Z, "err": err})
			}
		}

		if loader.JustCaughtUp() {
			center := loader.Center
			pk := &protocol.NetworkChunkPublisherUpdate{
				Position: [3]int32{center.X * 16, 0, center.Z * 16},
				Radius:   uint32(loader.Radius) * 16,
			}
			if err := sender.SendPacket(pk); err != nil {
				log.Warn("chunk streaming: publisher update send failed", logging.Fields{"err": err})
			}
		}
	}
}

// encodeColumnPayload flattens a column's biome grid and subchunk block ids
// into LevelChunk's payload; the actual Bedrock subchunk/NBT wire format is
// out of scope, so this carries the same information in a flat
// layout with little-endian uint32 counts that a matching client-side reader
// could decode.
func encodeColumnPayload(col *chunk.Column) []byte {
	size := 4 + len(col.BiomeGrid) + 4
	for _, sc := range col.SubChunks {
		size += 4 + len(sc)*4
	}
	buf := make([]byte, 0, size)

	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], uint32(len(col.BiomeGrid)))
	buf = append(buf, b4[:]...)
	buf = append(buf, col.BiomeGrid...)

	binary.LittleEndian.PutUint32(b4[:], uint32(len(col.SubChunks)))
	buf = append(buf, b4[:]...)
	for _, sc := range col.SubChunks {
		binary.LittleEndian.PutUint32(b4[:], uint32(len(sc)))
		buf = append(buf, b4[:]...)
		for _, id := range sc {
			var idBuf [4]byte
			binary.LittleEndian.PutUint32(idBuf[:], id)
			buf = append(buf, idBuf[:]...)
		}
	}
	return buf
}

// UnloadSystem tags viewerless chunks with a grace-period countdown and, on
// expiry, saves (if dirty) and despawns them.
func UnloadSystem(ctx context.Context, w *World, mgr *chunk.Manager, log *logging.Logger, graceTicks int) {
	for chunkID, viewers := range w.Viewers {
		_, pending := w.PendingUnl[chunkID]
		switch {
		case len(viewers) == 0 && !pending:
			w.PendingUnl[chunkID] = &PendingUnload{TicksRemaining: graceTicks}
		case len(viewers) > 0 && pending:
			delete(w.PendingUnl, chunkID)
		}
	}

	for chunkID, unload := range w.PendingUnl {
		unload.TicksRemaining--
		if unload.TicksRemaining > 0 {
			continue
		}

		cc, ok := w.ChunkCoords[chunkID]
		if !ok {
			w.DespawnChunk(chunkID)
			continue
		}
		pos := chunk.Coord{X: cc.Coord.X, Z: cc.Coord.Z, Dimension: 0}
		if err := mgr.Evict(ctx, pos); err != nil {
			log.Warn("chunk unload: evict failed, will retry next unload", logging.Fields{"x": pos.X, "z": pos.Z, "err": err})
			unload.TicksRemaining = graceTicks
			continue
		}
		w.DespawnChunk(chunkID)
	}
}

// TickingSystem maintains the ChunkTicking marker as exactly the union of
// simulation-distance discs around every player, recomputed as a set rather
// than an O(chunks*players) scan.
func TickingSystem(w *World, simulationDistance int32) {
	union := make(map[ChunkCoord]struct{})
	for _, loader := range w.Loaders {
		for _, c := range DiscCoords(loader.Center, simulationDistance) {
			union[c] = struct{}{}
		}
	}

	for coord, id := range w.ChunkIndex {
		_, shouldTick := union[coord]
		_, ticking := w.Ticking[id]
		switch {
		case shouldTick && !ticking:
			w.Ticking[id] = struct{}{}
		case !shouldTick && ticking:
			delete(w.Ticking, id)
		}
	}
}

// MovementBroadcastSystem scans every player's current position/rotation
// against its LastBroadcastPosition and emits MovePlayer to the 3x3-chunk
// neighborhood when the change crosses the movement-broadcast thresholds.
func MovementBroadcastSystem(w *World, grid *EntityGrid, sessions map[EntityID]PacketSender, log *logging.Logger) {
	for id, pos := range w.Positions {
		last, ok := w.LastBcast[id]
		if !ok {
			continue
		}
		rot := w.Rotations[id]
		meta := w.Players[id]
		if rot == nil || meta == nil {
			continue
		}

		delta := pos.Vec.Sub(last.Vec)
		distSq := delta.Dot(delta)
		rotDelta := angleDelta(rot.Yaw, last.Yaw)
		pitchDelta := angleDelta(rot.Pitch, last.Pitch)

		if distSq <= MovementPositionThreshold && rotDelta < MovementRotationThreshold && pitchDelta < MovementRotationThreshold {
			continue
		}

		pk := &protocol.MovePlayer{
			EntityRuntimeID: meta.EntityRuntimeID,
			Position:        [3]float32{float32(pos.Vec.X()), float32(pos.Vec.Y()), float32(pos.Vec.Z())},
			Yaw:             rot.Yaw,
			Pitch:           rot.Pitch,
		}
		for _, viewer := range grid.Neighborhood(pos.Chunk(), id) {
			sender, ok := sessions[viewer]
			if !ok {
				continue
			}
			if err := sender.SendPacket(pk); err != nil {
				log.Warn("movement broadcast: send failed", logging.Fields{"viewer": viewer, "err": err})
			}
		}

		last.Vec = pos.Vec
		last.Yaw = rot.Yaw
		last.Pitch = rot.Pitch
	}
}

func angleDelta(a, b float32) float32 {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d
}

// SpawnDespawnBroadcastSystem drains the tick's event queue in post order
// and fans spawn/despawn notifications out to every other player, and every
// other player's AddPlayer back to a freshly spawned one.
func SpawnDespawnBroadcastSystem(w *World, grid *EntityGrid, sessions map[EntityID]PacketSender, log *logging.Logger) {
	for _, ev := range w.Events.Drain() {
		switch ev.Kind {
		case EventPlayerSpawned:
			broadcastSpawn(w, grid, sessions, log, ev.Entity)
		case EventPlayerDespawned:
			broadcastDespawn(w, grid, sessions, log, ev.Entity, ev.DespawnMeta)
		}
	}
}

func broadcastSpawn(w *World, grid *EntityGrid, sessions map[EntityID]PacketSender, log *logging.Logger, id EntityID) {
	meta := w.Players[id]
	pos := w.Positions[id]
	if meta == nil || pos == nil {
		return
	}
	grid.Insert(id, pos.Chunk())

	newPk := &protocol.AddPlayer{
		UUID:            meta.UUID.String(),
		Username:        meta.Username,
		EntityRuntimeID: meta.EntityRuntimeID,
		Position:        [3]float32{float32(pos.Vec.X()), float32(pos.Vec.Y()), float32(pos.Vec.Z())},
	}
	for _, other := range grid.All(id) {
		if sender, ok := sessions[other]; ok {
			if err := sender.SendPacket(newPk); err != nil {
				log.Warn("spawn broadcast: send failed", logging.Fields{"to": other, "err": err})
			}
		}
	}

	newSender, ok := sessions[id]
	if !ok {
		return
	}
	for _, other := range grid.All(id) {
		otherMeta := w.Players[other]
		otherPos := w.Positions[other]
		if otherMeta == nil || otherPos == nil {
			continue
		}
		pk := &protocol.AddPlayer{
			UUID:            otherMeta.UUID.String(),
			Username:        otherMeta.Username,
			EntityRuntimeID: otherMeta.EntityRuntimeID,
			Position:        [3]float32{float32(otherPos.Vec.X()), float32(otherPos.Vec.Y()), float32(otherPos.Vec.Z())},
		}
		if err := newSender.SendPacket(pk); err != nil {
			log.Warn("spawn broadcast: send to new player failed", logging.Fields{"err": err})
		}
	}
}

func broadcastDespawn(w *World, grid *EntityGrid, sessions map[EntityID]PacketSender, log *logging.Logger, id EntityID, meta *PlayerMeta) {
	if meta == nil {
		grid.Remove(id)
		return
	}
	pk := &protocol.RemoveEntity{EntityRuntimeID: meta.EntityRuntimeID}
	for _, other := range grid.All(id) {
		if sender, ok := sessions[other]; ok {
			if err := sender.SendPacket(pk); err != nil {
				log.Warn("despawn broadcast: send failed", logging.Fields{"to": other, "err": err})
			}
		}
	}
	grid.Remove(id)
}
