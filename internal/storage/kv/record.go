// Package kv implements the player-record store: one small durable blob per
// player UUID, append-only on disk with an LRU front cache, mirroring
// internal/storage/column's design at player scale instead of chunk scale.
package kv

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
)

// Record is the durable subset of a player's session state: enough to
// reseat them in the world on reconnect without replaying the whole login
// handshake.
type Record struct {
	UUID      uuid.UUID
	Username  string
	Dimension int32
	Position  mgl64.Vec3
	Yaw       float32
	Pitch     float32
}

func encodeRecord(r Record) []byte {
	nameBytes := []byte(r.Username)
	buf := make([]byte, 0, 16+4+2+len(nameBytes)+8*3+4+4)

	buf = append(buf, r.UUID[:]...)

	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], uint32(r.Dimension))
	buf = append(buf, b4[:]...)

	var b2 [2]byte
	binary.LittleEndian.PutUint16(b2[:], uint16(len(nameBytes)))
	buf = append(buf, b2[:]...)
	buf = append(buf, nameBytes...)

	for _, v := range []float64{r.Position.X(), r.Position.Y(), r.Position.Z()} {
		var b8 [8]byte
		binary.LittleEndian.PutUint64(b8[:], math.Float64bits(v))
		buf = append(buf, b8[:]...)
	}

	binary.LittleEndian.PutUint32(b4[:], math.Float32bits(r.Yaw))
	buf = append(buf, b4[:]...)
	binary.LittleEndian.PutUint32(b4[:], math.Float32bits(r.Pitch))
	buf = append(buf, b4[:]...)

	return buf
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if len(data) < 16+4+2 {
		return r, bedrockerr.New(bedrockerr.PersistenceError, "player record too short")
	}
	copy(r.UUID[:], data[0:16])
	cursor := 16

	r.Dimension = int32(binary.LittleEndian.Uint32(data[cursor:]))
	cursor += 4

	nameLen := int(binary.LittleEndian.Uint16(data[cursor:]))
	cursor += 2
	if cursor+nameLen+8*3+4+4 > len(data) {
		return r, bedrockerr.New(bedrockerr.PersistenceError, "player record: truncated body")
	}
	r.Username = string(data[cursor : cursor+nameLen])
	cursor += nameLen

	var coords [3]float64
	for i := range coords {
		coords[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[cursor:]))
		cursor += 8
	}
	r.Position = mgl64.Vec3{coords[0], coords[1], coords[2]}

	r.Yaw = math.Float32frombits(binary.LittleEndian.Uint32(data[cursor:]))
	cursor += 4
	r.Pitch = math.Float32frombits(binary.LittleEndian.Uint32(data[cursor:]))
	cursor += 4

	return r, nil
}
