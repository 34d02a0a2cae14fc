package column

import (
	"encoding/binary"
	"fmt"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
)

// encodePayload flattens a column's subchunks and biome grid into the
// uncompressed byte layout stored on disk: biomeLen(4) ∥ biomes ∥
// subchunkCount(1) ∥ [blockCount(4) ∥ blockIDs]*.
func encodePayload(biomeGrid []uint8, subChunks [][]uint32) []byte {
	size := 4 + len(biomeGrid) + 1
	for _, sc := range subChunks {
		size += 4 + len(sc)*4
	}
	buf := make([]byte, 0, size)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(biomeGrid)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, biomeGrid...)

	buf = append(buf, byte(len(subChunks)))
	for _, sc := range subChunks {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(sc)))
		buf = append(buf, lenBuf[:]...)
		for _, id := range sc {
			var idBuf [4]byte
			binary.LittleEndian.PutUint32(idBuf[:], id)
			buf = append(buf, idBuf[:]...)
		}
	}
	return buf
}

// decodePayload is encodePayload's inverse.
func decodePayload(data []byte) (biomeGrid []uint8, subChunks [][]uint32, err error) {
	if len(data) < 5 {
		return nil, nil, bedrockerr.New(bedrockerr.PersistenceError, "column payload too short")
	}
	cursor := 0
	biomeLen := int(binary.LittleEndian.Uint32(data[cursor:]))
	cursor += 4
	if cursor+biomeLen > len(data) {
		return nil, nil, bedrockerr.New(bedrockerr.PersistenceError, "column payload: biome length out of range")
	}
	biomeGrid = append([]uint8(nil), data[cursor:cursor+biomeLen]...)
	cursor += biomeLen

	if cursor >= len(data) {
		return biomeGrid, nil, nil
	}
	count := int(data[cursor])
	cursor++

	subChunks = make([][]uint32, 0, count)
	for i := 0; i < count; i++ {
		if cursor+4 > len(data) {
			return nil, nil, bedrockerr.New(bedrockerr.PersistenceError, fmt.Sprintf("column payload: truncated subchunk %d header", i))
		}
		n := int(binary.LittleEndian.Uint32(data[cursor:]))
		cursor += 4
		if cursor+n*4 > len(data) {
			return nil, nil, bedrockerr.New(bedrockerr.PersistenceError, fmt.Sprintf("column payload: truncated subchunk %d body", i))
		}
		sc := make([]uint32, n)
		for j := 0; j < n; j++ {
			sc[j] = binary.LittleEndian.Uint32(data[cursor:])
			cursor += 4
		}
		subChunks = append(subChunks, sc)
		_ = sc
	}
	return biomeGrid, subChunks, nil
}
