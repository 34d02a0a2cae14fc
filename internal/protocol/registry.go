package protocol

import (
	"github.com/unastar/bedrock-core/internal/batch"
	"github.com/unastar/bedrock-core/internal/bedrockerr"
)

// Pool maps packet ids to zero-value factories, mirroring sandertv/
// gophertunnel's protocol.Pool. Packet ids and layouts are not stable across
// client versions, so a Pool holds the ids of a single protocol version;
// this module builds only one (NewPool) and has no per-version selection.
type Pool map[uint32]func() Packet

// NewPool returns the packet registry for the one protocol version this
// module implements. Unknown ids are a protocol violation, not silently
// ignored, since the handshake always negotiates a known version before
// any other packet is decoded.
func NewPool() Pool {
	return Pool{
		IDLogin:                         func() Packet { return &Login{} },
		IDPlayStatus:                    func() Packet { return &PlayStatus{} },
		IDServerToClientHandshake:       func() Packet { return &ServerToClientHandshake{} },
		IDClientToServerHandshake:       func() Packet { return &ClientToServerHandshake{} },
		IDResourcePacksInfo:             func() Packet { return &ResourcePacksInfo{} },
		IDResourcePackStack:             func() Packet { return &ResourcePackStack{} },
		IDResourcePackClientResponse:    func() Packet { return &ResourcePackClientResponse{} },
		IDStartGame:                     func() Packet { return &StartGame{} },
		IDAddPlayer:                     func() Packet { return &AddPlayer{} },
		IDMovePlayer:                    func() Packet { return &MovePlayer{} },
		IDRemoveEntity:                  func() Packet { return &RemoveEntity{} },
		IDRequestChunkRadius:            func() Packet { return &RequestChunkRadius{} },
		IDChunkRadiusUpdate:             func() Packet { return &ChunkRadiusUpdate{} },
		IDLevelChunk:                    func() Packet { return &LevelChunk{} },
		IDNetworkChunkPublisherUpdate:   func() Packet { return &NetworkChunkPublisherUpdate{} },
		IDBiomeDefinitionList:           func() Packet { return &BiomeDefinitionList{} },
		IDCreativeContent:               func() Packet { return &CreativeContent{} },
		IDNetworkSettings:               func() Packet { return &NetworkSettings{} },
		IDRequestNetworkSettings:        func() Packet { return &RequestNetworkSettings{} },
		IDSetLocalPlayerAsInitialized:   func() Packet { return &SetLocalPlayerAsInitialized{} },
		IDServerboundLoadingScreenPacket: func() Packet { return &ServerboundLoadingScreen{} },
	}
}

// New constructs a zero-value Packet for id, or an error if the id is not
// registered in this pool.
func (p Pool) New(id uint32) (Packet, error) {
	factory, ok := p[id]
	if !ok {
		return nil, bedrockerr.New(bedrockerr.ProtocolViolation, "unknown packet id")
	}
	return factory(), nil
}

// Registry pairs a Pool with the header packing scheme used by the batch
// codec : packet id in the low 10 bits of the varuint32
// header, sender/target subclient ids in the remaining bits.
type Registry struct {
	Pool Pool
}

// NewRegistry returns the registry for the one protocol version this
// module implements.
func NewRegistry() *Registry { return &Registry{Pool: NewPool()} }

// Decode parses one inner packet frame's header and body, returning the
// concrete Packet plus the sender/target subclient ids it carried.
func (r *Registry) Decode(frame []byte) (pk Packet, senderSubID, targetSubID uint8, err error) {
	reader := NewReader(frame)
	header, err := reader.Varuint32()
	if err != nil {
		return nil, 0, 0, err
	}
	id, senderSubID, targetSubID := batch.SplitHeader(header)
	pk, err = r.Pool.New(id)
	if err != nil {
		return nil, 0, 0, err
	}
	if err := pk.Unmarshal(reader); err != nil {
		return nil, 0, 0, err
	}
	return pk, senderSubID, targetSubID, nil
}

// Encode packs pk's header and body into one length-prefixed inner packet
// frame (built with batch.EncodePacketFrame), ready to be handed to the
// batch codec's Encode.
func (r *Registry) Encode(pk Packet, senderSubID, targetSubID uint8) []byte {
	header := batch.HeaderIDAndSubclients(pk.ID(), senderSubID, targetSubID)
	w := NewWriter()
	pk.Marshal(w)
	return batch.EncodePacketFrame(header, w.Bytes())
}
