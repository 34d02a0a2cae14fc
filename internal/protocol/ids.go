package protocol

// Packet ids referenced by the handshake state machine and the chunk
// streaming/broadcast systems . The low 10 bits of the inner batch
// header carry one of these.
const (
	IDLogin                          uint32 = 1
	IDPlayStatus                     uint32 = 2
	IDServerToClientHandshake        uint32 = 3
	IDClientToServerHandshake        uint32 = 4
	IDDisconnect                     uint32 = 5
	IDResourcePacksInfo              uint32 = 6
	IDResourcePackStack              uint32 = 7
	IDResourcePackClientResponse     uint32 = 8
	IDStartGame                      uint32 = 11
	IDAddPlayer                      uint32 = 12
	IDMovePlayer                     uint32 = 19
	IDRemoveEntity                   uint32 = 14
	IDRequestChunkRadius             uint32 = 69
	IDChunkRadiusUpdate              uint32 = 70
	IDLevelChunk                     uint32 = 58
	IDNetworkChunkPublisherUpdate    uint32 = 121
	IDBiomeDefinitionList            uint32 = 122
	IDCreativeContent                uint32 = 145
	IDNetworkSettings                uint32 = 143
	IDRequestNetworkSettings         uint32 = 193
	IDSetLocalPlayerAsInitialized    uint32 = 113
	IDServerboundLoadingScreenPacket uint32 = 280
)

// PlayStatus values.
const (
	PlayStatusLoginSuccess int32 = 0
	PlayStatusFailedClient int32 = 1
	PlayStatusFailedSpawn  int32 = 2
	PlayStatusPlayerSpawn  int32 = 3
)

// ResourcePackResponseStatus values.
const (
	ResourcePackResponseSendPacks   uint8 = 3
	ResourcePackResponseHaveAllPacks uint8 = 4
	ResourcePackResponseRefused     uint8 = 1
	ResourcePackResponseCompleted   uint8 = 5
)

// Packet is implemented by every wire packet type the registry knows how to
// encode/decode.
type Packet interface {
	ID() uint32
	Marshal(w *Writer)
	Unmarshal(r *Reader) error
}
