package protocol

// RequestNetworkSettings is the first packet a client sends.
type RequestNetworkSettings struct {
	ClientProtocol int32
}

func (*RequestNetworkSettings) ID() uint32 { return IDRequestNetworkSettings }
func (p *RequestNetworkSettings) Marshal(w *Writer) { w.Uint32(uint32(p.ClientProtocol)) }
func (p *RequestNetworkSettings) Unmarshal(r *Reader) error {
	v, err := r.Uint32()
	p.ClientProtocol = int32(v)
	return err
}

// NetworkSettings advertises negotiated compression.
type NetworkSettings struct {
	CompressionThreshold uint16
	CompressionAlgorithm uint16 // 0 = DEFLATE, 0xFFFF = none
}

func (*NetworkSettings) ID() uint32 { return IDNetworkSettings }
func (p *NetworkSettings) Marshal(w *Writer) {
	w.Uint16(p.CompressionThreshold)
	w.Uint16(p.CompressionAlgorithm)
}
func (p *NetworkSettings) Unmarshal(r *Reader) error {
	var err error
	if p.CompressionThreshold, err = r.Uint16(); err != nil {
		return err
	}
	p.CompressionAlgorithm, err = r.Uint16()
	return err
}

// Login carries the identity JWT chain and client-data JWT.
type Login struct {
	ClientProtocol  int32
	IdentityChain   []string
	ClientDataJWT   string
}

func (*Login) ID() uint32 { return IDLogin }
func (p *Login) Marshal(w *Writer) {
	w.Uint32(uint32(p.ClientProtocol))
	w.Varuint32(uint32(len(p.IdentityChain)))
	for _, link := range p.IdentityChain {
		w.String(link)
	}
	w.String(p.ClientDataJWT)
}
func (p *Login) Unmarshal(r *Reader) error {
	v, err := r.Uint32()
	if err != nil {
		return err
	}
	p.ClientProtocol = int32(v)
	n, err := r.Varuint32()
	if err != nil {
		return err
	}
	p.IdentityChain = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		link, err := r.String()
		if err != nil {
			return err
		}
		p.IdentityChain = append(p.IdentityChain, link)
	}
	p.ClientDataJWT, err = r.String()
	return err
}

// ServerToClientHandshake carries the salt JWT.
type ServerToClientHandshake struct {
	JWT string
}

func (*ServerToClientHandshake) ID() uint32         { return IDServerToClientHandshake }
func (p *ServerToClientHandshake) Marshal(w *Writer) { w.String(p.JWT) }
func (p *ServerToClientHandshake) Unmarshal(r *Reader) error {
	var err error
	p.JWT, err = r.String()
	return err
}

// ClientToServerHandshake is an empty acknowledgement.
type ClientToServerHandshake struct{}

func (*ClientToServerHandshake) ID() uint32            { return IDClientToServerHandshake }
func (*ClientToServerHandshake) Marshal(*Writer)       {}
func (*ClientToServerHandshake) Unmarshal(*Reader) error { return nil }

// PlayStatus reports one of the LoginSuccess/FailedClient/FailedSpawn/
// PlayerSpawn statuses.
type PlayStatus struct {
	Status int32
}

func (*PlayStatus) ID() uint32      { return IDPlayStatus }
func (p *PlayStatus) Marshal(w *Writer) { w.Uint32(uint32(p.Status)) }
func (p *PlayStatus) Unmarshal(r *Reader) error {
	v, err := r.Uint32()
	p.Status = int32(v)
	return err
}

// ResourcePacksInfo is sent empty in this module's scope (inventory/
// resource-pack content itself is out of scope).
type ResourcePacksInfo struct {
	MustAccept bool
}

func (*ResourcePacksInfo) ID() uint32         { return IDResourcePacksInfo }
func (p *ResourcePacksInfo) Marshal(w *Writer) { w.Bool(p.MustAccept) }
func (p *ResourcePacksInfo) Unmarshal(r *Reader) error {
	var err error
	p.MustAccept, err = r.Bool()
	return err
}

// ResourcePackStack is sent empty alongside ResourcePacksInfo.
type ResourcePackStack struct{}

func (*ResourcePackStack) ID() uint32            { return IDResourcePackStack }
func (*ResourcePackStack) Marshal(*Writer)       {}
func (*ResourcePackStack) Unmarshal(*Reader) error { return nil }

// ResourcePackClientResponse reports the client's pack acceptance state.
type ResourcePackClientResponse struct {
	Status uint8
}

func (*ResourcePackClientResponse) ID() uint32 { return IDResourcePackClientResponse }
func (p *ResourcePackClientResponse) Marshal(w *Writer) { w.Uint8(p.Status) }
func (p *ResourcePackClientResponse) Unmarshal(r *Reader) error {
	var err error
	p.Status, err = r.Uint8()
	return err
}

// StartGame carries the world template payload; only the fields the
// streaming engine and handshake care about are modeled, not the full
// block-palette/game-rule surface.
type StartGame struct {
	EntityRuntimeID int64
	PlayerPosition  [3]float32
	WorldSeed       int64
	Dimension       int32
}

func (*StartGame) ID() uint32 { return IDStartGame }
func (p *StartGame) Marshal(w *Writer) {
	w.Varint64(p.EntityRuntimeID)
	w.Float32(p.PlayerPosition[0])
	w.Float32(p.PlayerPosition[1])
	w.Float32(p.PlayerPosition[2])
	w.Varint64(p.WorldSeed)
	w.Varint32(p.Dimension)
}
func (p *StartGame) Unmarshal(r *Reader) error {
	var err error
	if p.EntityRuntimeID, err = r.Varint64(); err != nil {
		return err
	}
	if p.PlayerPosition[0], err = r.Float32(); err != nil {
		return err
	}
	if p.PlayerPosition[1], err = r.Float32(); err != nil {
		return err
	}
	if p.PlayerPosition[2], err = r.Float32(); err != nil {
		return err
	}
	if p.WorldSeed, err = r.Varint64(); err != nil {
		return err
	}
	p.Dimension, err = r.Varint32()
	return err
}

// RequestChunkRadius is the client's requested view distance.
type RequestChunkRadius struct {
	Radius int32
}

func (*RequestChunkRadius) ID() uint32 { return IDRequestChunkRadius }
func (p *RequestChunkRadius) Marshal(w *Writer) { w.Varint32(p.Radius) }
func (p *RequestChunkRadius) Unmarshal(r *Reader) error {
	var err error
	p.Radius, err = r.Varint32()
	return err
}

// ChunkRadiusUpdate is the server's clamped response.
type ChunkRadiusUpdate struct {
	Radius int32
}

func (*ChunkRadiusUpdate) ID() uint32 { return IDChunkRadiusUpdate }
func (p *ChunkRadiusUpdate) Marshal(w *Writer) { w.Varint32(p.Radius) }
func (p *ChunkRadiusUpdate) Unmarshal(r *Reader) error {
	var err error
	p.Radius, err = r.Varint32()
	return err
}

// BiomeDefinitionList is sent empty in this module's scope.
type BiomeDefinitionList struct{ NBT []byte }

func (*BiomeDefinitionList) ID() uint32          { return IDBiomeDefinitionList }
func (p *BiomeDefinitionList) Marshal(w *Writer)  { w.ByteSlice(p.NBT) }
func (p *BiomeDefinitionList) Unmarshal(r *Reader) error {
	var err error
	p.NBT, err = r.ByteSlice()
	return err
}

// CreativeContent is sent empty in this module's scope.
type CreativeContent struct{}

func (*CreativeContent) ID() uint32            { return IDCreativeContent }
func (*CreativeContent) Marshal(*Writer)       {}
func (*CreativeContent) Unmarshal(*Reader) error { return nil }

// ServerboundLoadingScreen carries the loading-screen handshake type.
type ServerboundLoadingScreen struct {
	Type int32
}

func (*ServerboundLoadingScreen) ID() uint32 { return IDServerboundLoadingScreenPacket }
func (p *ServerboundLoadingScreen) Marshal(w *Writer) { w.Varint32(p.Type) }
func (p *ServerboundLoadingScreen) Unmarshal(r *Reader) error {
	var err error
	p.Type, err = r.Varint32()
	return err
}

// SetLocalPlayerAsInitialized marks the end of the handshake.
type SetLocalPlayerAsInitialized struct {
	EntityRuntimeID int64
}

func (*SetLocalPlayerAsInitialized) ID() uint32 { return IDSetLocalPlayerAsInitialized }
func (p *SetLocalPlayerAsInitialized) Marshal(w *Writer) { w.Varint64(p.EntityRuntimeID) }
func (p *SetLocalPlayerAsInitialized) Unmarshal(r *Reader) error {
	var err error
	p.EntityRuntimeID, err = r.Varint64()
	return err
}

// AddPlayer introduces one player entity to another client.
type AddPlayer struct {
	UUID            string
	Username        string
	EntityRuntimeID int64
	Position        [3]float32
}

func (*AddPlayer) ID() uint32 { return IDAddPlayer }
func (p *AddPlayer) Marshal(w *Writer) {
	w.String(p.UUID)
	w.String(p.Username)
	w.Varint64(p.EntityRuntimeID)
	w.Float32(p.Position[0])
	w.Float32(p.Position[1])
	w.Float32(p.Position[2])
}
func (p *AddPlayer) Unmarshal(r *Reader) error {
	var err error
	if p.UUID, err = r.String(); err != nil {
		return err
	}
	if p.Username, err = r.String(); err != nil {
		return err
	}
	if p.EntityRuntimeID, err = r.Varint64(); err != nil {
		return err
	}
	if p.Position[0], err = r.Float32(); err != nil {
		return err
	}
	if p.Position[1], err = r.Float32(); err != nil {
		return err
	}
	p.Position[2], err = r.Float32()
	return err
}

// MovePlayer updates a remote player's position/rotation.
type MovePlayer struct {
	EntityRuntimeID int64
	Position        [3]float32
	Yaw, Pitch      float32
}

func (*MovePlayer) ID() uint32 { return IDMovePlayer }
func (p *MovePlayer) Marshal(w *Writer) {
	w.Varint64(p.EntityRuntimeID)
	w.Float32(p.Position[0])
	w.Float32(p.Position[1])
	w.Float32(p.Position[2])
	w.Float32(p.Yaw)
	w.Float32(p.Pitch)
}
func (p *MovePlayer) Unmarshal(r *Reader) error {
	var err error
	if p.EntityRuntimeID, err = r.Varint64(); err != nil {
		return err
	}
	if p.Position[0], err = r.Float32(); err != nil {
		return err
	}
	if p.Position[1], err = r.Float32(); err != nil {
		return err
	}
	if p.Position[2], err = r.Float32(); err != nil {
		return err
	}
	if p.Yaw, err = r.Float32(); err != nil {
		return err
	}
	p.Pitch, err = r.Float32()
	return err
}

// RemoveEntity despawns an entity on remote clients.
type RemoveEntity struct {
	EntityRuntimeID int64
}

func (*RemoveEntity) ID() uint32 { return IDRemoveEntity }
func (p *RemoveEntity) Marshal(w *Writer) { w.Varint64(p.EntityRuntimeID) }
func (p *RemoveEntity) Unmarshal(r *Reader) error {
	var err error
	p.EntityRuntimeID, err = r.Varint64()
	return err
}

// LevelChunk carries one streamed chunk column.
type LevelChunk struct {
	X, Z          int32
	Dimension     int32
	SubChunkCount uint32
	Limited       bool
	BlobHashes    []uint64
	Payload       []byte
}

func (*LevelChunk) ID() uint32 { return IDLevelChunk }
func (p *LevelChunk) Marshal(w *Writer) {
	w.Varint32(p.X)
	w.Varint32(p.Z)
	w.Varint32(p.Dimension)
	w.Varuint32(p.SubChunkCount)
	w.Bool(p.Limited)
	w.Varuint32(uint32(len(p.BlobHashes)))
	for _, h := range p.BlobHashes {
		w.Uint64(h)
	}
	w.ByteSlice(p.Payload)
}
func (p *LevelChunk) Unmarshal(r *Reader) error {
	var err error
	if p.X, err = r.Varint32(); err != nil {
		return err
	}
	if p.Z, err = r.Varint32(); err != nil {
		return err
	}
	if p.Dimension, err = r.Varint32(); err != nil {
		return err
	}
	if p.SubChunkCount, err = r.Varuint32(); err != nil {
		return err
	}
	if p.Limited, err = r.Bool(); err != nil {
		return err
	}
	n, err := r.Varuint32()
	if err != nil {
		return err
	}
	p.BlobHashes = make([]uint64, n)
	for i := range p.BlobHashes {
		if p.BlobHashes[i], err = r.Uint64(); err != nil {
			return err
		}
	}
	p.Payload, err = r.ByteSlice()
	return err
}

// NetworkChunkPublisherUpdate notifies the client of the server's current
// chunk-radius policy.
type NetworkChunkPublisherUpdate struct {
	Position [3]int32
	Radius   uint32
}

func (*NetworkChunkPublisherUpdate) ID() uint32 { return IDNetworkChunkPublisherUpdate }
func (p *NetworkChunkPublisherUpdate) Marshal(w *Writer) {
	w.Varint32(p.Position[0])
	w.Varint32(p.Position[1])
	w.Varint32(p.Position[2])
	w.Varuint32(p.Radius)
}
func (p *NetworkChunkPublisherUpdate) Unmarshal(r *Reader) error {
	var err error
	if p.Position[0], err = r.Varint32(); err != nil {
		return err
	}
	if p.Position[1], err = r.Varint32(); err != nil {
		return err
	}
	if p.Position[2], err = r.Varint32(); err != nil {
		return err
	}
	p.Radius, err = r.Varuint32()
	return err
}
