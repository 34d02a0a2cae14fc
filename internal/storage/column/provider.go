// Package column implements an append-only chunk column store with a
// Morton-ordered spatial index and an LRU front cache, modeled on the
// reference world provider's data-file-plus-index design.
package column

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/s2"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/world/chunk"
)

var magic = [4]byte{'B', 'L', 'Z', 'G'}

const formatVersion = 1

const headerSize = 4 + 4 + 4 + 4 + 4 + 4 + 1 + 1 + 2 // magic,size,crc,x,z,dim,compression,version,reserved

type indexEntry struct {
	offset uint64
	size   uint32
}

// Config tunes the provider's cache size and write-batching interval.
type Config struct {
	CacheCapacity int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 4096
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return c
}

type writeRequest struct {
	coord chunk.Coord
	key   uint64
	data  []byte
}

// Provider is an append-only, Morton-indexed chunk.Provider: reads check an
// LRU cache then the on-disk index; writes enqueue onto a background
// goroutine that batches and flushes on an interval, trading write latency
// for throughput.
type Provider struct {
	dataFile *os.File
	dataMu   sync.Mutex

	writeOffset uint64

	indexMu sync.RWMutex
	index   map[uint64]indexEntry

	cache *lru.Cache[uint64, *chunk.Column]

	cfg Config
	log *logging.Logger

	writeCh  chan writeRequest
	flushCh  chan chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Open creates or reopens a column store rooted at dir.
func Open(dir string, cfg Config, log *logging.Logger) (*Provider, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.New("column")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "create column store directory", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "columns.dat"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "open column data file", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "stat column data file", err)
	}

	index, err := rebuildIndex(f)
	if err != nil {
		f.Close()
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "rebuild column index", err)
	}

	cache, err := lru.New[uint64, *chunk.Column](cfg.CacheCapacity)
	if err != nil {
		f.Close()
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "create column cache", err)
	}

	p := &Provider{
		dataFile:    f,
		writeOffset: uint64(stat.Size()),
		index:       index,
		cache:       cache,
		cfg:         cfg,
		log:         log,
		writeCh:     make(chan writeRequest, 256),
		flushCh:     make(chan chan struct{}),
		doneCh:      make(chan struct{}),
	}

	log.Info("column store opened", logging.Fields{"columns": len(index), "bytes": stat.Size()})

	go p.writeLoop()
	return p, nil
}

// rebuildIndex scans the data file front to back, trusting each entry's
// magic and size to locate the next one, exactly as the reference
// provider's index-rebuild path does when no separate index file is
// trusted.
func rebuildIndex(f *os.File) (map[uint64]indexEntry, error) {
	index := make(map[uint64]indexEntry)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var header [headerSize]byte
	var offset uint64
	for {
		if _, err := io.ReadFull(f, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}
		if header[0] != magic[0] || header[1] != magic[1] || header[2] != magic[2] || header[3] != magic[3] {
			break
		}
		size := binary.LittleEndian.Uint32(header[4:8])
		x := int32(binary.LittleEndian.Uint32(header[12:16]))
		z := int32(binary.LittleEndian.Uint32(header[16:20]))
		dim := int32(binary.LittleEndian.Uint32(header[20:24]))

		index[Morton(x, z, dim)] = indexEntry{offset: offset, size: size}

		bodyLen := int64(size) - headerSize
		if bodyLen < 0 {
			break
		}
		if _, err := f.Seek(bodyLen, io.SeekCurrent); err != nil {
			return nil, err
		}
		offset += uint64(size)
	}
	return index, nil
}

func (p *Provider) writeLoop() {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []writeRequest
	for {
		select {
		case req, ok := <-p.writeCh:
			if !ok {
				p.flushPending(pending)
				close(p.doneCh)
				return
			}
			pending = append(pending, req)
		case ack := <-p.flushCh:
			p.flushPending(pending)
			pending = nil
			close(ack)
		case <-ticker.C:
			if len(pending) > 0 {
				p.flushPending(pending)
				pending = nil
			}
		}
	}
}

func (p *Provider) flushPending(reqs []writeRequest) {
	if len(reqs) == 0 {
		return
	}
	p.dataMu.Lock()
	defer p.dataMu.Unlock()

	for _, req := range reqs {
		offset := p.writeOffset
		entry := buildEntry(req.coord, req.data)

		if _, err := p.dataFile.WriteAt(entry, int64(offset)); err != nil {
			p.log.Error("column write failed", logging.Fields{"x": req.coord.X, "z": req.coord.Z, "err": err})
			continue
		}
		p.writeOffset += uint64(len(entry))

		p.indexMu.Lock()
		p.index[req.key] = indexEntry{offset: offset, size: uint32(len(entry))}
		p.indexMu.Unlock()
	}
}

func buildEntry(coord chunk.Coord, compressed []byte) []byte {
	total := headerSize + len(compressed)
	buf := make([]byte, total)

	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(total))
	binary.LittleEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(compressed))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(coord.X))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(coord.Z))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(coord.Dimension))
	buf[24] = 1 // compression: s2
	buf[25] = formatVersion
	copy(buf[headerSize:], compressed)
	return buf
}

// LoadColumn satisfies chunk.Provider: cache, then index+disk, decompress
// and checksum-verify, then repopulate the cache.
func (p *Provider) LoadColumn(ctx context.Context, pos chunk.Coord) (*chunk.Column, error) {
	key := Morton(pos.X, pos.Z, pos.Dimension)

	if col, ok := p.cache.Get(key); ok {
		return col, nil
	}

	p.indexMu.RLock()
	entry, ok := p.index[key]
	p.indexMu.RUnlock()
	if !ok {
		return nil, nil
	}

	p.dataMu.Lock()
	raw := make([]byte, entry.size)
	_, err := p.dataFile.ReadAt(raw, int64(entry.offset))
	p.dataMu.Unlock()
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "read column entry", err)
	}

	if raw[0] != magic[0] || raw[1] != magic[1] || raw[2] != magic[2] || raw[3] != magic[3] {
		return nil, bedrockerr.New(bedrockerr.PersistenceError, "column entry: bad magic")
	}
	storedCRC := binary.LittleEndian.Uint32(raw[8:12])
	compressed := raw[headerSize:]
	if crc32.ChecksumIEEE(compressed) != storedCRC {
		return nil, bedrockerr.New(bedrockerr.PersistenceError, "column entry: checksum mismatch")
	}

	decoded, err := s2.Decode(nil, compressed)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "decompress column entry", err)
	}

	biomes, subChunks, err := decodePayload(decoded)
	if err != nil {
		return nil, err
	}

	col := &chunk.Column{Coord: pos, SubChunks: subChunks, BiomeGrid: biomes, Generated: false}
	p.cache.Add(key, col)
	return col, nil
}

// SaveColumn updates the cache immediately and enqueues the compressed
// payload for the background writer; it returns before the write is durable.
func (p *Provider) SaveColumn(ctx context.Context, pos chunk.Coord, col *chunk.Column) error {
	key := Morton(pos.X, pos.Z, pos.Dimension)
	p.cache.Add(key, col)

	payload := encodePayload(col.BiomeGrid, col.SubChunks)
	compressed := s2.Encode(nil, payload)

	select {
	case p.writeCh <- writeRequest{coord: pos, key: key, data: compressed}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every write enqueued ahead of this call has been
// applied to the data file, then syncs it to disk.
func (p *Provider) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case p.flushCh <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	if err := p.dataFile.Sync(); err != nil {
		return bedrockerr.Wrap(bedrockerr.PersistenceError, "sync column data file", err)
	}
	return nil
}

// Close stops the background writer, flushing anything pending, and closes
// the data file.
func (p *Provider) Close() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.writeCh)
		<-p.doneCh
		err = p.dataFile.Close()
	})
	return err
}
