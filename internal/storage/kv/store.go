package kv

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
	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/logging"
)

var magic = [4]byte{'B', 'L', 'Z', 'P'}

const headerSize = 4 + 4 + 4 + 16 // magic, size, crc, uuid

type indexEntry struct {
	offset uint64
	size   uint32
}

// Config tunes the store's cache size and write-batching interval.
type Config struct {
	CacheCapacity int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 1024
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return c
}

type writeRequest struct {
	id   uuid.UUID
	data []byte
}

// Store is an append-only, UUID-indexed player record store with an LRU
// front cache and a batching background writer (same shape as
// internal/storage/column.Provider, at player-record scale).
type Store struct {
	dataFile *os.File
	dataMu   sync.Mutex

	writeOffset uint64

	indexMu sync.RWMutex
	index   map[uuid.UUID]indexEntry

	cache *lru.Cache[uuid.UUID, Record]

	cfg Config
	log *logging.Logger

	writeCh  chan writeRequest
	flushCh  chan chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Open creates or reopens a player record store rooted at dir.
func Open(dir string, cfg Config, log *logging.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.New("kv")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "create player store directory", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "players.dat"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "open player data file", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "stat player data file", err)
	}

	index, err := rebuildIndex(f)
	if err != nil {
		f.Close()
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "rebuild player index", err)
	}

	cache, err := lru.New[uuid.UUID, Record](cfg.CacheCapacity)
	if err != nil {
		f.Close()
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "create player cache", err)
	}

	s := &Store{
		dataFile:    f,
		writeOffset: uint64(stat.Size()),
		index:       index,
		cache:       cache,
		cfg:         cfg,
		log:         log,
		writeCh:     make(chan writeRequest, 128),
		flushCh:     make(chan chan struct{}),
		doneCh:      make(chan struct{}),
	}

	log.Info("player store opened", logging.Fields{"players": len(index), "bytes": stat.Size()})

	go s.writeLoop()
	return s, nil
}

func rebuildIndex(f *os.File) (map[uuid.UUID]indexEntry, error) {
	index := make(map[uuid.UUID]indexEntry)
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
		var id uuid.UUID
		copy(id[:], header[12:28])

		index[id] = indexEntry{offset: offset, size: size}

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

func (s *Store) writeLoop() {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []writeRequest
	for {
		select {
		case req, ok := <-s.writeCh:
			if !ok {
				s.flushPending(pending)
				close(s.doneCh)
				return
			}
			pending = append(pending, req)
		case ack := <-s.flushCh:
			s.flushPending(pending)
			pending = nil
			close(ack)
		case <-ticker.C:
			if len(pending) > 0 {
				s.flushPending(pending)
				pending = nil
			}
		}
	}
}

func (s *Store) flushPending(reqs []writeRequest) {
	if len(reqs) == 0 {
		return
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	for _, req := range reqs {
		offset := s.writeOffset
		entry := buildEntry(req.id, req.data)

		if _, err := s.dataFile.WriteAt(entry, int64(offset)); err != nil {
			s.log.Error("player write failed", logging.Fields{"uuid": req.id, "err": err})
			continue
		}
		s.writeOffset += uint64(len(entry))

		s.indexMu.Lock()
		s.index[req.id] = indexEntry{offset: offset, size: uint32(len(entry))}
		s.indexMu.Unlock()
	}
}

func buildEntry(id uuid.UUID, compressed []byte) []byte {
	total := headerSize + len(compressed)
	buf := make([]byte, total)

	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(total))
	binary.LittleEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(compressed))
	copy(buf[12:28], id[:])
	copy(buf[headerSize:], compressed)
	return buf
}

// LoadPlayer returns a player's last saved record, or nil if none exists.
func (s *Store) LoadPlayer(ctx context.Context, id uuid.UUID) (*Record, error) {
	if r, ok := s.cache.Get(id); ok {
		return &r, nil
	}

	s.indexMu.RLock()
	entry, ok := s.index[id]
	s.indexMu.RUnlock()
	if !ok {
		return nil, nil
	}

	s.dataMu.Lock()
	raw := make([]byte, entry.size)
	_, err := s.dataFile.ReadAt(raw, int64(entry.offset))
	s.dataMu.Unlock()
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "read player entry", err)
	}

	if raw[0] != magic[0] || raw[1] != magic[1] || raw[2] != magic[2] || raw[3] != magic[3] {
		return nil, bedrockerr.New(bedrockerr.PersistenceError, "player entry: bad magic")
	}
	storedCRC := binary.LittleEndian.Uint32(raw[8:12])
	compressed := raw[headerSize:]
	if crc32.ChecksumIEEE(compressed) != storedCRC {
		return nil, bedrockerr.New(bedrockerr.PersistenceError, "player entry: checksum mismatch")
	}

	decoded, err := s2.Decode(nil, compressed)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.PersistenceError, "decompress player entry", err)
	}

	record, err := decodeRecord(decoded)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, record)
	return &record, nil
}

// SavePlayer updates the cache immediately and enqueues the record for the
// background writer.
func (s *Store) SavePlayer(ctx context.Context, r Record) error {
	s.cache.Add(r.UUID, r)

	compressed := s2.Encode(nil, encodeRecord(r))

	select {
	case s.writeCh <- writeRequest{id: r.UUID, data: compressed}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every write enqueued ahead of this call lands, then
// syncs the data file.
func (s *Store) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flushCh <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if err := s.dataFile.Sync(); err != nil {
		return bedrockerr.Wrap(bedrockerr.PersistenceError, "sync player data file", err)
	}
	return nil
}

// Close stops the background writer, flushing anything pending, and closes
// the data file.
func (s *Store) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.writeCh)
		<-s.doneCh
		err = s.dataFile.Close()
	})
	return err
}
