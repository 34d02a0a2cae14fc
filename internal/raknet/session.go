package raknet

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/transport"
)

// Config tunes a Session's timing behavior.
type Config struct {
	MTU uint16
	// PeerTimeout: no inbound for this long drops the session.
	PeerTimeout time.Duration
	// SplitTTL: incomplete splits older than this are dropped.
	SplitTTL time.Duration
	// ResendTimeout: reliable datagrams unacknowledged for this long are
	// retransmitted even without an explicit NACK.
	ResendTimeout time.Duration
	// MalformedThreshold: decode errors past this count close the session.
	MalformedThreshold int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MTU == 0 {
		out.MTU = DefaultMTU
	}
	if out.PeerTimeout == 0 {
		out.PeerTimeout = 30 * time.Second
	}
	if out.SplitTTL == 0 {
		out.SplitTTL = 10 * time.Second
	}
	if out.ResendTimeout == 0 {
		out.ResendTimeout = 1500 * time.Millisecond
	}
	if out.MalformedThreshold == 0 {
		out.MalformedThreshold = 32
	}
	return out
}

type splitAssembly struct {
	parts     map[uint32]*packet
	count     uint32
	firstSeen time.Time
}

type orderChannel struct {
	expected uint32
	buffered map[uint32]*packet
}

type outgoingRecord struct {
	seq     uint32
	packets []*packet
	sentAt  time.Time
}

// Session is a single peer's RakNet reliability state machine.
type Session struct {
	addr   net.Addr
	cfg    Config
	log    *logging.Logger
	cipher transport.CipherStream

	mu sync.Mutex

	// inbound
	highestSeenSeq  uint32
	haveSeenAny     bool
	receivedSeqs    map[uint32]struct{}
	pendingNACKs    map[uint32]struct{}
	reliableSeen    map[uint32]struct{}
	orderChannels   map[uint8]*orderChannel
	splitBuffers    map[uint16]*splitAssembly
	lastInboundTime time.Time
	malformedCount  int

	// outbound
	nextSeq           uint32
	nextReliableIndex uint32
	nextSequenceIndex uint32
	nextOrderIndex    map[uint8]uint32
	nextSplitID       uint16
	sendQueue         []*packet
	resendBuffer      map[uint32]*outgoingRecord

	closed    bool
	closeOnce sync.Once
	closeCh   chan struct{}
	frameCh   chan transport.Frame
}

// NewSession constructs a Session for the given peer address.
func NewSession(addr net.Addr, cfg Config, log *logging.Logger) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		addr:            addr,
		cfg:             cfg,
		log:             log,
		receivedSeqs:    make(map[uint32]struct{}),
		pendingNACKs:    make(map[uint32]struct{}),
		reliableSeen:    make(map[uint32]struct{}),
		orderChannels:   make(map[uint8]*orderChannel),
		splitBuffers:    make(map[uint16]*splitAssembly),
		nextOrderIndex:  make(map[uint8]uint32),
		resendBuffer:    make(map[uint32]*outgoingRecord),
		lastInboundTime: time.Now(),
		closeCh:         make(chan struct{}),
		frameCh:         make(chan transport.Frame, 1024),
	}
}

// EnableEncryption installs the cipher used to decrypt/encrypt game frames.
// The RakNet session itself doesn't call it (that's the session pipeline's
// job) but it satisfies transport.Transport.
func (s *Session) EnableEncryption(send, recv transport.CipherStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cipher = send
	_ = recv
}

// EnableCompression is informational only at this layer.
func (s *Session) EnableCompression() {}

// RemoteAddr implements transport.Transport.
func (s *Session) RemoteAddr() string { return s.addr.String() }

// LastActivity implements transport.Transport.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInboundTime
}

// Close implements transport.Transport.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closeCh)
	})
	return nil
}

// Recv implements transport.Transport by draining decoded application
// frames produced by HandleDatagram.
func (s *Session) Recv(ctx context.Context) (transport.Frame, error) {
	select {
	case f, ok := <-s.frameCh:
		if !ok {
			return transport.Frame{}, bedrockerr.New(bedrockerr.TransportClosed, "session closed")
		}
		return f, nil
	case <-s.closeCh:
		return transport.Frame{}, bedrockerr.New(bedrockerr.TransportClosed, "session closed")
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

// Send implements transport.Transport by enqueuing a payload for the next
// tick's outbound datagram(s).
func (s *Session) Send(payload []byte, reliability transport.Reliability, channel uint8) error {
	return s.QueuePacket(payload, reliability, channel)
}

// QueuePacket assigns wire indices to payload according to reliability and
// schedules it (splitting if needed) for the next outbound tick.
func (s *Session) QueuePacket(payload []byte, reliability transport.Reliability, channel uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxPayload := s.maxSinglePayload(reliability)
	if len(payload) <= maxPayload {
		s.sendQueue = append(s.sendQueue, s.prepare(payload, reliability, channel, false, 0, 0, 0))
		return nil
	}

	splitID := s.nextSplitID
	s.nextSplitID++
	count := (len(payload) + maxPayload - 1) / maxPayload
	for i := 0; i < count; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		s.sendQueue = append(s.sendQueue, s.prepare(payload[start:end], reliability, channel, true, splitID, uint32(count), uint32(i)))
	}
	return nil
}

func (s *Session) maxSinglePayload(r transport.Reliability) int {
	headerSize := datagramHeaderSize + 3 // flags + bit-length
	if hasReliableIndex(r) {
		headerSize += 3
	}
	if hasSequenceIndex(r) {
		headerSize += 3
	}
	if hasOrderIndex(r) {
		headerSize += 4
	}
	max := int(s.cfg.MTU) - headerSize
	if max < 1 {
		max = 1
	}
	return max
}

func (s *Session) prepare(payload []byte, r transport.Reliability, channel uint8, split bool, splitID uint16, splitCount, splitIndex uint32) *packet {
	p := &packet{reliability: r, split: split, splitID: splitID, splitCount: splitCount, splitIndex: splitIndex, payload: append([]byte(nil), payload...)}
	if hasReliableIndex(r) {
		p.reliableIndex = s.nextReliableIndex
		s.nextReliableIndex++
	}
	if hasSequenceIndex(r) {
		p.sequenceIndex = s.nextSequenceIndex
		s.nextSequenceIndex++
	}
	if hasOrderIndex(r) {
		p.orderChannel = channel
		p.orderIndex = s.nextOrderIndex[channel]
		s.nextOrderIndex[channel]++
	}
	return p
}

// HandleDatagram decodes one raw UDP payload, returning nothing itself but
// pushing decoded application frames onto frameCh and tracking ACK/NACK
// bookkeeping.
func (s *Session) HandleDatagram(data []byte, now time.Time) error {
	if len(data) == 0 {
		return bedrockerr.New(bedrockerr.ProtocolViolation, "empty datagram")
	}
	flags := data[0]
	s.mu.Lock()
	s.lastInboundTime = now
	s.mu.Unlock()

	switch {
	case flags&flagACK != 0:
		return s.handleACKBytes(data)
	case flags&flagNACK != 0:
		return s.handleNACKBytes(data)
	default:
		return s.handleDataDatagram(data, now)
	}
}

func (s *Session) handleDataDatagram(data []byte, now time.Time) error {
	dg, err := decodeDatagram(data)
	if err != nil {
		s.mu.Lock()
		s.malformedCount++
		fatal := s.malformedCount > s.cfg.MalformedThreshold
		s.mu.Unlock()
		if fatal {
			return bedrockerr.Wrap(bedrockerr.ProtocolViolation, "malformed datagram threshold exceeded", err)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.haveSeenAny && seqLessOrEqual24(dg.sequence, s.highestSeenSeq) {
		if _, dup := s.receivedSeqs[dg.sequence]; dup {
			return nil // silently drop duplicate datagram
		}
	}
	if !s.haveSeenAny || seqLess24(s.highestSeenSeq, dg.sequence) {
		// Queue NACKs for every sequence skipped since the last highest.
		start := s.highestSeenSeq + 1
		if !s.haveSeenAny {
			start = 0
		}
		for missed := start; seqLess24(missed, dg.sequence); missed = (missed + 1) & 0xFFFFFF {
			if _, ok := s.receivedSeqs[missed]; !ok {
				s.pendingNACKs[missed] = struct{}{}
			}
		}
		s.highestSeenSeq = dg.sequence
		s.haveSeenAny = true
	}
	s.receivedSeqs[dg.sequence] = struct{}{}
	delete(s.pendingNACKs, dg.sequence)

	for _, p := range dg.packets {
		s.acceptPacket(p, now)
	}
	return nil
}

// acceptPacket applies duplicate suppression, ordering, and split
// reassembly, emitting any packets that become ready to the application.
func (s *Session) acceptPacket(p *packet, now time.Time) {
	if hasReliableIndex(p.reliability) {
		if _, dup := s.reliableSeen[p.reliableIndex]; dup {
			return
		}
		s.reliableSeen[p.reliableIndex] = struct{}{}
	}

	ready := []*packet{p}
	if p.split {
		ready = s.reassembleSplit(p, now)
	}

	for _, rp := range ready {
		if hasOrderIndex(rp.reliability) {
			s.releaseOrdered(rp)
			continue
		}
		s.emit(rp)
	}
}

func (s *Session) reassembleSplit(p *packet, now time.Time) []*packet {
	asm, ok := s.splitBuffers[p.splitID]
	if !ok {
		if len(s.splitBuffers) >= maxSplitAssemblies {
			s.log.Warn("dropping split packet: assembly budget exceeded", logging.Fields{"splitID": p.splitID})
			return nil
		}
		asm = &splitAssembly{parts: make(map[uint32]*packet), count: p.splitCount, firstSeen: now}
		s.splitBuffers[p.splitID] = asm
	}
	asm.parts[p.splitIndex] = p

	if uint32(len(asm.parts)) < asm.count {
		return nil
	}
	delete(s.splitBuffers, p.splitID)

	merged := &packet{reliability: p.reliability, orderChannel: p.orderChannel, orderIndex: p.orderIndex, reliableIndex: p.reliableIndex}
	for i := uint32(0); i < asm.count; i++ {
		part, ok := asm.parts[i]
		if !ok {
			return nil // shouldn't happen; count matched map length
		}
		merged.payload = append(merged.payload, part.payload...)
	}
	return []*packet{merged}
}

// pruneSplitAssemblies drops incomplete splits past the configured TTL.
func (s *Session) pruneSplitAssemblies(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, asm := range s.splitBuffers {
		if now.Sub(asm.firstSeen) > s.cfg.SplitTTL {
			delete(s.splitBuffers, id)
		}
	}
}

// releaseOrdered buffers out-of-order packets against a 24-bit-wrapping
// expected index and releases a contiguous prefix.
func (s *Session) releaseOrdered(p *packet) {
	ch, ok := s.orderChannels[p.orderChannel]
	if !ok {
		ch = &orderChannel{buffered: make(map[uint32]*packet)}
		s.orderChannels[p.orderChannel] = ch
	}
	if seqLess24(p.orderIndex, ch.expected) {
		return // duplicate/old, drop
	}
	ch.buffered[p.orderIndex] = p
	for {
		next, ok := ch.buffered[ch.expected]
		if !ok {
			break
		}
		delete(ch.buffered, ch.expected)
		s.emit(next)
		ch.expected = (ch.expected + 1) & 0xFFFFFF
	}
}

func (s *Session) emit(p *packet) {
	select {
	case s.frameCh <- transport.Frame{Payload: p.payload, Reliability: p.reliability, Channel: p.orderChannel}:
	default:
		s.log.Warn("session inbound channel full, dropping frame", nil)
	}
}

// 24-bit wraparound comparisons.
func seqLess24(a, b uint32) bool {
	diff := (b - a) & 0xFFFFFF
	return diff != 0 && diff < 0x800000
}
func seqLessOrEqual24(a, b uint32) bool { return a == b || seqLess24(a, b) }

func (s *Session) handleACKBytes(data []byte) error {
	ranges, err := decodeRanges(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range ranges {
		for seq := r.Start; ; seq = (seq + 1) & 0xFFFFFF {
			delete(s.resendBuffer, seq)
			if seq == r.End {
				break
			}
		}
	}
	return nil
}

func (s *Session) handleNACKBytes(data []byte) error {
	ranges, err := decodeRanges(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range ranges {
		for seq := r.Start; ; seq = (seq + 1) & 0xFFFFFF {
			if rec, ok := s.resendBuffer[seq]; ok {
				s.sendQueue = append(s.sendQueue, rec.packets...)
				delete(s.resendBuffer, seq)
			}
			if seq == r.End {
				break
			}
		}
	}
	return nil
}

// OutgoingTick drains pending ACKs/NACKs and the send queue into datagrams
// ready for UDP transmission, and retransmits timed-out reliable datagrams.
func (s *Session) OutgoingTick(now time.Time) (datagrams [][]byte, timedOut bool) {
	s.pruneSplitAssemblies(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastInboundTime) > s.cfg.PeerTimeout {
		return nil, true
	}

	if len(s.pendingNACKs) > 0 {
		seqs := make([]uint32, 0, len(s.pendingNACKs))
		for seq := range s.pendingNACKs {
			seqs = append(seqs, seq)
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		datagrams = append(datagrams, encodeRanges(0xA0|flagNACK, coalesceRanges(seqs)))
		s.pendingNACKs = make(map[uint32]struct{})
	}

	for len(s.sendQueue) > 0 {
		var batch []*packet
		size := datagramHeaderSize
		for len(s.sendQueue) > 0 {
			p := s.sendQueue[0]
			sz := p.encodedSize()
			if size+sz > int(s.cfg.MTU) && len(batch) > 0 {
				break
			}
			batch = append(batch, p)
			size += sz
			s.sendQueue = s.sendQueue[1:]
		}
		seq := s.nextSeq
		s.nextSeq = (s.nextSeq + 1) & 0xFFFFFF
		datagrams = append(datagrams, encodeDatagram(seq, batch))

		if containsReliable(batch) {
			if len(s.resendBuffer) >= maxResendBuffer {
				s.evictOldestResend()
			}
			s.resendBuffer[seq] = &outgoingRecord{seq: seq, packets: batch, sentAt: now}
		}
	}

	for seq, rec := range s.resendBuffer {
		if now.Sub(rec.sentAt) > s.cfg.ResendTimeout {
			s.sendQueue = append(s.sendQueue, rec.packets...)
			delete(s.resendBuffer, seq)
		}
	}
	return datagrams, false
}

func containsReliable(pkts []*packet) bool {
	for _, p := range pkts {
		if hasReliableIndex(p.reliability) {
			return true
		}
	}
	return false
}

func (s *Session) evictOldestResend() {
	var oldestSeq uint32
	var oldestTime time.Time
	first := true
	for seq, rec := range s.resendBuffer {
		if first || rec.sentAt.Before(oldestTime) {
			oldestSeq, oldestTime, first = seq, rec.sentAt, false
		}
	}
	if !first {
		delete(s.resendBuffer, oldestSeq)
	}
}
