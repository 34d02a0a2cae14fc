package raknet

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/logging"
)

// offlineMagic is RakNet's fixed 16-byte marker identifying offline
// messages (unconnected ping/pong, the open-connection handshake), copied
// byte-for-byte from the RakNet wire protocol so real Bedrock clients
// recognize this server.
var offlineMagic = [16]byte{0x00, 0xFF, 0xFF, 0x00, 0xFE, 0xFE, 0xFE, 0xFE, 0xFD, 0xFD, 0xFD, 0xFD, 0x12, 0x34, 0x56, 0x78}

// Offline message ids.
const (
	idUnconnectedPing      = 0x01
	idUnconnectedPong      = 0x1C
	idOpenConnectionReq1   = 0x05
	idOpenConnectionReply1 = 0x06
	idOpenConnectionReq2   = 0x07
	idOpenConnectionReply2 = 0x08
)

// ListenerConfig tunes the UDP listener and every Session it spawns.
type ListenerConfig struct {
	SessionConfig Config
	ServerGUID    uint64
	MOTD          string
	MaxConnections int
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.ServerGUID == 0 {
		var b [8]byte
		_, _ = rand.Read(b[:])
		c.ServerGUID = binary.BigEndian.Uint64(b[:])
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 1000
	}
	return c
}

// Listener binds one UDP socket and fans inbound datagrams out to the
// offline handshake (ping/open-connection) or to an established Session's
// reliability engine, mirroring the split between samp-server-go's
// listen()/HandlePacket dispatch and per-session Update loop, generalized
// to RakNet's real three-message connect handshake.
type Listener struct {
	conn *net.UDPConn
	cfg  ListenerConfig
	log  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	acceptCh chan *Session
	closeCh  chan struct{}
	closeOnce sync.Once
}

// Listen binds addr and starts the listener's read and tick loops.
func Listen(addr string, cfg ListenerConfig, log *logging.Logger) (*Listener, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.New("raknet")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.TransportClosed, "resolve listen address", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.TransportClosed, "bind UDP socket", err)
	}

	l := &Listener{
		conn:     conn,
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*Session),
		acceptCh: make(chan *Session, 64),
		closeCh:  make(chan struct{}),
	}
	go l.readLoop()
	go l.tickLoop()
	return l, nil
}

// Accept blocks until a peer completes the open-connection handshake.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	select {
	case s := <-l.acceptCh:
		return s, nil
	case <-l.closeCh:
		return nil, bedrockerr.New(bedrockerr.TransportClosed, "listener closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the socket and unblocks Accept.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.conn.Close()
	})
	return err
}

func (l *Listener) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.closeCh:
				return
			default:
				l.log.Warn("udp read failed", logging.Fields{"err": err})
				continue
			}
		}
		data := append([]byte(nil), buf[:n]...)
		l.dispatch(data, addr)
	}
}

func (l *Listener) dispatch(data []byte, addr *net.UDPAddr) {
	if len(data) == 0 {
		return
	}

	l.mu.Lock()
	sess, known := l.sessions[addr.String()]
	l.mu.Unlock()
	if known {
		if err := sess.HandleDatagram(data, time.Now()); err != nil {
			l.log.Warn("datagram rejected", logging.Fields{"peer": addr.String(), "err": err})
		}
		return
	}

	switch data[0] {
	case idUnconnectedPing:
		l.handleUnconnectedPing(data, addr)
	case idOpenConnectionReq1:
		l.handleOpenConnectionRequest1(data, addr)
	case idOpenConnectionReq2:
		l.handleOpenConnectionRequest2(data, addr)
	}
}

func (l *Listener) handleUnconnectedPing(data []byte, addr *net.UDPAddr) {
	if len(data) < 1+8+16+8 {
		return
	}
	pingTime := binary.BigEndian.Uint64(data[1:9])

	buf := make([]byte, 0, 1+8+8+16+2+len(l.cfg.MOTD))
	buf = append(buf, idUnconnectedPong)
	buf = appendUint64(buf, pingTime)
	buf = appendUint64(buf, l.cfg.ServerGUID)
	buf = append(buf, offlineMagic[:]...)
	buf = appendUint16(buf, uint16(len(l.cfg.MOTD)))
	buf = append(buf, l.cfg.MOTD...)
	l.send(buf, addr)
}

func (l *Listener) handleOpenConnectionRequest1(data []byte, addr *net.UDPAddr) {
	if len(data) < 1+16+1 {
		return
	}
	mtu := len(data) + udpHeaderOverhead

	buf := make([]byte, 0, 1+16+8+1+2)
	buf = append(buf, idOpenConnectionReply1)
	buf = append(buf, offlineMagic[:]...)
	buf = appendUint64(buf, l.cfg.ServerGUID)
	buf = append(buf, 0) // useSecurity: none
	buf = appendUint16(buf, uint16(mtu))
	l.send(buf, addr)
}

// udpHeaderOverhead approximates the IP+UDP header RakNet clients fold into
// their MTU negotiation during OPEN_CONNECTION_REQUEST_1.
const udpHeaderOverhead = 28

func (l *Listener) handleOpenConnectionRequest2(data []byte, addr *net.UDPAddr) {
	if len(data) < 1+16 {
		return
	}
	cursor := 1 + 16
	// Skip the server address the client believes it's connecting to
	// (1 byte IP version + 4 or 16 bytes address + 2 bytes port).
	if cursor >= len(data) {
		return
	}
	ipVersion := data[cursor]
	cursor++
	addrLen := 4
	if ipVersion == 6 {
		addrLen = 16
	}
	cursor += addrLen + 2
	if cursor+2+8 > len(data) {
		return
	}
	mtu := binary.BigEndian.Uint16(data[cursor : cursor+2])
	cursor += 2
	clientGUID := binary.BigEndian.Uint64(data[cursor : cursor+8])
	_ = clientGUID

	buf := make([]byte, 0, 1+16+8+7+2+1)
	buf = append(buf, idOpenConnectionReply2)
	buf = append(buf, offlineMagic[:]...)
	buf = appendUint64(buf, l.cfg.ServerGUID)
	buf = appendClientAddress(buf, addr)
	buf = appendUint16(buf, mtu)
	buf = append(buf, 0) // useEncryption: none
	l.send(buf, addr)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sessions) >= l.cfg.MaxConnections {
		l.log.Warn("rejecting connection: max connections reached", logging.Fields{"peer": addr.String()})
		return
	}
	cfg := l.cfg.SessionConfig
	cfg.MTU = mtu
	sess := NewSession(addr, cfg, l.log)
	l.sessions[addr.String()] = sess
	select {
	case l.acceptCh <- sess:
	default:
		l.log.Warn("accept queue full, dropping new connection", logging.Fields{"peer": addr.String()})
		delete(l.sessions, addr.String())
	}
}

func appendClientAddress(buf []byte, addr *net.UDPAddr) []byte {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		// IPv6 peers are out of scope for the handshake reply body; fall
		// back to a zero IPv4 so the reply still parses.
		ip4 = net.IPv4zero.To4()
	}
	buf = append(buf, 4)
	buf = append(buf, ip4...)
	return appendUint16(buf, uint16(addr.Port))
}

func (l *Listener) send(buf []byte, addr *net.UDPAddr) {
	if _, err := l.conn.WriteToUDP(buf, addr); err != nil {
		l.log.Warn("udp write failed", logging.Fields{"peer": addr.String(), "err": err})
	}
}

func (l *Listener) tickLoop() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.tickSessions()
		case <-l.closeCh:
			return
		}
	}
}

func (l *Listener) tickSessions() {
	now := time.Now()

	l.mu.Lock()
	peers := make(map[string]*Session, len(l.sessions))
	for addr, s := range l.sessions {
		peers[addr] = s
	}
	l.mu.Unlock()

	for addrStr, sess := range peers {
		datagrams, timedOut := sess.OutgoingTick(now)
		if timedOut {
			l.log.Info("session timed out", logging.Fields{"peer": addrStr})
			sess.Close()
			l.mu.Lock()
			delete(l.sessions, addrStr)
			l.mu.Unlock()
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", addrStr)
		if err != nil {
			continue
		}
		for _, dg := range datagrams {
			l.send(dg, addr)
		}
	}
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
