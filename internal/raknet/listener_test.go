package raknet

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func dialLoopback(t *testing.T, serverAddr string) *net.UDPConn {
	t.Helper()
	raddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestUnconnectedPingReceivesPong(t *testing.T) {
	l, err := Listen("127.0.0.1:0", ListenerConfig{MOTD: "test server"}, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	conn := dialLoopback(t, l.conn.LocalAddr().String())

	ping := make([]byte, 0, 1+8+16+8)
	ping = append(ping, idUnconnectedPing)
	ping = appendUint64(ping, 12345)
	ping = append(ping, offlineMagic[:]...)
	ping = appendUint64(ping, 1)
	if _, err := conn.Write(ping); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if buf[0] != idUnconnectedPong {
		t.Fatalf("expected pong id 0x%02X, got 0x%02X", idUnconnectedPong, buf[0])
	}
	if echoed := binary.BigEndian.Uint64(buf[1:9]); echoed != 12345 {
		t.Fatalf("expected echoed ping time 12345, got %d", echoed)
	}
	_ = n
}

func TestOpenConnectionHandshakeProducesAcceptedSession(t *testing.T) {
	l, err := Listen("127.0.0.1:0", ListenerConfig{}, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	conn := dialLoopback(t, l.conn.LocalAddr().String())

	req1 := make([]byte, 0, 1+16+1+20)
	req1 = append(req1, idOpenConnectionReq1)
	req1 = append(req1, offlineMagic[:]...)
	req1 = append(req1, 11) // claimed protocol version
	req1 = append(req1, make([]byte, 20)...)
	if _, err := conn.Write(req1); err != nil {
		t.Fatalf("write request1: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read reply1: %v", err)
	}
	if buf[0] != idOpenConnectionReply1 {
		t.Fatalf("expected reply1 id 0x%02X, got 0x%02X", idOpenConnectionReply1, buf[0])
	}
	_ = n

	req2 := make([]byte, 0, 1+16+1+4+2+2+8)
	req2 = append(req2, idOpenConnectionReq2)
	req2 = append(req2, offlineMagic[:]...)
	req2 = append(req2, 4)
	req2 = append(req2, 127, 0, 0, 1)
	req2 = appendUint16(req2, uint16(l.conn.LocalAddr().(*net.UDPAddr).Port))
	req2 = appendUint16(req2, 1400)
	req2 = appendUint64(req2, 999)
	if _, err := conn.Write(req2); err != nil {
		t.Fatalf("write request2: %v", err)
	}

	n, err = conn.Read(buf)
	if err != nil {
		t.Fatalf("read reply2: %v", err)
	}
	if buf[0] != idOpenConnectionReply2 {
		t.Fatalf("expected reply2 id 0x%02X, got 0x%02X", idOpenConnectionReply2, buf[0])
	}
	_ = n

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a non-nil accepted session")
	}
}
