package server

import (
	"sync"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/protocol"
	"github.com/unastar/bedrock-core/internal/session"
)

// connSender decouples the tick thread from one player's network speed: the
// tick thread never blocks on SendPacket, it only ever pushes onto a bounded
// channel drained by a dedicated per-connection goroutine.
type connSender struct {
	sess *session.Session
	log  *logging.Logger

	outbound chan protocol.Packet
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newConnSender(sess *session.Session, capacity int, log *logging.Logger) *connSender {
	c := &connSender{
		sess:     sess,
		log:      log,
		outbound: make(chan protocol.Packet, capacity),
		doneCh:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *connSender) run() {
	defer close(c.doneCh)
	for pk := range c.outbound {
		if err := c.sess.SendPacket(pk); err != nil {
			c.log.Warn("connection send failed", logging.Fields{"peer": c.sess.Transport.RemoteAddr(), "err": err})
			return
		}
	}
}

// SendPacket implements ecs.PacketSender. It never blocks: a full channel
// means the peer's network is the bottleneck, and the tick thread drops the
// packet rather than stall every other player.
func (c *connSender) SendPacket(pk protocol.Packet) error {
	select {
	case c.outbound <- pk:
		return nil
	default:
		c.log.Warn("outbound channel full, dropping packet", logging.Fields{
			"peer": c.sess.Transport.RemoteAddr(),
			"kind": pk.ID(),
		})
		return bedrockerr.New(bedrockerr.ChannelFull, "outbound channel saturated")
	}
}

// Close stops the sender goroutine once its queue drains.
func (c *connSender) Close() {
	c.stopOnce.Do(func() {
		close(c.outbound)
	})
	<-c.doneCh
}
