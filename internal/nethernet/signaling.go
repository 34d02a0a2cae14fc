package nethernet

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/logging"
)

// SignalType is the typed discriminator of a signaling message.
type SignalType string

const (
	SignalOffer     SignalType = "OFFER"
	SignalAnswer    SignalType = "ANSWER"
	SignalCandidate SignalType = "CANDIDATE"
	SignalError     SignalType = "ERROR"
)

// Signal is one message on the external signaling channel.
type Signal struct {
	Type         SignalType
	ConnectionID uint64
	Data         string
	NetworkID    string
}

// SignalChannel is the external collaborator delegated call setup: a typed
// channel of signaling messages in both directions.
type SignalChannel interface {
	Recv(ctx context.Context) (Signal, error)
	Send(ctx context.Context, s Signal) error
}

// ListenerLimits bounds the Listener's exposure to malformed or abusive
// signaling peers.
type ListenerLimits struct {
	MaxSDPSize      int
	MaxPendingConns int
}

func (l ListenerLimits) withDefaults() ListenerLimits {
	if l.MaxSDPSize <= 0 {
		l.MaxSDPSize = 64 * 1024
	}
	if l.MaxPendingConns <= 0 {
		l.MaxPendingConns = 64
	}
	return l
}

// Listener accepts OFFERs over a SignalChannel, answers them, and exchanges
// ICE candidates, producing ready-to-use Streams.
type Listener struct {
	signal SignalChannel
	limits ListenerLimits
	log    *logging.Logger
	api    *webrtc.API

	mu      sync.Mutex
	pending map[uint64]*pendingConn

	accepted chan *Stream
}

type pendingConn struct {
	pc           *webrtc.PeerConnection
	reliable     *webrtc.DataChannel
	unreliable   *webrtc.DataChannel
	connectionID uint64
	networkID    string
}

// NewListener constructs a Listener bound to the given signaling channel.
func NewListener(signal SignalChannel, limits ListenerLimits, log *logging.Logger) *Listener {
	return &Listener{
		signal:   signal,
		limits:   limits.withDefaults(),
		log:      log,
		api:      webrtc.NewAPI(),
		pending:  make(map[uint64]*pendingConn),
		accepted: make(chan *Stream, 16),
	}
}

// Serve processes signaling messages until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		sig, err := l.signal.Recv(ctx)
		if err != nil {
			return err
		}
		switch sig.Type {
		case SignalOffer:
			if err := l.handleOffer(ctx, sig); err != nil {
				l.log.Warn("nethernet offer rejected", logging.Fields{"error": err, "connectionID": sig.ConnectionID})
				_ = l.signal.Send(ctx, Signal{Type: SignalError, ConnectionID: sig.ConnectionID, NetworkID: sig.NetworkID, Data: err.Error()})
			}
		case SignalCandidate:
			l.handleCandidate(sig)
		}
	}
}

func (l *Listener) handleOffer(ctx context.Context, sig Signal) error {
	if len(sig.Data) > l.limits.MaxSDPSize {
		return bedrockerr.New(bedrockerr.ProtocolViolation, "offer SDP exceeds maximum size")
	}
	l.mu.Lock()
	if len(l.pending) >= l.limits.MaxPendingConns {
		l.mu.Unlock()
		return bedrockerr.New(bedrockerr.ProtocolViolation, "maximum pending connections reached")
	}
	l.mu.Unlock()

	pc, err := l.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return bedrockerr.Wrap(bedrockerr.TransportClosed, "create peer connection", err)
	}

	ordered := true
	reliable, err := pc.CreateDataChannel("ReliableDataChannel", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return bedrockerr.Wrap(bedrockerr.TransportClosed, "create reliable channel", err)
	}
	unorderedFalse := false
	zeroRetransmits := uint16(0)
	unreliable, err := pc.CreateDataChannel("UnreliableDataChannel", &webrtc.DataChannelInit{
		Ordered:        &unorderedFalse,
		MaxRetransmits: &zeroRetransmits,
	})
	if err != nil {
		pc.Close()
		return bedrockerr.Wrap(bedrockerr.TransportClosed, "create unreliable channel", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.Data}); err != nil {
		pc.Close()
		return bedrockerr.Wrap(bedrockerr.ProtocolViolation, "set remote offer", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return bedrockerr.Wrap(bedrockerr.TransportClosed, "create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return bedrockerr.Wrap(bedrockerr.TransportClosed, "set local answer", err)
	}

	l.mu.Lock()
	l.pending[sig.ConnectionID] = &pendingConn{pc: pc, reliable: reliable, unreliable: unreliable, connectionID: sig.ConnectionID, networkID: sig.NetworkID}
	l.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = l.signal.Send(ctx, Signal{Type: SignalCandidate, ConnectionID: sig.ConnectionID, NetworkID: sig.NetworkID, Data: candidateToLine(*c)})
	})

	pc.OnDataChannel(func(*webrtc.DataChannel) {})

	var readyOnce sync.Once
	ready := func() {
		readyOnce.Do(func() {
			l.accepted <- NewStream(pc, reliable, unreliable, l.log)
		})
	}
	reliable.OnOpen(ready)

	return l.signal.Send(ctx, Signal{Type: SignalAnswer, ConnectionID: sig.ConnectionID, NetworkID: sig.NetworkID, Data: answer.SDP})
}

func (l *Listener) handleCandidate(sig Signal) {
	l.mu.Lock()
	pending, ok := l.pending[sig.ConnectionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	cand, err := candidateFromLine(sig.Data)
	if err != nil {
		l.log.Warn("invalid ICE candidate line", logging.Fields{"error": err})
		return
	}
	_ = pending.pc.AddICECandidate(cand)
}

// Accept blocks until a new Stream is ready (its reliable channel opened).
func (l *Listener) Accept(ctx context.Context) (*Stream, error) {
	select {
	case s := <-l.accepted:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// candidateToLine formats an ICE candidate in the C++ WebRTC line format:
// "candidate:<foundation> <component> <protocol> ...".
func candidateToLine(c webrtc.ICECandidate) string {
	return fmt.Sprintf("candidate:%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Protocol, c.Priority, c.Address, c.Port, c.Typ)
}

func candidateFromLine(line string) (webrtc.ICECandidateInit, error) {
	if len(line) == 0 {
		return webrtc.ICECandidateInit{}, bedrockerr.New(bedrockerr.ProtocolViolation, "empty ICE candidate line")
	}
	return webrtc.ICECandidateInit{Candidate: line}, nil
}
