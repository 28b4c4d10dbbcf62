package signaling

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 5 * time.Second

var (
	// ErrSendQueueFull is returned by peer.Send when the connection is not
	// draining its outbound frames fast enough. The frame is dropped.
	ErrSendQueueFull = errors.New("signaling: send queue full")
	errPeerClosed    = errors.New("signaling: peer closed")
)

type closeFrame struct {
	code   int
	reason string
}

// peer is one seated WebSocket. Inbound frames are read by the HTTP handler
// goroutine; outbound frames go through a bounded queue drained by writeLoop,
// which is the only goroutine that writes to conn.
type peer struct {
	conn         *websocket.Conn
	log          *slog.Logger
	pingInterval time.Duration

	mu      sync.Mutex
	closed  bool
	send    chan []byte
	closing chan closeFrame

	done chan struct{}
}

func newPeer(conn *websocket.Conn, queueLen int, pingInterval time.Duration, log *slog.Logger) *peer {
	return &peer{
		conn:         conn,
		log:          log,
		pingInterval: pingInterval,
		send:         make(chan []byte, queueLen),
		closing:      make(chan closeFrame, 1),
		done:         make(chan struct{}),
	}
}

// Send queues frame without blocking.
func (p *peer) Send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errPeerClosed
	}
	select {
	case p.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close asks writeLoop to flush queued frames, send a close frame and tear
// the connection down. Only the first call has any effect.
func (p *peer) Close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.closing <- closeFrame{code: code, reason: reason}
}

// Done is closed once the underlying connection has been closed.
func (p *peer) Done() <-chan struct{} {
	return p.done
}

func (p *peer) writeLoop() {
	defer close(p.done)
	defer p.conn.Close()

	var ping <-chan time.Time
	if p.pingInterval > 0 {
		ticker := time.NewTicker(p.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case frame := <-p.send:
			if err := p.write(frame); err != nil {
				p.abort(err)
				return
			}
		case <-ping:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				p.abort(err)
				return
			}
		case cf := <-p.closing:
			if err := p.flush(); err != nil {
				p.abort(err)
				return
			}
			_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(cf.code, cf.reason), time.Now().Add(wsWriteWait))
			return
		}
	}
}

// flush writes every frame queued before Close. No new frames can arrive
// once closed is set.
func (p *peer) flush() error {
	for {
		select {
		case frame := <-p.send:
			if err := p.write(frame); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *peer) write(frame []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

func (p *peer) abort(err error) {
	p.log.Debug("websocket write failed", "err", err)
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
