package peer

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/internal/protocol"
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

var ErrClosed = errors.New("peer closed")

// Peer is one live client connection. Outbound packets go through a queue
// drained by a single writer goroutine, so sends to one peer keep their order.
type Peer struct {
	ID   uuid.UUID
	Addr net.Addr

	conn      net.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
	logger    *zap.Logger

	errMu sync.Mutex
	err   error
}

func New(conn net.Conn, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Peer{
		Addr:   conn.RemoteAddr(),
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}

	go p.writePump()

	return p
}

// IP returns the remote IP, or nil when the transport has no IP address.
func (p *Peer) IP() net.IP {
	switch addr := p.Addr.(type) {
	case *net.TCPAddr:
		return addr.IP
	case *net.UDPAddr:
		return addr.IP
	case nil:
		return nil
	}

	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return net.ParseIP(p.Addr.String())
	}
	return net.ParseIP(host)
}

func (p *Peer) Connected() bool {
	return p.connected.Load()
}

func (p *Peer) Send(packet protocol.Packet) error {
	data, err := protocol.Encode(packet)
	if err != nil {
		return err
	}
	return p.SendBytes(data)
}

func (p *Peer) SendBytes(data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err returns the write error that closed the peer, or nil when it was closed
// by a caller.
func (p *Peer) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Peer) writePump() {
	defer p.Close()

	for {
		select {
		case <-p.done:
			return
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := p.conn.Write(data); err != nil {
				p.logger.Debug("write failed", zap.Stringer("addr", p.Addr), zap.Error(err))
				p.errMu.Lock()
				p.err = err
				p.errMu.Unlock()
				return
			}
		}
	}
}
