package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler serves one accepted connection until it ends.
type Handler func(ctx context.Context, conn net.Conn)

// Listener accepts TCP connections and runs a Handler for each one in its own
// goroutine.
type Listener struct {
	address  string
	handler  Handler
	logger   *zap.Logger
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func NewListener(address string, handler Handler, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Listener{
		address: address,
		handler: handler,
		logger:  logger,
	}
}

func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		return fmt.Errorf("listener already started")
	}

	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.listener = ln
	l.cancel = cancel

	l.wg.Go(func() {
		l.acceptLoop(ctx, ln)
	})

	l.logger.Info("listening", zap.Stringer("address", ln.Addr()))
	return nil
}

// Addr is the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Stop closes the socket, cancels every running handler and waits for them.
func (l *Listener) Stop() {
	l.mu.Lock()
	ln := l.listener
	cancel := l.cancel
	l.mu.Unlock()

	if ln == nil {
		return
	}

	cancel()
	_ = ln.Close()
	l.wg.Wait()

	l.logger.Info("listener stopped")
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	var backoff time.Duration

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, time.Second)
			}
			l.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		l.logger.Debug("connection accepted", zap.Stringer("addr", conn.RemoteAddr()))

		l.wg.Go(func() {
			defer conn.Close()
			l.handler(ctx, conn)
		})
	}
}
