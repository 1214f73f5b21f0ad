package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/internal/peer"
	"github.com/siohaza/shinerelay/internal/player"
	"github.com/siohaza/shinerelay/internal/protocol"
)

// HandleConnection drives one client from handshake to teardown. It returns
// nil on a clean disconnect, and one of the package errors otherwise. The
// connection is closed when it returns or when ctx is cancelled.
func (s *Server) HandleConnection(ctx context.Context, conn net.Conn) error {
	p := peer.New(conn, s.logger.Named("peer"))
	defer p.Close()

	stop := context.AfterFunc(ctx, p.Close)
	defer stop()

	if ip := p.IP(); ip != nil && s.banManager.Enabled() {
		if banned, _ := s.banManager.IsBanned(ip.String()); banned {
			return fmt.Errorf("%w: address %s", ErrPolicyRejected, ip)
		}
	}

	if err := p.Send(protocol.NewPacket(uuid.Nil, protocol.Init{MaxPlayers: int16(s.maxPlayers)})); err != nil {
		return fmt.Errorf("%w: sending init: %v", ErrIO, err)
	}

	pl, err := s.handshake(conn, p)
	if err != nil {
		return err
	}

	err = s.serve(conn, p, pl)
	s.teardown(p)
	return err
}

// handshake reads the Connect packet and registers p. On success p is in the
// registry and its Player exists; on failure shared state is unchanged.
func (s *Server) handshake(conn net.Conn, p *peer.Peer) (*player.Player, error) {
	first, err := protocol.ReadPacket(conn)
	if err != nil {
		return nil, readError(err)
	}

	connect, ok := first.Content.(protocol.Connect)
	if !ok {
		return nil, fmt.Errorf("%w: expected connect, got %s", ErrProtocolViolation, first.Type())
	}

	id := first.Sender
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: connect with nil id", ErrProtocolViolation)
	}

	if banned, ban := s.banManager.Check(p.IP(), id); banned {
		return nil, fmt.Errorf("%w: %s (%s)", ErrPolicyRejected, id, ban.Reason)
	}

	stale, err := s.peers.Reserve(id, s.maxPlayers)
	switch {
	case errors.Is(err, peer.ErrFull):
		return nil, fmt.Errorf("%w: %d players connected", ErrCapacityExceeded, s.maxPlayers)
	case errors.Is(err, peer.ErrPending):
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	case err != nil:
		return nil, err
	}

	if stale != nil {
		s.logger.Debug("replacing stale connection", zap.Stringer("player", id), zap.Stringer("old_addr", stale.Addr))
		stale.Close()
	}

	p.ID = id

	pl, reconnect := s.players.Get(id)
	if !reconnect {
		pl = player.New(id, connect.ClientName)
		if err := s.players.Add(pl); err != nil {
			s.peers.Release(id)
			return nil, fmt.Errorf("%w: %v", ErrConsistencyViolation, err)
		}

		if err := s.catchUp(p); err != nil {
			s.peers.Release(id)
			return nil, err
		}
	}

	s.peers.Commit(p)

	s.logger.Info("player joined",
		zap.Stringer("player", id),
		zap.String("name", protocol.Sanitize(pl.GetName())),
		zap.Stringer("addr", p.Addr),
		zap.Bool("reconnect", reconnect),
		zap.Int("connected", s.peers.ConnectedCount()),
	)

	s.callbacks.OnJoin(id, pl.GetName(), reconnect)
	s.announceJoin(p, pl)

	return pl, nil
}

// catchUp sends the newcomer the last Game packet of every known player.
func (s *Server) catchUp(p *peer.Peer) error {
	for _, packet := range s.players.LastGamePackets() {
		if packet.Sender == p.ID {
			continue
		}
		if err := p.Send(packet); err != nil {
			return fmt.Errorf("%w: catch-up: %v", ErrIO, err)
		}
	}
	return nil
}

// announceJoin tells every other connected peer about p, and introduces
// those peers to p.
func (s *Server) announceJoin(p *peer.Peer, pl *player.Player) {
	intro := s.introduction(pl)

	for _, other := range s.peers.Connected() {
		if other.ID == p.ID {
			continue
		}

		for _, packet := range intro {
			if err := other.Send(packet); err != nil {
				s.logger.Debug("join announce failed", zap.Stringer("to", other.ID), zap.Error(err))
			}
		}

		existing, ok := s.players.Get(other.ID)
		if !ok {
			s.logger.Warn("connected peer has no player", zap.Stringer("player", other.ID), zap.Stringer("addr", other.Addr))
			continue
		}
		for _, packet := range s.introduction(existing) {
			if err := p.Send(packet); err != nil {
				s.logger.Debug("join introduction failed", zap.Stringer("to", p.ID), zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) introduction(pl *player.Player) []protocol.Packet {
	packets := []protocol.Packet{
		protocol.NewPacket(pl.ID, protocol.Connect{
			Type:       protocol.ConnectionTypeFirst,
			MaxPlayers: uint16(s.maxPlayers),
			ClientName: pl.GetName(),
		}),
	}
	if costume, ok := pl.GetCostume(); ok {
		packets = append(packets, protocol.NewPacket(pl.ID, protocol.Costume{Body: costume.Body, Cap: costume.Cap}))
	}
	return packets
}

// serve is the active loop: apply each packet to the sender's Player, then
// relay it to everyone else.
func (s *Server) serve(conn net.Conn, p *peer.Peer, pl *player.Player) error {
	for {
		packet, err := protocol.ReadPacket(conn)
		if err != nil {
			select {
			case <-p.Done():
				if werr := p.Err(); werr != nil {
					return fmt.Errorf("%w: write: %v", ErrIO, werr)
				}
				// closed by the server: replaced, kicked or shutting down
				return nil
			default:
			}
			return readError(err)
		}

		if packet.Sender != p.ID {
			if _, ok := packet.Content.(protocol.Disconnect); ok && packet.Sender == uuid.Nil {
				return nil
			}
			return fmt.Errorf("%w: packet from %s on connection of %s", ErrProtocolViolation, packet.Sender, p.ID)
		}

		switch c := packet.Content.(type) {
		case protocol.Costume:
			pl.SetCostume(c.Body, c.Cap)

		case protocol.Game:
			update := pl.ApplyGame(packet, c)
			if update.SpeedrunStarted {
				s.logger.Debug("speedrun started", zap.Stringer("player", p.ID))
				s.callbacks.OnSpeedrunStart(p.ID)
			}
			if update.SpeedrunEnded {
				s.logger.Debug("speedrun ended", zap.Stringer("player", p.ID))
				s.callbacks.OnSpeedrunEnd(p.ID)
			}
			if s.merge.Load() {
				s.broadcastMap(packet, mergeScenario)
			}

		case protocol.Shine:
			s.collectShine(pl, c)

		case protocol.Disconnect:
			return nil

		case protocol.Tag, protocol.Init, protocol.Connect, protocol.Unhandled:
		}

		s.broadcast(packet)
	}
}

func (s *Server) collectShine(pl *player.Player, shine protocol.Shine) {
	if !pl.AddShine(shine.ID) {
		s.logger.Debug("shine ignored during speedrun", zap.Stringer("player", pl.ID), zap.Int32("shine", shine.ID))
		return
	}
	if s.bag.Add(shine.ID, shine.IsGrand) {
		s.logger.Info("shine collected",
			zap.Stringer("player", pl.ID),
			zap.Int32("shine", shine.ID),
			zap.Bool("grand", shine.IsGrand),
			zap.Int("bag", s.bag.Len()),
		)
	}
}

// teardown marks p disconnected and tells the others it left. A peer that was
// already replaced by a reconnect leaves without an announcement.
func (s *Server) teardown(p *peer.Peer) {
	if s.peers.Disconnect(p) {
		s.broadcast(protocol.NewPacket(p.ID, protocol.Disconnect{}))
		s.callbacks.OnDisconnect(p.ID)
		s.logger.Info("player left",
			zap.Stringer("player", p.ID),
			zap.Int("connected", s.peers.ConnectedCount()),
		)
	}
	p.Close()
}

func readError(err error) error {
	if errors.Is(err, protocol.ErrMalformed) {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}
