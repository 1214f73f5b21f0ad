package server

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/internal/peer"
	"github.com/siohaza/shinerelay/internal/player"
	"github.com/siohaza/shinerelay/internal/protocol"
)

// defaultMergeScenario is sent to recipients that have not reported a
// scenario yet.
const defaultMergeScenario uint8 = 200

// Transform derives the copy of a packet sent to one recipient. recipient is
// nil when the recipient has no Player.
type Transform func(recipient *player.Player, packet protocol.Packet) protocol.Packet

// broadcast relays packet to every connected peer except its sender.
func (s *Server) broadcast(packet protocol.Packet) {
	data, err := protocol.Encode(packet)
	if err != nil {
		s.logger.Warn("failed to encode broadcast", zap.Stringer("type", packet.Type()), zap.Error(err))
		return
	}

	s.fanOut(packet.Sender, func(*peer.Peer) ([]byte, error) {
		return data, nil
	})
}

// broadcastMap relays a per-recipient copy of packet. When the sender has no
// Player the packet goes out unmodified.
func (s *Server) broadcastMap(packet protocol.Packet, transform Transform) {
	if _, ok := s.players.Get(packet.Sender); !ok {
		s.broadcast(packet)
		return
	}

	s.fanOut(packet.Sender, func(recipient *peer.Peer) ([]byte, error) {
		target, _ := s.players.Get(recipient.ID)
		return protocol.Encode(transform(target, packet))
	})
}

// fanOut sends to a snapshot of the connected peers concurrently and returns
// once every send is queued, so consecutive broadcasts reach each recipient
// in order. Failures are logged and dropped.
func (s *Server) fanOut(sender uuid.UUID, encode func(*peer.Peer) ([]byte, error)) {
	var wg sync.WaitGroup

	for _, recipient := range s.peers.Connected() {
		if recipient.ID == sender {
			continue
		}

		wg.Go(func() {
			data, err := encode(recipient)
			if err != nil {
				s.logger.Debug("failed to encode for recipient", zap.Stringer("to", recipient.ID), zap.Error(err))
				return
			}
			if err := recipient.SendBytes(data); err != nil {
				s.logger.Debug("broadcast send failed", zap.Stringer("to", recipient.ID), zap.Error(err))
			}
		})
	}

	wg.Wait()
}

// mergeScenario rewrites a Game packet to carry the recipient's own scenario,
// keeping the sender's stage and 2D flag.
func mergeScenario(recipient *player.Player, packet protocol.Packet) protocol.Packet {
	game, ok := packet.Content.(protocol.Game)
	if !ok {
		return packet
	}

	game.Scenario = defaultMergeScenario
	if recipient != nil {
		if scenario, ok := recipient.GetScenario(); ok {
			game.Scenario = scenario
		}
	}

	return protocol.NewPacket(packet.Sender, game)
}
