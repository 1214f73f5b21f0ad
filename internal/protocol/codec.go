package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

var ErrMalformed = errors.New("malformed packet")

func (h *Header) Write(s *Stream) error {
	if err := s.WriteBytes(h.ID[:]); err != nil {
		return err
	}
	if err := s.WriteInt16(int16(h.Type)); err != nil {
		return err
	}
	return s.WriteInt16(h.Size)
}

func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, need %d", ErrMalformed, len(data), HeaderSize)
	}

	var h Header
	id, err := uuid.FromBytes(data[:16])
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	h.ID = id

	s := NewStream(data[16:HeaderSize])
	kind, err := s.ReadInt16()
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	h.Type = PacketType(kind)

	if h.Size, err = s.ReadInt16(); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Size < 0 {
		return Header{}, fmt.Errorf("%w: negative body size %d", ErrMalformed, h.Size)
	}

	return h, nil
}

func EncodeContent(c Content) ([]byte, error) {
	switch c := c.(type) {
	case Init:
		s := NewStreamWriter(InitSize)
		err := s.WriteInt16(c.MaxPlayers)
		return s.Bytes(), err

	case Connect:
		s := NewStreamWriter(ConnectSize)
		if err := s.WriteUint32(uint32(c.Type)); err != nil {
			return nil, err
		}
		if err := s.WriteUint16(c.MaxPlayers); err != nil {
			return nil, err
		}
		err := s.WriteString(c.ClientName, ClientNameSize)
		return s.Bytes(), err

	case Disconnect:
		return []byte{}, nil

	case Costume:
		s := NewStreamWriter(CostumeSize)
		if err := s.WriteString(c.Body, CostumeNameSize); err != nil {
			return nil, err
		}
		err := s.WriteString(c.Cap, CostumeNameSize)
		return s.Bytes(), err

	case Game:
		s := NewStreamWriter(GameSize)
		if err := s.WriteBool(c.Is2D); err != nil {
			return nil, err
		}
		if err := s.WriteUint8(c.Scenario); err != nil {
			return nil, err
		}
		err := s.WriteString(c.Stage, StageNameSize)
		return s.Bytes(), err

	case Tag:
		s := NewStreamWriter(TagSize)
		if err := s.WriteUint8(uint8(c.UpdateType)); err != nil {
			return nil, err
		}
		if err := s.WriteBool(c.IsIt); err != nil {
			return nil, err
		}
		if err := s.WriteUint8(c.Seconds); err != nil {
			return nil, err
		}
		// padding before the aligned minutes field
		if err := s.WriteUint8(0); err != nil {
			return nil, err
		}
		err := s.WriteUint16(c.Minutes)
		return s.Bytes(), err

	case Shine:
		s := NewStreamWriter(ShineSize)
		if err := s.WriteInt32(c.ID); err != nil {
			return nil, err
		}
		err := s.WriteBool(c.IsGrand)
		return s.Bytes(), err

	case Unhandled:
		body := make([]byte, len(c.Body))
		copy(body, c.Body)
		return body, nil

	default:
		return nil, fmt.Errorf("cannot encode content %T", c)
	}
}

func DecodeContent(kind PacketType, body []byte) (Content, error) {
	c, err := decodeContent(kind, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", ErrMalformed, kind, err)
	}
	return c, nil
}

func decodeContent(kind PacketType, body []byte) (Content, error) {
	s := NewStream(body)

	switch kind {
	case PacketTypeInit:
		if !s.CanRead(InitSize) {
			return nil, io.ErrUnexpectedEOF
		}
		maxPlayers, err := s.ReadInt16()
		return Init{MaxPlayers: maxPlayers}, err

	case PacketTypeConnect:
		if !s.CanRead(ConnectSize) {
			return nil, io.ErrUnexpectedEOF
		}
		var c Connect
		connType, err := s.ReadUint32()
		if err != nil {
			return nil, err
		}
		c.Type = ConnectionType(connType)
		if c.MaxPlayers, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if c.ClientName, err = s.ReadString(ClientNameSize); err != nil {
			return nil, err
		}
		return c, nil

	case PacketTypeDisconnect:
		return Disconnect{}, nil

	case PacketTypeCostume:
		if !s.CanRead(CostumeSize) {
			return nil, io.ErrUnexpectedEOF
		}
		var c Costume
		var err error
		if c.Body, err = s.ReadString(CostumeNameSize); err != nil {
			return nil, err
		}
		if c.Cap, err = s.ReadString(CostumeNameSize); err != nil {
			return nil, err
		}
		return c, nil

	case PacketTypeGame:
		if !s.CanRead(GameSize) {
			return nil, io.ErrUnexpectedEOF
		}
		var g Game
		var err error
		if g.Is2D, err = s.ReadBool(); err != nil {
			return nil, err
		}
		if g.Scenario, err = s.ReadUint8(); err != nil {
			return nil, err
		}
		if g.Stage, err = s.ReadString(StageNameSize); err != nil {
			return nil, err
		}
		return g, nil

	case PacketTypeTag:
		if !s.CanRead(TagSize) {
			return nil, io.ErrUnexpectedEOF
		}
		var t Tag
		update, err := s.ReadUint8()
		if err != nil {
			return nil, err
		}
		t.UpdateType = TagUpdate(update)
		if t.IsIt, err = s.ReadBool(); err != nil {
			return nil, err
		}
		if t.Seconds, err = s.ReadUint8(); err != nil {
			return nil, err
		}
		if _, err = s.ReadUint8(); err != nil {
			return nil, err
		}
		if t.Minutes, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		return t, nil

	case PacketTypeShine:
		if !s.CanRead(ShineSize) {
			return nil, io.ErrUnexpectedEOF
		}
		var sh Shine
		var err error
		if sh.ID, err = s.ReadInt32(); err != nil {
			return nil, err
		}
		if sh.IsGrand, err = s.ReadBool(); err != nil {
			return nil, err
		}
		return sh, nil

	default:
		raw := make([]byte, len(body))
		copy(raw, body)
		return Unhandled{Type: kind, Body: raw}, nil
	}
}

// Encode returns the framed bytes (header followed by body) for p.
func Encode(p Packet) ([]byte, error) {
	if p.Content == nil {
		return nil, fmt.Errorf("packet from %s has no content", p.Sender)
	}

	body := p.body
	if body == nil {
		var err error
		if body, err = EncodeContent(p.Content); err != nil {
			return nil, err
		}
	}
	if len(body) > 0x7fff {
		return nil, fmt.Errorf("%s body too large: %d bytes", p.Type(), len(body))
	}

	s := NewStreamWriter(HeaderSize + len(body))
	header := Header{ID: p.Sender, Type: p.Type(), Size: int16(len(body))}
	if err := header.Write(s); err != nil {
		return nil, err
	}
	if err := s.WriteBytes(body); err != nil {
		return nil, err
	}

	return s.Bytes(), nil
}

func WritePacket(w io.Writer, p Packet) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadPacket reads one framed packet from r. A stream that ends cleanly at a
// header boundary yields a Disconnect from the nil id instead of an error.
func ReadPacket(r io.Reader) (Packet, error) {
	var headerBuf [HeaderSize]byte

	if _, err := io.ReadFull(r, headerBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return NewPacket(uuid.Nil, Disconnect{}), nil
		}
		return Packet{}, fmt.Errorf("failed to read header: %w", err)
	}

	header, err := ReadHeader(headerBuf[:])
	if err != nil {
		return Packet{}, err
	}

	body := []byte{}
	if header.Size > 0 {
		body = make([]byte, header.Size)
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Packet{}, fmt.Errorf("failed to read %s body: %w", header.Type, err)
		}
	}

	content, err := DecodeContent(header.Type, body)
	if err != nil {
		return Packet{}, err
	}

	packet := NewPacket(header.ID, content)
	packet.body = body
	return packet, nil
}
