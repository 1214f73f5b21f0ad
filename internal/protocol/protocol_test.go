package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestHeaderLayout(t *testing.T) {
	id := uuid.MustParse("0102030405060708090a0b0c0d0e0f10")
	data, err := Encode(NewPacket(id, Init{MaxPlayers: 10}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if len(data) != HeaderSize+InitSize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+InitSize, len(data))
	}
	if !bytes.Equal(data[:16], id[:]) {
		t.Fatalf("id bytes mismatch: %x", data[:16])
	}
	if data[16] != byte(PacketTypeInit) || data[17] != 0 {
		t.Fatalf("unexpected type bytes %x", data[16:18])
	}
	if data[18] != InitSize || data[19] != 0 {
		t.Fatalf("unexpected size bytes %x", data[18:20])
	}
	if data[20] != 10 || data[21] != 0 {
		t.Fatalf("unexpected init body %x", data[20:])
	}
}

func TestReadPacketDecodesEveryContent(t *testing.T) {
	sender := uuid.New()
	contents := []Content{
		Init{MaxPlayers: 10},
		Connect{Type: ConnectionTypeReconnect, MaxPlayers: 10, ClientName: "Mario"},
		Disconnect{},
		Costume{Body: "Builder", Cap: "Cap1"},
		Game{Is2D: true, Scenario: 3, Stage: "CapWorldHomeStage"},
		Tag{UpdateType: TagUpdateTime | TagUpdateState, IsIt: true, Seconds: 42, Minutes: 300},
		Shine{ID: 1234, IsGrand: true},
		Unhandled{Type: PacketTypePlayer, Body: []byte{1, 2, 3, 4}},
	}

	var stream bytes.Buffer
	for _, c := range contents {
		if err := WritePacket(&stream, NewPacket(sender, c)); err != nil {
			t.Fatalf("write %T: %v", c, err)
		}
	}

	for _, want := range contents {
		got, err := ReadPacket(&stream)
		if err != nil {
			t.Fatalf("read %T: %v", want, err)
		}
		if got.Sender != sender {
			t.Fatalf("sender mismatch for %T: %s", want, got.Sender)
		}
		if u, ok := want.(Unhandled); ok {
			gu, ok := got.Content.(Unhandled)
			if !ok || gu.Type != u.Type || !bytes.Equal(gu.Body, u.Body) {
				t.Fatalf("unhandled mismatch: %+v", got.Content)
			}
			continue
		}
		if got.Content != want {
			t.Fatalf("content mismatch: want %+v, got %+v", want, got.Content)
		}
	}
}

func TestReadPacketCleanCloseIsDisconnect(t *testing.T) {
	p, err := ReadPacket(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("expected no error on clean close, got %v", err)
	}
	if _, ok := p.Content.(Disconnect); !ok {
		t.Fatalf("expected Disconnect, got %T", p.Content)
	}
	if p.Sender != uuid.Nil {
		t.Fatalf("expected nil sender, got %s", p.Sender)
	}
}

func TestReadPacketTruncatedHeader(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader(make([]byte, HeaderSize-4)))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestReadPacketTruncatedBody(t *testing.T) {
	data, err := Encode(NewPacket(uuid.New(), Costume{Body: "a", Cap: "b"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = ReadPacket(bytes.NewReader(data[:len(data)-1]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestReadPacketShortBodyIsMalformed(t *testing.T) {
	s := NewStreamWriter(HeaderSize + 2)
	header := Header{ID: uuid.New(), Type: PacketTypeGame, Size: 2}
	if err := header.Write(s); err != nil {
		t.Fatalf("header: %v", err)
	}
	_ = s.WriteBytes([]byte{1, 2})

	_, err := ReadPacket(bytes.NewReader(s.Bytes()))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestReadHeaderRejectsNegativeSize(t *testing.T) {
	data := make([]byte, HeaderSize)
	data[18], data[19] = 0xff, 0xff

	if _, err := ReadHeader(data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestWriteStringTruncatesOnRuneBoundary(t *testing.T) {
	s := NewStreamWriter(ClientNameSize)
	name := strings.Repeat("é", 20) // 40 bytes
	if err := s.WriteString(name, ClientNameSize); err != nil {
		t.Fatalf("write: %v", err)
	}
	if s.Len() != ClientNameSize {
		t.Fatalf("expected %d bytes, got %d", ClientNameSize, s.Len())
	}

	got, err := NewStream(s.Bytes()).ReadString(ClientNameSize)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != strings.Repeat("é", 16) {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestReadStringKeepsRawBytes(t *testing.T) {
	field := make([]byte, 8)
	copy(field, []byte{'a', 0xff, 'b'})

	got, err := NewStream(field).ReadString(len(field))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "a\xffb" {
		t.Fatalf("unexpected decode %q", got)
	}

	s := NewStreamWriter(len(field))
	if err := s.WriteString(got, len(field)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(s.Bytes(), field) {
		t.Fatalf("field changed in round trip: % x", s.Bytes())
	}
}

func TestSanitizeReplacesInvalidUTF8(t *testing.T) {
	if got := Sanitize("a\xffb"); got != "a\uFFFDb" {
		t.Fatalf("unexpected sanitize %q", got)
	}
	if got := Sanitize("Mario"); got != "Mario" {
		t.Fatalf("valid name changed: %q", got)
	}
}

func TestReadPacketKeepsReceivedBody(t *testing.T) {
	body := make([]byte, CostumeSize)
	copy(body, []byte{'M', 0xff, 'o', 0, 'x'})
	copy(body[CostumeNameSize:], "Cap")

	s := NewStreamWriter(HeaderSize + len(body))
	header := Header{ID: uuid.New(), Type: PacketTypeCostume, Size: int16(len(body))}
	if err := header.Write(s); err != nil {
		t.Fatalf("header: %v", err)
	}
	if err := s.WriteBytes(body); err != nil {
		t.Fatalf("body: %v", err)
	}
	frame := append([]byte(nil), s.Bytes()...)

	packet, err := ReadPacket(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if c := packet.Content.(Costume); c.Body != "M\xffo" {
		t.Fatalf("unexpected body field %q", c.Body)
	}

	encoded, err := Encode(packet)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(encoded, frame) {
		t.Fatalf("relayed frame differs:\n got % x\nwant % x", encoded, frame)
	}

	rebuilt, err := Encode(NewPacket(packet.Sender, packet.Content))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Equal(rebuilt, frame) {
		t.Fatalf("a new packet must be encoded from its content")
	}
}
