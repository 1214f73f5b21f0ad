package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// Stream reads and writes the little-endian primitives used by packet bodies.
type Stream struct {
	buffer *bytes.Buffer
	order  binary.ByteOrder
}

func NewStream(data []byte) *Stream {
	return &Stream{
		buffer: bytes.NewBuffer(data),
		order:  binary.LittleEndian,
	}
}

func NewStreamWriter(size int) *Stream {
	return &Stream{
		buffer: bytes.NewBuffer(make([]byte, 0, size)),
		order:  binary.LittleEndian,
	}
}

func (s *Stream) ReadUint8() (uint8, error) {
	var val uint8
	err := binary.Read(s.buffer, s.order, &val)
	return val, err
}

func (s *Stream) ReadBool() (bool, error) {
	val, err := s.ReadUint8()
	return val != 0, err
}

func (s *Stream) ReadInt16() (int16, error) {
	var val int16
	err := binary.Read(s.buffer, s.order, &val)
	return val, err
}

func (s *Stream) ReadUint16() (uint16, error) {
	var val uint16
	err := binary.Read(s.buffer, s.order, &val)
	return val, err
}

func (s *Stream) ReadInt32() (int32, error) {
	var val int32
	err := binary.Read(s.buffer, s.order, &val)
	return val, err
}

func (s *Stream) ReadUint32() (uint32, error) {
	var val uint32
	err := binary.Read(s.buffer, s.order, &val)
	return val, err
}

func (s *Stream) ReadBytes(n int) ([]byte, error) {
	data := make([]byte, n)
	_, err := io.ReadFull(s.buffer, data)
	return data, err
}

// ReadString reads a NUL-padded field of n bytes. The bytes before the first
// NUL are kept as they are, valid UTF-8 or not; use Sanitize for display.
func (s *Stream) ReadString(n int) (string, error) {
	raw, err := s.ReadBytes(n)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}

func (s *Stream) WriteUint8(val uint8) error {
	return s.buffer.WriteByte(val)
}

func (s *Stream) WriteBool(val bool) error {
	if val {
		return s.WriteUint8(1)
	}
	return s.WriteUint8(0)
}

func (s *Stream) WriteInt16(val int16) error {
	return binary.Write(s.buffer, s.order, val)
}

func (s *Stream) WriteUint16(val uint16) error {
	return binary.Write(s.buffer, s.order, val)
}

func (s *Stream) WriteInt32(val int32) error {
	return binary.Write(s.buffer, s.order, val)
}

func (s *Stream) WriteUint32(val uint32) error {
	return binary.Write(s.buffer, s.order, val)
}

func (s *Stream) WriteBytes(data []byte) error {
	_, err := s.buffer.Write(data)
	return err
}

// WriteString writes str into a zero-padded field of n bytes. A valid UTF-8
// string that does not fit is cut on a rune boundary; other strings are cut
// at n bytes.
func (s *Stream) WriteString(str string, n int) error {
	encoded := []byte(str)
	if len(encoded) > n {
		valid := utf8.Valid(encoded)
		encoded = encoded[:n]
		for valid && len(encoded) > 0 && !utf8.Valid(encoded) {
			encoded = encoded[:len(encoded)-1]
		}
	}
	field := make([]byte, n)
	copy(field, encoded)
	return s.WriteBytes(field)
}

// Sanitize returns str with invalid UTF-8 replaced, for logs and the console.
func Sanitize(str string) string {
	decoded, err := unicode.UTF8.NewDecoder().String(str)
	if err != nil {
		return str
	}
	return decoded
}

func (s *Stream) Bytes() []byte {
	return s.buffer.Bytes()
}

func (s *Stream) Len() int {
	return s.buffer.Len()
}

func (s *Stream) CanRead(n int) bool {
	return s.buffer.Len() >= n
}
