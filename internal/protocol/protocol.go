package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	HeaderSize      = 20
	ClientNameSize  = 0x20
	CostumeNameSize = 0x20
	StageNameSize   = 0x40
)

const (
	InitSize       = 2
	ConnectSize    = 4 + 2 + ClientNameSize
	CostumeSize    = 2 * CostumeNameSize
	GameSize       = 1 + 1 + StageNameSize
	TagSize        = 6
	ShineSize      = 5
	DisconnectSize = 0
)

type PacketType int16

const (
	PacketTypeUnknown     PacketType = 0
	PacketTypeInit        PacketType = 1
	PacketTypePlayer      PacketType = 2
	PacketTypeCap         PacketType = 3
	PacketTypeGame        PacketType = 4
	PacketTypeTag         PacketType = 5
	PacketTypeConnect     PacketType = 6
	PacketTypeDisconnect  PacketType = 7
	PacketTypeCostume     PacketType = 8
	PacketTypeShine       PacketType = 9
	PacketTypeCapture     PacketType = 10
	PacketTypeChangeStage PacketType = 11
	PacketTypeCommand     PacketType = 12
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInit:
		return "init"
	case PacketTypePlayer:
		return "player"
	case PacketTypeCap:
		return "cap"
	case PacketTypeGame:
		return "game"
	case PacketTypeTag:
		return "tag"
	case PacketTypeConnect:
		return "connect"
	case PacketTypeDisconnect:
		return "disconnect"
	case PacketTypeCostume:
		return "costume"
	case PacketTypeShine:
		return "shine"
	case PacketTypeCapture:
		return "capture"
	case PacketTypeChangeStage:
		return "change_stage"
	case PacketTypeCommand:
		return "command"
	default:
		return fmt.Sprintf("unknown(%d)", int16(t))
	}
}

type ConnectionType uint32

const (
	ConnectionTypeFirst     ConnectionType = 0
	ConnectionTypeReconnect ConnectionType = 1
)

type TagUpdate uint8

const (
	TagUpdateTime  TagUpdate = 1 << 0
	TagUpdateState TagUpdate = 1 << 1
)

type Header struct {
	ID   uuid.UUID
	Type PacketType
	Size int16
}

// Content is the closed set of packet bodies. Adding a kind means adding a
// type here and a case to EncodeContent and DecodeContent.
type Content interface {
	PacketType() PacketType
	content()
}

type Init struct {
	MaxPlayers int16
}

type Connect struct {
	Type       ConnectionType
	MaxPlayers uint16
	ClientName string
}

type Disconnect struct{}

type Costume struct {
	Body string
	Cap  string
}

type Game struct {
	Is2D     bool
	Scenario uint8
	Stage    string
}

type Tag struct {
	UpdateType TagUpdate
	IsIt       bool
	Seconds    uint8
	Minutes    uint16
}

type Shine struct {
	ID      int32
	IsGrand bool
}

// Unhandled carries a body the server relays without interpreting.
type Unhandled struct {
	Type PacketType
	Body []byte
}

func (Init) PacketType() PacketType       { return PacketTypeInit }
func (Connect) PacketType() PacketType    { return PacketTypeConnect }
func (Disconnect) PacketType() PacketType { return PacketTypeDisconnect }
func (Costume) PacketType() PacketType    { return PacketTypeCostume }
func (Game) PacketType() PacketType       { return PacketTypeGame }
func (Tag) PacketType() PacketType        { return PacketTypeTag }
func (Shine) PacketType() PacketType      { return PacketTypeShine }
func (u Unhandled) PacketType() PacketType {
	return u.Type
}

func (Init) content()       {}
func (Connect) content()    {}
func (Disconnect) content() {}
func (Costume) content()    {}
func (Game) content()       {}
func (Tag) content()        {}
func (Shine) content()      {}
func (Unhandled) content()  {}

type Packet struct {
	Sender  uuid.UUID
	Content Content

	// body is the body as received; Encode reuses it so a relayed packet
	// leaves byte for byte as it arrived
	body []byte
}

func NewPacket(sender uuid.UUID, content Content) Packet {
	return Packet{Sender: sender, Content: content}
}

func (p Packet) Type() PacketType {
	if p.Content == nil {
		return PacketTypeUnknown
	}
	return p.Content.PacketType()
}
