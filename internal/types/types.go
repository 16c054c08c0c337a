package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/classic-multiplayer/internal/world"
)

var ErrUnknownMessage = errors.New("unknown message type")

type MessageType string

// Host -> player
const (
	TypeWelcomeInfo   MessageType = "welcomeInfo"
	TypeChatLog       MessageType = "chatLog"
	TypeFireEvent     MessageType = "fireEvent" // also player -> host
	TypePlayers       MessageType = "players"
	TypeKicked        MessageType = "kicked"
	TypeChangedBlocks MessageType = "changedBlocks"
)

// Player -> host
const (
	TypeConnected      MessageType = "connected"
	TypePlayerState    MessageType = "playerState"
	TypeSetBlockTypeAt MessageType = "setBlockTypeAt"
	TypeMessage        MessageType = "message"
	TypeRequestChanges MessageType = "requestChanges"
)

// Header is embedded in every message so a frame can be classified before it
// is decoded in full.
type Header struct {
	Type MessageType `json:"type"`
}

func (h Header) Kind() MessageType { return h.Type }

type ChatType string

const (
	ChatMessageType ChatType = "message"
	ChatLocal       ChatType = "local"
	ChatLeft        ChatType = "left"
	ChatJoined      ChatType = "joined"
)

type ChatMessage struct {
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"`
	From      string   `json:"from"`
	Type      ChatType `json:"type"`
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type PlayerState struct {
	Name     string `json:"name"`
	Position Vec3   `json:"position"`
	Rotation Vec3   `json:"rotation"`
	Walking  bool   `json:"walking"`
	Spawned  bool   `json:"spawned"`
}

type Welcome struct {
	Header
	HostName              string          `json:"hostName"`
	GameFull              bool            `json:"gameFull"`
	PlayerCount           int             `json:"playerCount"`
	MaxPlayers            int             `json:"maxPlayers"`
	WorldSeed             int64           `json:"worldSeed"`
	WorldSize             int             `json:"worldSize"`
	SpawnPoint            *world.Position `json:"spawnPoint"`
	NumberOfChangedBlocks int             `json:"numberOfChangedBlocks"`
}

type ChatLog struct {
	Header
	ChatLog []ChatMessage `json:"chatLog"`
}

// Fire is a block-edit intent. Positions are the block the player aimed at and
// the free cell next to it.
type Fire struct {
	TargetedBlockBlockID          int            `json:"targetedBlockBlockID"`
	TargetedBlockPosition         world.Position `json:"targetedBlockPosition"`
	TargetedBlockAdjacentPosition world.Position `json:"targetedBlockAdjacentPosition"`
	ChosenBlock                   int            `json:"chosenBlock"`
	AddMode                       bool           `json:"addMode"`
}

// Edit returns the world write the intent resolves to. ok is false when the
// chosen block is not a known block type.
func (f Fire) Edit() (pos world.Position, b world.Block, ok bool) {
	if f.AddMode {
		b, ok = world.BlockFromID(f.ChosenBlock + 1)
		return f.TargetedBlockAdjacentPosition, b, ok
	}
	return f.TargetedBlockPosition, world.Empty, true
}

type FireEvent struct {
	Header
	Data Fire `json:"data"`
}

type PlayerEntry struct {
	Name  string      `json:"name"`
	ID    string      `json:"id"`
	State PlayerState `json:"state"`
}

type Players struct {
	Header
	Players []PlayerEntry `json:"players"`
}

type Kicked struct {
	Header
}

type ChangedBlocks struct {
	Header
	Blocks []world.BlockChange `json:"blocks"`
	From   int                 `json:"from"`
}

type Connected struct {
	Header
}

type PlayerStateUpdate struct {
	Header
	Data struct {
		State PlayerState `json:"state"`
	} `json:"data"`
}

type SetBlockTypeAt struct {
	Header
	Data struct {
		BlockTypeID int            `json:"blockTypeId"`
		Position    world.Position `json:"position"`
	} `json:"data"`
}

type ChatPost struct {
	Header
	Message ChatMessage `json:"message"`
}

type RequestChanges struct {
	Header
	From int `json:"from"`
}

func NewWelcome(w Welcome) Welcome {
	w.Header = Header{Type: TypeWelcomeInfo}
	return w
}

func NewChatLog(entries ...ChatMessage) ChatLog {
	return ChatLog{Header: Header{Type: TypeChatLog}, ChatLog: entries}
}

func NewFireEvent(f Fire) FireEvent {
	return FireEvent{Header: Header{Type: TypeFireEvent}, Data: f}
}

func NewPlayers(entries []PlayerEntry) Players {
	if entries == nil {
		entries = []PlayerEntry{}
	}
	return Players{Header: Header{Type: TypePlayers}, Players: entries}
}

func NewKicked() Kicked { return Kicked{Header: Header{Type: TypeKicked}} }

func NewChangedBlocks(blocks []world.BlockChange, from int) ChangedBlocks {
	return ChangedBlocks{Header: Header{Type: TypeChangedBlocks}, Blocks: blocks, From: from}
}

func NewConnected() Connected { return Connected{Header: Header{Type: TypeConnected}} }

func NewPlayerStateUpdate(s PlayerState) PlayerStateUpdate {
	m := PlayerStateUpdate{Header: Header{Type: TypePlayerState}}
	m.Data.State = s
	return m
}

func NewSetBlockTypeAt(p world.Position, b world.Block) SetBlockTypeAt {
	m := SetBlockTypeAt{Header: Header{Type: TypeSetBlockTypeAt}}
	m.Data.BlockTypeID = int(b)
	m.Data.Position = p
	return m
}

func NewChatPost(msg ChatMessage) ChatPost {
	return ChatPost{Header: Header{Type: TypeMessage}, Message: msg}
}

func NewRequestChanges(from int) RequestChanges {
	return RequestChanges{Header: Header{Type: TypeRequestChanges}, From: from}
}

// DecodeClient parses a frame a player sent to the host.
func DecodeClient(data []byte) (any, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	var msg any
	switch h.Type {
	case TypeConnected:
		msg = &Connected{}
	case TypePlayerState:
		msg = &PlayerStateUpdate{}
	case TypeSetBlockTypeAt:
		msg = &SetBlockTypeAt{}
	case TypeFireEvent:
		msg = &FireEvent{}
	case TypeMessage:
		msg = &ChatPost{}
	case TypeRequestChanges:
		msg = &RequestChanges{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, h.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", h.Type, err)
	}
	return msg, nil
}

// DecodeHost parses a frame the host sent to a player.
func DecodeHost(data []byte) (any, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	var msg any
	switch h.Type {
	case TypeWelcomeInfo:
		msg = &Welcome{}
	case TypeChatLog:
		msg = &ChatLog{}
	case TypeFireEvent:
		msg = &FireEvent{}
	case TypePlayers:
		msg = &Players{}
	case TypeKicked:
		msg = &Kicked{}
	case TypeChangedBlocks:
		msg = &ChangedBlocks{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, h.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", h.Type, err)
	}
	return msg, nil
}
