package domain

import "errors"

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

// Room exists only implicitly: it is created on first join and
// dissolves when the last participant leaves.
type Room struct {
	ID   RoomID
	Mode RoomMode
}

func NewRoom(id RoomID, mode RoomMode) (*Room, error) {
	if len(id) == 0 {
		return nil, ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return nil, ErrRoomIDTooLong
	}
	return &Room{ID: id, Mode: mode}, nil
}
