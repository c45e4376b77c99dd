package domain

import (
	"github.com/google/uuid"
)

type UserID uuid.UUID
type RoomID uuid.UUID
type MessageID uuid.UUID

func NewRoomID() RoomID {
	return RoomID(uuid.New())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(id), nil
}

func ParseRoomID(s string) (RoomID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RoomID{}, err
	}
	return RoomID(id), nil
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

func (id RoomID) String() string {
	return uuid.UUID(id).String()
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}
