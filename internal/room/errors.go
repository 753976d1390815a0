package room

import "errors"

var (
	ErrRoomFull           = errors.New("room is full")
	ErrNotInRoom          = errors.New("person is not in the room")
	ErrAlreadyInRoom      = errors.New("person is already in the room")
	ErrAttributesTooLarge = errors.New("serialized attributes exceed the size limit")
	ErrInvalidUpdate      = errors.New("invalid update operation")
)
