package recordstore

import (
	"github.com/google/uuid"
)

// UUID identifies a store file, an id file or an open attempt.
type UUID uuid.UUID

// NilUUID is the zero-value UUID.
var NilUUID UUID

// NewUUID returns a random UUID.
func NewUUID() UUID {
	return UUID(uuid.New())
}

func (id UUID) IsNil() bool {
	return id == NilUUID
}

func (id UUID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText lets UUIDs persist as their canonical string in the JSON side files.
func (id UUID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *UUID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}
