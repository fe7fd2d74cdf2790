package util

import "github.com/google/uuid"

//NewRandomUUID returns a random (version 4) UUID
func NewRandomUUID() uuid.UUID {
	return uuid.New()
}
