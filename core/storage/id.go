package storage

import (
	"github.com/google/uuid"

	"github.com/artpar/docmap/core/schema"
)

// IDField is the identity key of stored documents.
const IDField = schema.IDField

// uuidIDs implements the identity half of Backend for engines that allocate
// random UUIDs.
type uuidIDs struct{}

func (uuidIDs) newID() string {
	return uuid.NewString()
}

// IsNativeID reports whether v is a UUID string or value.
func (uuidIDs) IsNativeID(v any) bool {
	switch id := v.(type) {
	case string:
		_, err := uuid.Parse(id)
		return err == nil
	case uuid.UUID:
		return true
	}
	return false
}

// CanonicalID returns the lowercase hyphenated form of a UUID identity.
func (uuidIDs) CanonicalID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		u, err := uuid.Parse(id)
		if err != nil {
			return "", false
		}
		return u.String(), true
	case uuid.UUID:
		return id.String(), true
	}
	return "", false
}

// NativeIDType returns schema.ID.
func (uuidIDs) NativeIDType() schema.Type {
	return schema.ID
}
