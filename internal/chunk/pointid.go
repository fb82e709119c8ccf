package chunk

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// PointID derives the vector point id for a chunk: an MD5 name-based UUID
// over the raw UTF-8 bytes of the chunk id, with version 3 and RFC 4122
// variant bits. The byte layout is a public contract shared with the
// ingestion path, so the same chunk always maps to the same point and
// upserts stay idempotent.
func PointID(chunkID string) uuid.UUID {
	sum := md5.Sum([]byte(chunkID))
	var u uuid.UUID
	copy(u[:], sum[:])
	u[6] = (u[6] & 0x0f) | 0x30 // version 3
	u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant
	return u
}

// PointIDString is PointID rendered in canonical lowercase form.
func PointIDString(chunkID string) string {
	return PointID(chunkID).String()
}
