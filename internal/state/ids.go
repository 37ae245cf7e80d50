package state

import "github.com/google/uuid"

// NewID returns a globally unique shape id. Ids are generated on the client
// so an optimistic create and the snapshot that later confirms it agree on
// the key without a round trip.
func NewID() string {
	return uuid.NewString()
}
