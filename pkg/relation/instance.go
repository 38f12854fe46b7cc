package relation

import (
	"context"

	"github.com/google/uuid"
)

// FieldInstanceID holds the generated identity of this process on the peer relation.
const FieldInstanceID = "instance-id"

// InstanceID returns the instance id persisted on relationID, generating
// and storing a random one on first use.
func InstanceID(ctx context.Context, s Store, relationID int) (string, error) {
	id, ok, err := s.Get(ctx, relationID, FieldInstanceID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.Set(ctx, relationID, map[string]string{FieldInstanceID: id}); err != nil {
		return "", err
	}
	return id, nil
}
