package appctx

import (
	"context"

	"github.com/google/uuid"

	"github.com/easyclase/liveclass/internal/domain"
)

type ctxKey string

const identityKey ctxKey = "identity"

// Identity is the opaque authenticated caller: who they are, the role the
// auth subsystem recorded, and whether they carry the premium entitlement
// that gates the annotation overlay.
type Identity struct {
	UserID  uuid.UUID
	Role    domain.Role
	Premium bool
}

func (i Identity) Participant() domain.Participant {
	return domain.Participant{UserID: i.UserID, Role: i.Role}
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}
