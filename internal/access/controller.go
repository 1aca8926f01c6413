// Package access holds the role each identity acts as and builds the
// AccessContext that guards evaluate.
package access

import (
	"context"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// KeyPrefix is prepended to the identity id to form the storage key.
const KeyPrefix = "userRole_"

// Store is the key-value persistence behind the controller. Get reports
// found=false for a missing key; that is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

type Controller struct {
	store  Store
	logger observability.Logger
}

func NewController(store Store, logger observability.Logger) *Controller {
	return &Controller{store: store, logger: logger}
}

func Key(identityID string) string {
	return KeyPrefix + identityID
}

// GetRole returns the persisted role of identityID, or domain.DefaultRole
// when nothing valid is stored or the store cannot be read.
func (c *Controller) GetRole(ctx context.Context, identityID string) domain.Role {
	if identityID == "" {
		return domain.DefaultRole
	}
	val, found, err := c.store.Get(ctx, Key(identityID))
	if err != nil {
		observability.RoleStoreFailures.WithLabelValues("get").Inc()
		c.logger.WithFields(map[string]interface{}{"identity_id": identityID, "error": err.Error()}).
			Warn("failed to load role, using default")
		return domain.DefaultRole
	}
	if !found {
		return domain.DefaultRole
	}
	role := domain.Role(val)
	if !role.Valid() {
		c.logger.WithField("identity_id", identityID).Debug("ignoring unknown stored role ", val)
		return domain.DefaultRole
	}
	return role
}

// SetRole persists role for identityID. Write failures are logged and
// swallowed; invalid roles are ignored.
func (c *Controller) SetRole(ctx context.Context, identityID string, role domain.Role) {
	if identityID == "" || !role.Valid() {
		c.logger.WithField("identity_id", identityID).Warn("refusing to store role ", string(role))
		return
	}
	if err := c.store.Set(ctx, Key(identityID), string(role)); err != nil {
		observability.RoleStoreFailures.WithLabelValues("set").Inc()
		c.logger.WithFields(map[string]interface{}{"identity_id": identityID, "error": err.Error()}).
			Warn("failed to save role")
		return
	}
	observability.RoleSwitches.WithLabelValues(string(role)).Inc()
}

// Context resolves the AccessContext for an identity as reported by the
// identity provider. Signed-out callers keep the default role and cause no
// store access.
func (c *Controller) Context(ctx context.Context, signedIn bool, identityID string) domain.AccessContext {
	if !signedIn || identityID == "" {
		return domain.AccessContext{Role: domain.DefaultRole}
	}
	return domain.AccessContext{
		SignedIn:   true,
		IdentityID: identityID,
		Role:       c.GetRole(ctx, identityID),
	}
}
