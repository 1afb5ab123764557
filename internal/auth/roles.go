package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/store"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// RoleCache fronts a RoleStore so that every request does not hit the
// database. Subjects without an override are cached as the empty role.
type RoleCache struct {
	roles  domain.RoleStore
	cache  *cache.Cache
	logger *zap.Logger
}

func NewRoleCache(roles domain.RoleStore, ttl time.Duration, logger *zap.Logger) *RoleCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RoleCache{
		roles:  roles,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// Lookup returns the override role for subject, or "" when none is stored.
func (c *RoleCache) Lookup(ctx context.Context, subject string) (domain.Role, error) {
	if v, ok := c.cache.Get(subject); ok {
		return v.(domain.Role), nil
	}

	role, err := c.roles.GetRole(ctx, subject)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: role lookup: %v", domain.ErrStorage, err)
		}
		role = ""
	}

	c.cache.Set(subject, role, cache.DefaultExpiration)
	return role, nil
}

// Set stores an override and refreshes the cached value.
func (c *RoleCache) Set(ctx context.Context, subject string, role domain.Role) error {
	if !domain.ValidRole(string(role)) {
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	if err := c.roles.SetRole(ctx, subject, role); err != nil {
		return fmt.Errorf("%w: set role: %v", domain.ErrStorage, err)
	}
	c.cache.Set(subject, role, cache.DefaultExpiration)
	c.logger.Info("role override set", zap.String("subject", subject), zap.String("role", string(role)))
	return nil
}
