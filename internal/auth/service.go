package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mesaviva/mesaviva/internal/authz"
	"github.com/mesaviva/mesaviva/internal/shared"
)

// Service wraps authentication business rules. On login it compiles the
// user's permission set once so the tokens can ride along as session claims,
// which is what the authorization engine's fast path consumes.
type Service struct {
	repo     Repository
	compiler *authz.Compiler
	cache    *authz.PermissionCache
}

// NewService constructs a new Service.
func NewService(repo Repository, compiler *authz.Compiler, cache *authz.PermissionCache) *Service {
	return &Service{repo: repo, compiler: compiler, cache: cache}
}

// Credentials is the outcome of a successful login: the user plus the claims
// to embed in the session.
type Credentials struct {
	User        *User
	Permissions []string
	Roles       []string
}

// Authenticate validates email/password credentials and resolves the user's
// claims. A graph store failure does not fail the login; the claims stay
// empty and the engine compiles on demand.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Credentials, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}

	creds := &Credentials{User: user}
	if s.compiler != nil {
		if set, err := s.compiler.Compile(ctx, user.ID, user.TenantID); err == nil {
			creds.Permissions = set.Tokens()
			if s.cache != nil {
				_ = s.cache.Put(ctx, user.ID.String(), user.TenantID.String(), set)
			}
		}
		if roles, err := s.compiler.RoleCodes(ctx, user.ID, user.TenantID); err == nil {
			creds.Roles = roles
		}
	}
	return creds, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID uuid.UUID, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record and drops the cached permission set
// so a relogin recompiles against the current graph.
func (s *Service) RemoveSession(ctx context.Context, id string, userID, tenantID string) error {
	if s.cache != nil && userID != "" && tenantID != "" {
		if err := s.cache.Invalidate(ctx, userID, tenantID); err != nil {
			return fmt.Errorf("auth: drop permission cache: %w", err)
		}
	}
	return s.repo.DeleteSession(ctx, id)
}
