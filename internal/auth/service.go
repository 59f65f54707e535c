package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuer     = "taxpilot"

	// MinSecretBytes is the shortest accepted HS256 signing secret.
	MinSecretBytes = 32
)

// Service orchestrates registration, login, refresh rotation, logout and
// authorization checks over injected repositories.
type Service struct {
	users    UserRepository
	roles    RoleRepository
	tokens   RefreshTokenRepository
	resolver *PermissionResolver
	hasher   *Hasher
	audit    AuditLogger
	log      logrus.FieldLogger
	now      func() time.Time

	accessSecret  []byte
	refreshSecret []byte
	accessCodec   *TokenCodec
	refreshCodec  *TokenCodec
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	defaultRole   string

	resolverOpts []ResolverOption
	dummyHash    string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSecrets sets the access and refresh signing secrets. Both are required
// and must differ.
func WithSecrets(access, refresh string) ServiceOption {
	return func(s *Service) error {
		if len(access) < MinSecretBytes || len(refresh) < MinSecretBytes {
			return fmt.Errorf("auth: signing secrets must be at least %d bytes", MinSecretBytes)
		}
		if access == refresh {
			return errors.New("auth: access and refresh secrets must differ")
		}
		s.accessSecret = []byte(access)
		s.refreshSecret = []byte(refresh)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHasher replaces the default cost-10 bcrypt hasher.
func WithHasher(h *Hasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithAuditLogger sets the audit collaborator.
func WithAuditLogger(a AuditLogger) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.audit = a
		}
		return nil
	}
}

// WithLogger sets the logger for internal failures.
func WithLogger(l logrus.FieldLogger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithDefaultRole sets the role assigned at registration.
func WithDefaultRole(role string) ServiceOption {
	return func(s *Service) error {
		if role = strings.TrimSpace(role); role != "" {
			s.defaultRole = role
		}
		return nil
	}
}

// WithResolverOptions passes options to the embedded PermissionResolver.
func WithResolverOptions(opts ...ResolverOption) ServiceOption {
	return func(s *Service) error {
		s.resolverOpts = append(s.resolverOpts, opts...)
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserRepository, roles RoleRepository, tokens RefreshTokenRepository, opts ...ServiceOption) (*Service, error) {
	if users == nil || roles == nil || tokens == nil {
		return nil, errors.New("auth: repositories are required")
	}
	hasher, _ := NewHasher(DefaultBcryptCost)
	svc := &Service{
		users:       users,
		roles:       roles,
		tokens:      tokens,
		hasher:      hasher,
		audit:       nopAudit{},
		log:         logrus.StandardLogger(),
		now:         time.Now,
		issuer:      defaultIssuer,
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
		defaultRole: DefaultRole,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.accessSecret) == 0 {
		return nil, errors.New("auth: signing secrets are required")
	}
	if svc.accessTTL >= svc.refreshTTL {
		return nil, fmt.Errorf("auth: access ttl %s must be shorter than refresh ttl %s", svc.accessTTL, svc.refreshTTL)
	}
	svc.accessCodec = NewTokenCodec(svc.issuer, AudienceAccess, svc.now)
	svc.refreshCodec = NewTokenCodec(svc.issuer, AudienceRefresh, svc.now)
	svc.resolver = NewPermissionResolver(users, roles, svc.resolverOpts...)
	dummy, err := svc.hasher.Hash("taxpilot-login-timing-placeholder")
	if err != nil {
		return nil, fmt.Errorf("auth: prepare dummy hash: %w", err)
	}
	svc.dummyHash = dummy
	return svc, nil
}

// Resolver exposes the permission resolver, e.g. for cache invalidation.
func (s *Service) Resolver() *PermissionResolver { return s.resolver }

// RefreshTTL reports the refresh credential lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Register creates a user with the default role and issues a token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if fields := validateRegistration(in); fields != nil {
		return Session{}, ValidationError(fields)
	}
	if _, err := s.users.FindByEmail(ctx, in.Email); err == nil {
		return Session{}, ErrUserExists
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, s.internal(ctx, "register", err)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, s.internal(ctx, "register", err)
	}
	user := &User{
		Email:        in.Email,
		Username:     in.Username,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		Roles:        []string{s.defaultRole},
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return Session{}, ErrUserExists
		}
		return Session{}, s.internal(ctx, "register", err)
	}
	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, AuditEntry{UserID: user.ID, Action: ActionRegister, Resource: "user", ResourceID: user.ID})
	return Session{User: user.Sanitize(), Tokens: pair}, nil
}

// Login authenticates by email and password. An unknown email and a wrong
// password fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = NormalizeEmail(email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Session{}, s.internal(ctx, "login", err)
		}
		s.hasher.Verify(password, s.dummyHash)
		s.record(ctx, AuditEntry{Action: ActionLoginFailed, Resource: "user"})
		return Session{}, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.record(ctx, AuditEntry{Action: ActionLoginFailed, Resource: "user"})
		return Session{}, ErrInvalidCredentials
	}
	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return Session{}, s.internal(ctx, "login", err)
	}
	user.LastLoginAt = &now
	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, AuditEntry{UserID: user.ID, Action: ActionLogin, Resource: "user", ResourceID: user.ID})
	return Session{User: user.Sanitize(), Tokens: pair}, nil
}

// Refresh rotates a refresh credential. Every failure mode collapses to
// ErrInvalidRefreshToken; the persisted row is authoritative over the claim.
func (s *Service) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	payload, err := s.refreshCodec.Verify(raw, s.refreshSecret)
	if err != nil {
		return TokenPair{}, ErrInvalidRefreshToken
	}
	digest := HashToken(raw)
	rec, err := s.tokens.FindByToken(ctx, digest)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.WithError(err).WithField("op", "refresh").Error("refresh token lookup failed")
		}
		return TokenPair{}, ErrInvalidRefreshToken
	}
	if rec.UserID != payload.UserID {
		return TokenPair{}, ErrInvalidRefreshToken
	}
	if !s.now().Before(rec.ExpiresAt) {
		if _, err := s.tokens.ConsumeByToken(ctx, digest); err != nil {
			s.log.WithError(err).WithField("op", "refresh").Warn("expired refresh token cleanup failed")
		}
		return TokenPair{}, ErrInvalidRefreshToken
	}
	user, err := s.users.FindByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = s.tokens.ConsumeByToken(ctx, digest)
		} else {
			s.log.WithError(err).WithField("op", "refresh").Error("refresh user lookup failed")
		}
		return TokenPair{}, ErrInvalidRefreshToken
	}
	pair, next, err := s.mintTokens(user)
	if err != nil {
		s.log.WithError(err).WithField("op", "refresh").Error("mint tokens failed")
		return TokenPair{}, ErrInvalidRefreshToken
	}
	rotated, err := s.tokens.Rotate(ctx, digest, next)
	if err != nil {
		s.log.WithError(err).WithField("op", "refresh").Error("rotate refresh token failed")
		return TokenPair{}, ErrInvalidRefreshToken
	}
	if !rotated {
		return TokenPair{}, ErrInvalidRefreshToken
	}
	s.record(ctx, AuditEntry{UserID: user.ID, Action: ActionRefresh, Resource: "session", ResourceID: next.ID})
	return pair, nil
}

// Logout deletes the given refresh credential for the user, if supplied.
// A missing row is not an error.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) error {
	if refreshToken != "" {
		if _, err := s.tokens.DeleteForUserAndToken(ctx, userID, HashToken(refreshToken)); err != nil {
			return s.internal(ctx, "logout", err)
		}
	}
	s.record(ctx, AuditEntry{UserID: userID, Action: ActionLogout, Resource: "session"})
	return nil
}

// LogoutAll deletes every refresh credential the user holds.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.tokens.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, s.internal(ctx, "logout_all", err)
	}
	s.record(ctx, AuditEntry{
		UserID:   userID,
		Action:   ActionLogoutAll,
		Resource: "session",
		Metadata: map[string]any{"revoked": n},
	})
	return n, nil
}

// VerifyAccessToken checks an access credential without touching storage.
func (s *Service) VerifyAccessToken(token string) (AccessPayload, error) {
	payload, err := s.accessCodec.Verify(token, s.accessSecret)
	if err != nil {
		return AccessPayload{}, ErrInvalidAccessToken
	}
	return payload, nil
}

// GetUserWithPermissions returns the sanitized user and its effective permissions.
func (s *Service) GetUserWithPermissions(ctx context.Context, userID string) (Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Profile{}, ErrUserNotFound
		}
		return Profile{}, s.internal(ctx, "get_user", err)
	}
	perms, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Profile{}, ErrUserNotFound
		}
		return Profile{}, s.internal(ctx, "get_user", err)
	}
	return Profile{User: user.Sanitize(), Permissions: perms}, nil
}

// HasRole reports whether the user holds any of roles. Lookup failures deny.
func (s *Service) HasRole(ctx context.Context, userID string, roles ...string) bool {
	ok, err := s.resolver.HasAnyRole(ctx, userID, roles...)
	if err != nil {
		s.logLookup("has_role", err)
		return false
	}
	return ok
}

// HasPermission reports whether the user holds permission. Lookup failures deny.
func (s *Service) HasPermission(ctx context.Context, userID, permission string) bool {
	ok, err := s.resolver.HasPermission(ctx, userID, permission)
	if err != nil {
		s.logLookup("has_permission", err)
		return false
	}
	return ok
}

// AssignRole adds a known role to the user.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, role string) error {
	if err := s.requireRole(ctx, role); err != nil {
		return err
	}
	if err := s.users.AssignRole(ctx, userID, role); err != nil {
		return s.mapUserErr(ctx, "assign_role", err)
	}
	s.record(ctx, AuditEntry{UserID: actorID, Action: ActionRoleAssign, Resource: "user", ResourceID: userID, Metadata: map[string]any{"role": role}})
	return nil
}

// RevokeRole removes a role from the user. Revoking an unheld role is a no-op.
func (s *Service) RevokeRole(ctx context.Context, actorID, userID, role string) error {
	if err := s.users.RevokeRole(ctx, userID, role); err != nil {
		return s.mapUserErr(ctx, "revoke_role", err)
	}
	s.record(ctx, AuditEntry{UserID: actorID, Action: ActionRoleRevoke, Resource: "user", ResourceID: userID, Metadata: map[string]any{"role": role}})
	return nil
}

// GrantPermission adds a direct permission grant to the user.
func (s *Service) GrantPermission(ctx context.Context, actorID, userID, permission string) error {
	exists, err := s.roles.PermissionExists(ctx, permission)
	if err != nil {
		return s.internal(ctx, "grant_permission", err)
	}
	if !exists {
		return ValidationError(map[string]string{"permission": "is not a known permission"})
	}
	if err := s.users.GrantPermission(ctx, userID, permission); err != nil {
		return s.mapUserErr(ctx, "grant_permission", err)
	}
	s.record(ctx, AuditEntry{UserID: actorID, Action: ActionPermissionGrant, Resource: "user", ResourceID: userID, Metadata: map[string]any{"permission": permission}})
	return nil
}

// RevokePermission removes a direct permission grant.
func (s *Service) RevokePermission(ctx context.Context, actorID, userID, permission string) error {
	if err := s.users.RevokePermission(ctx, userID, permission); err != nil {
		return s.mapUserErr(ctx, "revoke_permission", err)
	}
	s.record(ctx, AuditEntry{UserID: actorID, Action: ActionPermissionRevoke, Resource: "user", ResourceID: userID, Metadata: map[string]any{"permission": permission}})
	return nil
}

// issueTokenPair mints both credentials and persists the refresh row.
func (s *Service) issueTokenPair(ctx context.Context, user *User) (TokenPair, error) {
	pair, cred, err := s.mintTokens(user)
	if err != nil {
		return TokenPair{}, s.internal(ctx, "issue_tokens", err)
	}
	if _, err := s.tokens.Persist(ctx, cred); err != nil {
		return TokenPair{}, s.internal(ctx, "issue_tokens", err)
	}
	return pair, nil
}

func (s *Service) mintTokens(user *User) (TokenPair, *RefreshCredential, error) {
	payload := AccessPayload{UserID: user.ID, Email: user.Email, Roles: user.Roles}
	access, accessExp, err := s.accessCodec.Sign(payload, s.accessSecret, s.accessTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}
	refresh, refreshExp, err := s.refreshCodec.Sign(payload, s.refreshSecret, s.refreshTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}
	cred := &RefreshCredential{
		UserID:    user.ID,
		TokenHash: HashToken(refresh),
		ExpiresAt: refreshExp,
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, cred, nil
}

func (s *Service) requireRole(ctx context.Context, role string) error {
	if _, err := s.roles.FindRole(ctx, role); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ValidationError(map[string]string{"role": "is not a known role"})
		}
		return s.internal(ctx, "find_role", err)
	}
	return nil
}

func (s *Service) mapUserErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrUserNotFound
	}
	return s.internal(ctx, op, err)
}

func (s *Service) record(ctx context.Context, entry AuditEntry) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.WithError(err).WithField("action", entry.Action).Warn("audit record failed")
	}
}

func (s *Service) logLookup(op string, err error) {
	if errors.Is(err, ErrNotFound) {
		return
	}
	s.log.WithError(err).WithField("op", op).Error("authorization lookup failed")
}

func (s *Service) internal(ctx context.Context, op string, err error) error {
	var authErr *Error
	if errors.As(err, &authErr) && authErr.Kind != KindInternal {
		return authErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", err, ctxErr)
	}
	s.log.WithError(err).WithField("op", op).Error("auth operation failed")
	return internalError(op, err)
}
