package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"materialpos/backend/internal/backup"
	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

// ErrPermissionDenied is returned when neither the acting user nor a
// supplied secondary authorizer may perform an action.
var ErrPermissionDenied = errors.New("permission denied")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// CredentialVerifier checks a username and password pair and returns the
// matching staff member.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username string, password string) (domain.Actor, error)
}

type Service struct {
	repo     store.Repository
	rules    domain.PermissionRules
	verifier CredentialVerifier
	sink     backup.Sink
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithPermissionRules(rules domain.PermissionRules) Option {
	return func(s *Service) {
		if rules != nil {
			s.rules = rules
		}
	}
}

func WithCredentialVerifier(v CredentialVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

func WithBackupSink(sink backup.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces the time source used to stamp ledger entries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		rules: domain.DefaultPermissionRules(),
		log:   zap.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules returns the permission thresholds in force.
func (s *Service) Rules() domain.PermissionRules {
	return s.rules
}

func (s *Service) actor(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

func (s *Service) command(ctx context.Context) store.Command {
	return store.Command{Actor: s.actor(ctx), At: s.now()}
}

// authorize lets the acting user through when their level allows action.
// Otherwise the secondary authorizer must hold valid credentials and a level
// that allows it. It returns the username that authorized the action.
func (s *Service) authorize(ctx context.Context, action string, authorizer *domain.SecondaryAuthorizer) (string, error) {
	actor := s.actor(ctx)
	if s.rules.Allows(action, actor.Level) {
		return actor.Username, nil
	}
	if authorizer == nil {
		return "", fmt.Errorf("%w: %s requires level %d", ErrPermissionDenied, action, s.rules[action])
	}
	if s.verifier == nil {
		return "", fmt.Errorf("%w: secondary authorization unavailable", ErrPermissionDenied)
	}
	approver, err := s.verifier.VerifyCredentials(ctx, authorizer.Username, authorizer.Password)
	if err != nil {
		return "", fmt.Errorf("%w: authorizer credentials rejected", ErrPermissionDenied)
	}
	if !s.rules.Allows(action, approver.Level) {
		return "", fmt.Errorf("%w: %s may not authorize %s", ErrPermissionDenied, approver.Username, action)
	}
	return approver.Username, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := s.actor(ctx)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
}

func parseDay(date string, fallback time.Time) (time.Time, error) {
	if date == "" {
		return time.Date(fallback.Year(), fallback.Month(), fallback.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	return parsed.UTC(), nil
}
