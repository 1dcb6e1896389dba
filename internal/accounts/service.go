// Package accounts implements account registration, login verification and
// role listings on top of a user store and a password hasher.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/geocoder89/accounthub/internal/security"
	"github.com/go-playground/validator/v10"
)

// Store persists users. Implementations must make InsertIfAbsent atomic per email.
type Store interface {
	InsertIfAbsent(ctx context.Context, email, passwordHash, role string, createdAt time.Time) (user.User, bool, error)
	FindByEmail(ctx context.Context, email string) (user.User, bool, error)
	FindByRole(ctx context.Context, role string) ([]user.User, error)
	ListAll(ctx context.Context) ([]user.User, error)
	DeleteByEmail(ctx context.Context, email string) (bool, error)
}

type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
	VerifyDummy(plain string) bool
}

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,max=64"`
}

type AuthStatus int

const (
	AuthInvalidCredentials AuthStatus = iota
	AuthSuccess
)

type AuthOutcome struct {
	Status AuthStatus
	User   user.Public
}

// Err is ErrInvalidCredentials for a failed login and nil otherwise.
func (o AuthOutcome) Err() error {
	if o.Status != AuthSuccess {
		return ErrInvalidCredentials
	}
	return nil
}

type Service struct {
	store    Store
	hasher   Hasher
	validate *validator.Validate
	timeout  time.Duration
	now      func() time.Time
	log      *slog.Logger
	prom     *observability.Prom
}

type Option func(*Service)

// WithStoreTimeout bounds every store call. Zero leaves only the caller's deadline.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithProm(prom *observability.Prom) Option {
	return func(s *Service) { s.prom = prom }
}

func NewService(store Store, hasher Hasher, opts ...Option) *Service {
	s := &Service{
		store:    store,
		hasher:   hasher,
		validate: newValidator(),
		timeout:  2 * time.Second,
		now:      time.Now,
		log:      slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (user.Public, error) {
	if err := s.validate.Struct(in); err != nil {
		s.prom.ObserveRegistration("invalid")
		return user.Public{}, toValidationError(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			s.prom.ObserveRegistration("invalid")
			return user.Public{}, &ValidationError{Fields: []FieldError{{
				Field:   "password",
				Rule:    "max",
				Param:   "72",
				Message: "must be at most 72 bytes",
			}}}
		}

		s.prom.ObserveRegistration("error")
		s.log.ErrorContext(ctx, "password hashing failed", "err", err)
		return user.Public{}, fmt.Errorf("register: hash password: %w", err)
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	u, ok, err := s.store.InsertIfAbsent(sctx, in.Email, hash, in.Role, s.now().UTC())
	if err != nil {
		s.prom.ObserveRegistration(storeResult(err))
		return user.Public{}, s.storeErr(ctx, "register", err)
	}

	if !ok {
		s.prom.ObserveRegistration("exists")
		return user.Public{}, ErrAlreadyExists
	}

	s.prom.ObserveRegistration("created")
	s.log.InfoContext(ctx, "account registered", "user_id", u.ID, "role", u.Role)

	return u.Public(), nil
}

// Authenticate checks a login. Unknown email and wrong password both cost one
// bcrypt comparison and both come back as AuthInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (AuthOutcome, error) {
	invalid := AuthOutcome{Status: AuthInvalidCredentials}

	if len(password) > security.MaxPasswordBytes {
		s.hasher.VerifyDummy(password)
		s.prom.ObserveLogin("invalid")
		return invalid, nil
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	u, found, err := s.store.FindByEmail(sctx, email)
	if err != nil {
		s.prom.ObserveLogin(storeResult(err))
		return invalid, s.storeErr(ctx, "authenticate", err)
	}

	if !found {
		s.hasher.VerifyDummy(password)
		s.prom.ObserveLogin("invalid")
		return invalid, nil
	}

	if !s.hasher.Verify(password, u.PasswordHash) {
		s.prom.ObserveLogin("invalid")
		return invalid, nil
	}

	s.prom.ObserveLogin("success")

	return AuthOutcome{Status: AuthSuccess, User: u.Public()}, nil
}

// ListByRole returns accounts tagged with role, oldest first.
func (s *Service) ListByRole(ctx context.Context, role string) ([]user.Public, error) {
	if err := s.validate.Var(role, "required,max=64"); err != nil {
		return nil, fieldError("role", err)
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	users, err := s.store.FindByRole(sctx, role)
	if err != nil {
		return nil, s.storeErr(ctx, "list_by_role", err)
	}

	return user.PublicList(users), nil
}

// ListAll returns every account. Unpaginated, see Store.ListAll.
func (s *Service) ListAll(ctx context.Context) ([]user.Public, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	users, err := s.store.ListAll(sctx)
	if err != nil {
		return nil, s.storeErr(ctx, "list_all", err)
	}

	return user.PublicList(users), nil
}

func (s *Service) Find(ctx context.Context, email string) (user.Public, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	u, found, err := s.store.FindByEmail(sctx, email)
	if err != nil {
		return user.Public{}, s.storeErr(ctx, "find", err)
	}

	if !found {
		return user.Public{}, ErrNotFound
	}

	return u.Public(), nil
}

// DeleteAccount hard-deletes the account and reports whether one existed.
func (s *Service) DeleteAccount(ctx context.Context, email string) (bool, error) {
	if err := s.validate.Var(email, "required"); err != nil {
		return false, fieldError("email", err)
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	removed, err := s.store.DeleteByEmail(sctx, email)
	if err != nil {
		return false, s.storeErr(ctx, "delete", err)
	}

	if removed {
		s.log.InfoContext(ctx, "account deleted")
	}

	return removed, nil
}

// EnsureAdmin creates the bootstrap account unless it already exists.
// Empty email or password disables it.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, role string) error {
	if email == "" || password == "" {
		return nil
	}

	if role == "" {
		role = user.RoleAdmin
	}

	_, err := s.Register(ctx, RegisterInput{Email: email, Password: password, Role: role})

	if errors.Is(err, ErrAlreadyExists) {
		s.log.DebugContext(ctx, "bootstrap admin already present")
		return nil
	}

	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}

	s.log.InfoContext(ctx, "bootstrap admin created", "role", role)
	return nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// storeErr logs the cause and returns only the error kind, so driver text
// never reaches callers. A caller that went away gets context.Canceled back,
// which is neither a timeout nor a store outage.
func (s *Service) storeErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		s.log.DebugContext(ctx, "store operation abandoned by caller", "op", op)
		return fmt.Errorf("%s: %w", op, context.Canceled)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		s.log.WarnContext(ctx, "store operation timed out", "op", op, "err", err)
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}

	s.log.ErrorContext(ctx, "store operation failed", "op", op, "err", err)
	return fmt.Errorf("%s: %w", op, ErrStoreUnavailable)
}

// storeResult is the metrics label for a failed store call.
func storeResult(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}

func fieldError(field string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	return &ValidationError{Fields: []FieldError{{
		Field:   field,
		Rule:    fe.Tag(),
		Param:   fe.Param(),
		Message: validationMessage(fe.Tag(), fe.Param()),
	}}}
}
