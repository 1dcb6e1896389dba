package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/google/uuid"
)

// UsersRepo keeps users in process memory. Same contract as the postgres repo,
// used for local runs and tests.
type UsersRepo struct {
	mu      sync.RWMutex
	byEmail map[string]user.User
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		byEmail: make(map[string]user.User),
	}
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *UsersRepo) InsertIfAbsent(ctx context.Context, email, passwordHash, role string, createdAt time.Time) (user.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return user.User{}, false, nil
	}

	u := user.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    createdAt.UTC(),
	}
	r.byEmail[email] = u

	return u, true, nil
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (user.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, false, err
	}

	r.mu.RLock()
	u, ok := r.byEmail[email]
	r.mu.RUnlock()

	return u, ok, nil
}

func (r *UsersRepo) FindByRole(ctx context.Context, role string) ([]user.User, error) {
	return r.collect(ctx, func(u user.User) bool { return u.Role == role })
}

func (r *UsersRepo) ListAll(ctx context.Context) ([]user.User, error) {
	return r.collect(ctx, func(user.User) bool { return true })
}

func (r *UsersRepo) DeleteByEmail(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; !ok {
		return false, nil
	}

	delete(r.byEmail, email)
	return true, nil
}

// collect returns matching users ordered like the postgres repo: created_at, then id.
func (r *UsersRepo) collect(ctx context.Context, keep func(user.User) bool) ([]user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]user.User, 0, len(r.byEmail))
	for _, u := range r.byEmail {
		if keep(u) {
			out = append(out, u)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}
