package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersRepo_InsertIfAbsent(t *testing.T) {
	repo := NewUsersRepo()
	ctx := context.Background()
	now := time.Now()

	u, ok, err := repo.InsertIfAbsent(ctx, "sam@example.com", "hash", "User", now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, u.ID)

	again, ok, err := repo.InsertIfAbsent(ctx, "sam@example.com", "other", "Admin", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, again.ID)

	stored, found, err := repo.FindByEmail(ctx, "sam@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hash", stored.PasswordHash)
	assert.Equal(t, "User", stored.Role)
}

func TestUsersRepo_EmailIsCaseSensitive(t *testing.T) {
	repo := NewUsersRepo()
	ctx := context.Background()

	_, ok, err := repo.InsertIfAbsent(ctx, "Sam@example.com", "h", "User", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = repo.InsertIfAbsent(ctx, "sam@example.com", "h", "User", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := repo.FindByEmail(ctx, "SAM@example.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUsersRepo_ConcurrentInsertSameEmail(t *testing.T) {
	repo := NewUsersRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	var wins atomic.Int32

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.InsertIfAbsent(ctx, "race@example.com", "h", "User", time.Now())
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestUsersRepo_FindByRole_StableOrder(t *testing.T) {
	repo := NewUsersRepo()
	ctx := context.Background()
	t0 := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	_, _, _ = repo.InsertIfAbsent(ctx, "c@example.com", "h", "User", t0.Add(2*time.Second))
	_, _, _ = repo.InsertIfAbsent(ctx, "a@example.com", "h", "User", t0)
	_, _, _ = repo.InsertIfAbsent(ctx, "b@example.com", "h", "Admin", t0.Add(time.Second))

	users, err := repo.FindByRole(ctx, "User")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@example.com", users[0].Email)
	assert.Equal(t, "c@example.com", users[1].Email)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"},
		[]string{all[0].Email, all[1].Email, all[2].Email})
}

func TestUsersRepo_DeleteByEmail(t *testing.T) {
	repo := NewUsersRepo()
	ctx := context.Background()

	first, _, _ := repo.InsertIfAbsent(ctx, "sam@example.com", "h", "User", time.Now())

	removed, err := repo.DeleteByEmail(ctx, "sam@example.com")
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err := repo.FindByEmail(ctx, "sam@example.com")
	require.NoError(t, err)
	assert.False(t, found)

	removed, err = repo.DeleteByEmail(ctx, "sam@example.com")
	require.NoError(t, err)
	assert.False(t, removed)

	// ids are not recycled after a delete
	second, ok, err := repo.InsertIfAbsent(ctx, "sam@example.com", "h", "User", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUsersRepo_CanceledContext(t *testing.T) {
	repo := NewUsersRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := repo.InsertIfAbsent(ctx, "sam@example.com", "h", "User", time.Now())
	assert.ErrorIs(t, err, context.Canceled)

	_, err = repo.ListAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
