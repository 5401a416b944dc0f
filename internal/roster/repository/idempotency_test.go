package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/tripcoord/internal/roster/domain"
	"github.com/example/tripcoord/internal/roster/repository"
)

func TestIdempotencyRepos(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repos := map[string]domain.IdempotencyRepository{
		"memory": repository.NewMemoryIdempotencyRepo(),
		"redis":  repository.NewRedisIdempotencyRepo(client, "", time.Minute),
	}
	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := repo.GetResponse(ctx, "k1")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, repo.PutResponse(ctx, "k1", []byte("first")))
			require.NoError(t, repo.PutResponse(ctx, "k1", []byte("second")))

			got, ok, err := repo.GetResponse(ctx, "k1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "first", string(got))
		})
	}
}

func TestRedisIdempotencyExpires(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := repository.NewRedisIdempotencyRepo(client, "test:", time.Minute)
	ctx := context.Background()
	require.NoError(t, repo.PutResponse(ctx, "k", []byte("v")))
	require.True(t, mr.Exists("test:k"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := repo.GetResponse(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
