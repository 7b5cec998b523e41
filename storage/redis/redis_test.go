package redis

import (
	"context"
	"testing"

	"github.com/fluxgate/fluxgate/storage"
	"github.com/fluxgate/fluxgate/storage/storagetest"
	"github.com/google/uuid"
)

func TestRedisStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		// Unique prefix per test so suites do not see each other's keys.
		s, err := New(Config{KeyPrefix: "fluxgate:test:" + uuid.NewString() + ":"})
		if err != nil {
			t.Skipf("skipping redis storage tests: %v", err)
		}
		t.Cleanup(func() {
			keys, _ := s.client.Keys(context.Background(), s.keyPrefix+"*").Result()
			if len(keys) > 0 {
				s.client.Del(context.Background(), keys...)
			}
		})
		return s
	})
}
