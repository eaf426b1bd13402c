package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSettleAll_CollectsEveryOutcome(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	boom := errors.New("boom")

	res := SettleAll(context.Background(), keys, 0, func(ctx context.Context, key string) (string, error) {
		if key == "b" || key == "d" {
			return "", boom
		}
		// A failure must not cancel slower siblings.
		time.Sleep(5 * time.Millisecond)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return key + "!", nil
	})

	assert.False(t, res.OK())
	assert.Equal(t, 5, res.Len())
	if assert.Len(t, res.Succeeded, 3) {
		assert.Equal(t, "a", res.Succeeded[0].Key)
		assert.Equal(t, "a!", res.Succeeded[0].Value)
		assert.Equal(t, "e", res.Succeeded[2].Key)
	}
	if assert.Len(t, res.Failed, 2) {
		assert.ErrorIs(t, res.Failed[0].Err, boom)
		assert.Equal(t, "d", res.Failed[1].Key)
	}
}

func TestSettleAll_Empty(t *testing.T) {
	res := SettleAll(context.Background(), nil, 0, func(context.Context, string) (int, error) {
		t.Fatal("must not be called")
		return 0, nil
	})
	assert.True(t, res.OK())
	assert.Zero(t, res.Len())
}

func TestSettleAll_RespectsLimit(t *testing.T) {
	var running, peak int32
	keys := make([]string, 12)
	for i := range keys {
		keys[i] = string(rune('a' + i))
	}

	res := SettleAll(context.Background(), keys, 3, func(context.Context, string) (struct{}, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return struct{}{}, nil
	})

	assert.True(t, res.OK())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}
