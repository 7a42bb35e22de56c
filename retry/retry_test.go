package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wfunc/wordquiz/gameerr"
)

var fast = Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	retries := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		if calls < 3 {
			return gameerr.Transient(errors.New("redis down"))
		}
		return nil
	}, func(error, time.Duration) { retries++ })

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		return gameerr.ErrRoomFull
	})

	assert.ErrorIs(t, err, gameerr.ErrRoomFull)
	assert.Equal(t, 1, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		return gameerr.Transient(errors.New("timeout"))
	})

	assert.ErrorIs(t, err, gameerr.ErrTransient)
	assert.Equal(t, fast.MaxAttempts, calls)
}

func TestValue(t *testing.T) {
	n, err := Value(context.Background(), fast, func() (int, error) { return 42, nil })
	assert.NoError(t, err)
	assert.Equal(t, 42, n)
}
