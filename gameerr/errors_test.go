package gameerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{ErrRoomNotFound, KindNotFound},
		{fmt.Errorf("join: %w", ErrRoomFull), KindConflict},
		{ErrNicknameTaken, KindConflict},
		{ErrNotHost, KindNotAuthorized},
		{ErrInvalidSettings, KindInvalid},
		{Transient(errors.New("redis: connection refused")), KindTransient},
		{SupplyUnavailable(errors.New("no rows")), KindSupplyUnavailable},
		{errors.New("boom"), KindInternal},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, KindOf(c.err), "error %v", c.err)
	}
}

func TestTransient_DoesNotDoubleWrap(t *testing.T) {
	base := errors.New("timeout")
	once := Transient(base)
	twice := Transient(once)

	assert.Same(t, once, twice)
	assert.ErrorIs(t, twice, base)
	assert.Nil(t, Transient(nil))
}
