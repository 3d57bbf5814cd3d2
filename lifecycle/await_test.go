package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAwait(t *testing.T) {
	calls := 0
	ready := Await(func() bool {
		calls++
		return calls == 3
	}, 5, time.Millisecond)
	require.True(t, ready)
	require.Equal(t, 3, calls)

	calls = 0
	ready = Await(func() bool {
		calls++
		return false
	}, 2, time.Millisecond)
	require.False(t, ready)
	require.Equal(t, 3, calls)
}
