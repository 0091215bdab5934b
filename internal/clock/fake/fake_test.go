package fake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdvanceRunsDueTimersInOrder(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	var order []int
	clk.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	clk.AfterFunc(time.Second, func() { order = append(order, 1) })
	clk.AfterFunc(time.Hour, func() { order = append(order, 3) })

	clk.Advance(5 * time.Second)
	require.Equal(t, []int{1, 2}, order)
	require.Equal(t, 1, clk.Pending())
	require.Equal(t, time.Unix(5, 0), clk.Now())
}

func TestStoppedTimerNeverFires(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	tm := clk.AfterFunc(time.Second, func() { t.Error("fired") })
	require.True(t, tm.Stop())
	require.False(t, tm.Stop())
	clk.Advance(time.Minute)
	require.Zero(t, clk.Pending())
}
