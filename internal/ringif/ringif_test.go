package ringif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tes-daq/tesfcd/internal/nic/simnic"
)

func newFixture(n int) (Manager, *simnic.Ring) {
	ring := simnic.NewRing(n, 64)
	h := simnic.NewHandle(ring)
	return New(h), ring
}

func TestCompareIDsSameSide(t *testing.T) {
	m, ring := newFixture(16)
	ring.SetHead(4)

	// Both a, b >= head: smaller wins.
	assert.Equal(t, -1, m.CompareIDs(0, 5, 10))
	assert.Equal(t, 1, m.CompareIDs(0, 10, 5))
	assert.Equal(t, 0, m.CompareIDs(0, 5, 5))
}

func TestCompareIDsStraddlingHead(t *testing.T) {
	m, ring := newFixture(16)
	ring.SetHead(10)

	// a=2 (< head, wrapped), b=12 (>= head): the wrapped slot is
	// farther from head in the forward direction, so a is "later".
	assert.Equal(t, 1, m.CompareIDs(0, 2, 12))
	assert.Equal(t, -1, m.CompareIDs(0, 12, 2))
}

func TestEarlierLaterID(t *testing.T) {
	m, ring := newFixture(16)
	ring.SetHead(0)

	assert.EqualValues(t, 3, m.EarlierID(0, 3, 7))
	assert.EqualValues(t, 7, m.LaterID(0, 3, 7))
}

func TestBufAtOutsideWindowReturnsSentinel(t *testing.T) {
	m, ring := newFixture(8)
	ring.Produce([]byte("hello"))
	ring.SetHead(0)
	ring.SetCur(0)

	// tail is now 1; idx 1 is not in [head, tail).
	assert.Nil(t, m.BufAt(0, 1))
	assert.EqualValues(t, 0, m.LenAt(0, 1))

	assert.Equal(t, "hello", string(m.BufAt(0, 0)[:5]))
	assert.EqualValues(t, 5, m.LenAt(0, 0))
}

func TestSetHeadToRefusesPastCur(t *testing.T) {
	m, ring := newFixture(8)
	for i := 0; i < 4; i++ {
		ring.Produce([]byte{byte(i)})
	}
	ring.SetCur(2)

	require.NoError(t, m.SetHeadTo(0, 2))
	assert.Error(t, m.SetHeadTo(0, 3))
}

func TestAdvanceHeadAndSetHeadToTail(t *testing.T) {
	m, ring := newFixture(8)
	for i := 0; i < 4; i++ {
		ring.Produce([]byte{byte(i)})
	}
	ring.SetCur(4)

	require.NoError(t, m.AdvanceHead(0, 2))
	assert.EqualValues(t, 2, m.Head(0))

	m.SetHeadToTail(0)
	assert.EqualValues(t, ring.Tail(), m.Head(0))
}

func TestSetHeadNext(t *testing.T) {
	m, ring := newFixture(8)
	ring.Produce([]byte{0})
	ring.SetCur(1)

	require.NoError(t, m.SetHeadNext(0))
	assert.EqualValues(t, 1, m.Head(0))
}
