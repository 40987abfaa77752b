package writer

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratchRingCopyAndFree(t *testing.T) {
	s, err := newScratchRing()
	require.NoError(t, err)
	defer s.Close()

	full := s.Free()
	s.Copy([]byte("hello"))
	assert.Equal(t, full-5, s.Free())
}

func TestScratchRingAdvanceWritesAndDrains(t *testing.T) {
	s, err := newScratchRing()
	require.NoError(t, err)
	defer s.Close()

	f, err := os.CreateTemp(t.TempDir(), "scratch")
	require.NoError(t, err)
	defer f.Close()

	ctx := context.Background()
	payload := []byte("0123456789")
	s.Copy(payload)

	n, err := s.Advance(ctx, f, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the first Advance only issues the write, it has nothing to reap yet")

	total, err := s.Drain(ctx, f, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), total)

	got := make([]byte, len(payload))
	_, err = f.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.Equal(t, 0, s.waiting)
	assert.Equal(t, 0, s.enqueued)
	assert.False(t, s.aw.Pending())
}

func TestScratchRingAdvanceReapsPriorWriteBeforeIssuingNext(t *testing.T) {
	s, err := newScratchRing()
	require.NoError(t, err)
	defer s.Close()

	f, err := os.CreateTemp(t.TempDir(), "scratch")
	require.NoError(t, err)
	defer f.Close()

	ctx := context.Background()
	s.Copy([]byte("first-chunk"))
	_, err = s.Advance(ctx, f, 0, false)
	require.NoError(t, err)
	require.True(t, s.aw.Pending())

	s.Copy([]byte("second-chunk"))

	n, err := s.Advance(ctx, f, 0, true)
	require.NoError(t, err)
	assert.Equal(t, len("first-chunk"), n)
	assert.True(t, s.aw.Pending(), "the second chunk's write should now be in flight")

	total, err := s.Drain(ctx, f, 0)
	require.NoError(t, err)
	assert.Equal(t, len("second-chunk"), total)
}

func TestScratchRingCopyWrapsAroundRing(t *testing.T) {
	s, err := newScratchRing()
	require.NoError(t, err)
	defer s.Close()

	s.cur = len(s.buf) - 3
	s.Copy([]byte("abcdef"))

	assert.Equal(t, "abc", string(s.buf[len(s.buf)-3:]))
	assert.Equal(t, "def", string(s.buf[:3]))
	assert.Equal(t, 3, s.cur)
	assert.Equal(t, 6, s.waiting)
}

func TestAsyncWriterSubmitPollForce(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "async")
	require.NoError(t, err)
	defer f.Close()

	a := newAsyncWriter()
	assert.False(t, a.Pending())

	a.Submit(f, 0, []byte("payload"))
	assert.True(t, a.Pending())

	res, err := a.Force(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len("payload"), res.n)
	assert.False(t, a.Pending())
}
