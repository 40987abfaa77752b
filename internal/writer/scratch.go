package writer

import (
	"context"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"
)

// scratchSize is the size of the anonymous-mapping scratch ring each
// write job gets, per spec.md §4.F ("≈15 MiB").
const scratchSize = 15 << 20

// asyncResult is what a background write reports back.
type asyncResult struct {
	n   int
	err error
}

// asyncWriter is the submit/poll/force-to-completion abstraction
// SPEC_FULL.md calls for: a goroutine running a single blocking
// WriteAt stands in for POSIX AIO, which portable Go has no access to.
type asyncWriter struct {
	resultC chan asyncResult
	pending bool
}

func newAsyncWriter() *asyncWriter {
	return &asyncWriter{resultC: make(chan asyncResult, 1)}
}

func (a *asyncWriter) Pending() bool { return a.pending }

// Submit starts a write of p at offset off and returns immediately.
func (a *asyncWriter) Submit(f *os.File, off int64, p []byte) {
	a.pending = true
	go func() {
		n, err := f.WriteAt(p, off)
		a.resultC <- asyncResult{n: n, err: err}
	}()
}

// Poll returns the result of the in-flight write without blocking, if
// it has completed.
func (a *asyncWriter) Poll() (asyncResult, bool) {
	select {
	case res := <-a.resultC:
		a.pending = false
		return res, true
	default:
		return asyncResult{}, false
	}
}

// Force blocks, retrying with capped exponential backoff, until the
// in-flight write completes or ctx is canceled. It is the substitute
// for aio_suspend's blocking wait.
func (a *asyncWriter) Force(ctx context.Context) (asyncResult, error) {
	return backoff.Retry(ctx, func() (asyncResult, error) {
		res, ok := a.Poll()
		if !ok {
			return asyncResult{}, fmt.Errorf("writer: async write still in flight")
		}
		return res, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

// scratchRing is the ≈15 MiB anonymous-mapped buffer spec.md §4.F
// describes: frames are copied in at cur, and a background write
// drains completed regions starting at tail. waiting counts bytes
// copied since the last write was issued; enqueued counts bytes in
// that in-flight write.
type scratchRing struct {
	buf      []byte
	tail     int
	cur      int
	waiting  int
	enqueued int
	aw       *asyncWriter
}

func newScratchRing() (*scratchRing, error) {
	buf, err := unix.Mmap(-1, 0, scratchSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("writer: mmap scratch ring: %w", err)
	}
	return &scratchRing{buf: buf, aw: newAsyncWriter()}, nil
}

func (s *scratchRing) Close() error {
	return unix.Munmap(s.buf)
}

// Free reports how many bytes remain before the ring would overwrite
// data not yet durably written.
func (s *scratchRing) Free() int {
	return len(s.buf) - s.waiting - s.enqueued
}

// Copy appends data at cur, wrapping and splitting into at most two
// runs as needed. The caller must have ensured Free() >= len(data).
func (s *scratchRing) Copy(data []byte) {
	n := len(data)
	cap := len(s.buf)
	end := s.cur + n
	if end <= cap {
		copy(s.buf[s.cur:end], data)
		s.cur = end % cap
	} else {
		first := cap - s.cur
		copy(s.buf[s.cur:], data[:first])
		copy(s.buf[:n-first], data[first:])
		s.cur = n - first
	}
	s.waiting += n
}

// nextRegion returns the contiguous byte range ready to hand to the
// next async write: from just past the in-flight write's end, up to
// cur (or to the ring's end first, if cur has wrapped around).
func (s *scratchRing) nextRegion() (region []byte, start int) {
	cap := len(s.buf)
	start = (s.tail + s.enqueued) % cap
	if s.cur >= start {
		return s.buf[start:s.cur], start
	}
	return s.buf[start:cap], start
}

// Advance reaps a finished async write (or, if force is true, blocks
// until the in-flight one finishes) and issues the next contiguous
// region as a new async write. It returns the number of bytes durably
// written by the write it just reaped, if any.
func (s *scratchRing) Advance(ctx context.Context, f *os.File, baseOffset int64, force bool) (written int, err error) {
	if s.aw.Pending() {
		var res asyncResult
		var ok bool
		if force {
			res, err = s.aw.Force(ctx)
			if err != nil {
				return 0, err
			}
			ok = true
		} else {
			res, ok = s.aw.Poll()
		}
		if !ok {
			return 0, nil
		}
		if res.err != nil {
			return 0, fmt.Errorf("writer: async write failed: %w", res.err)
		}
		if res.n != s.enqueued {
			return 0, fmt.Errorf("writer: partial async write (%d of %d bytes)", res.n, s.enqueued)
		}
		written = res.n
		s.tail = (s.tail + s.enqueued) % len(s.buf)
		s.enqueued = 0
	}

	if s.waiting == 0 || s.aw.Pending() {
		return written, nil
	}
	region, start := s.nextRegion()
	if len(region) == 0 {
		return written, nil
	}
	s.aw.Submit(f, baseOffset+int64(start), region)
	s.enqueued = len(region)
	s.waiting -= len(region)
	return written, nil
}

// Drain blocks until every byte copied into the ring has been issued
// and durably written, used when a job is finalizing.
func (s *scratchRing) Drain(ctx context.Context, f *os.File, baseOffset int64) (total int, err error) {
	for s.waiting > 0 || s.enqueued > 0 || s.aw.Pending() {
		n, err := s.Advance(ctx, f, baseOffset, true)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 && s.waiting == 0 && s.enqueued == 0 && !s.aw.Pending() {
			break
		}
	}
	return total, nil
}
