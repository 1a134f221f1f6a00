package storage

import (
	"context"
	"github.com/jd3nn1s/dashlog/record"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func rec(stamp int64) record.Record {
	codec, _ := record.NewCodec(nil)
	r, _ := codec.Encode(record.KindEngine, stamp, float64(stamp%8000))
	return r
}

func stamps(recs []record.Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.Stamp()
	}
	return out
}

func TestPacketBuffer(t *testing.T) {
	b := NewPacketBuffer(3)
	assert.False(t, b.Append(rec(1)))
	assert.False(t, b.Append(rec(2)))
	assert.Equal(t, []int64{1, 2}, stamps(b.Peek(0)))

	b.Consume(1)
	assert.False(t, b.Append(rec(3)))
	assert.False(t, b.Append(rec(4)))
	// wrapped around the end of the ring
	assert.Equal(t, []int64{2, 3, 4}, stamps(b.Peek(0)))
	assert.Equal(t, []int64{2, 3}, stamps(b.Peek(2)))

	assert.True(t, b.Append(rec(5)))
	assert.Equal(t, uint64(1), b.Evicted())
	assert.Equal(t, []int64{3, 4, 5}, stamps(b.Peek(0)))
	assert.Equal(t, 3, b.Pending())

	b.Consume(10)
	assert.Equal(t, 0, b.Pending())
	assert.Empty(t, b.Peek(0))
	assert.Equal(t, 3, b.Cap())
}

func TestSegmentStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s, err := NewSegmentStore(dir, 0, 0)
	require.NoError(t, err)
	s.now = func() time.Time {
		return time.Date(2026, 10, 17, 9, 5, 7, 0, time.UTC)
	}

	require.NoError(t, s.Write([]record.Record{rec(1), rec(2)}))
	require.NoError(t, s.Write([]record.Record{rec(3)}))
	require.NoError(t, s.Close())

	names, err := s.Segments()
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Regexp(t, `^dat\.20261017\.090507\.[0-9a-f]{8}$`, names[0])

	f, err := os.Open(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	defer f.Close()
	r := record.NewReader(f)
	var got []int64
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		got = append(got, rec.Stamp())
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestSegmentRotation(t *testing.T) {
	s, err := NewSegmentStore(t.TempDir(), 2*record.Size, time.Minute)
	require.NoError(t, err)
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		return now
	}

	require.NoError(t, s.Write([]record.Record{rec(1), rec(2)}))
	first := s.Active()
	// full by size
	require.NoError(t, s.Write([]record.Record{rec(3)}))
	second := s.Active()
	assert.NotEqual(t, first, second)

	// too old
	now = now.Add(time.Minute)
	require.NoError(t, s.Write([]record.Record{rec(4)}))
	assert.NotEqual(t, second, s.Active())

	names, err := s.Segments()
	require.NoError(t, err)
	assert.Len(t, names, 3)
	require.NoError(t, s.Close())
}

func TestSegmentRepair(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dat.20261017.090000.00000001")
	data := make([]byte, 2*record.Size+7)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := NewSegmentStore(dir, 0, 0)
	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*record.Size), fi.Size())
}

// failingFile fails the writes it is told to, leaving half a record behind
// the way a full disk does.
type failingFile struct {
	File
	failWrite bool
	failSync  bool
}

func (f *failingFile) Write(p []byte) (int, error) {
	if f.failWrite {
		n, _ := f.File.Write(p[:len(p)/2+1])
		return n, errors.New("no space left on device")
	}
	return f.File.Write(p)
}

func (f *failingFile) Sync() error {
	if f.failSync {
		return errors.New("input/output error")
	}
	return f.File.Sync()
}

func TestSegmentRollback(t *testing.T) {
	dir := t.TempDir()
	ff := &failingFile{}
	origCreateFile := createFile
	createFile = func(path string) (File, error) {
		f, err := origCreateFile(path)
		ff.File = f
		return ff, err
	}
	defer func() {
		createFile = origCreateFile
	}()

	s, err := NewSegmentStore(dir, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s.Write([]record.Record{rec(1)}))

	ff.failWrite = true
	assert.Error(t, s.Write([]record.Record{rec(2), rec(3)}))
	ff.failWrite = false
	ff.failSync = true
	assert.Error(t, s.Write([]record.Record{rec(4)}))
	ff.failSync = false
	require.NoError(t, s.Write([]record.Record{rec(2), rec(3)}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, s.Active()))
	require.NoError(t, err)
	assert.Len(t, data, 3*record.Size)
}

// storeStub fails the flushes listed in fail, counted from 1.
type storeStub struct {
	mu      sync.Mutex
	fail    map[int]bool
	calls   int
	written []record.Record
	closed  bool
}

func (s *storeStub) Write(recs []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail[s.calls] {
		return errors.New("write failed")
	}
	s.written = append(s.written, recs...)
	return nil
}

func (s *storeStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *storeStub) snapshot() (calls int, written []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, stamps(s.written)
}

func testConfig() Config {
	return Config{
		Capacity:       100,
		FlushInterval:  time.Hour,
		FlushThreshold: 3,
		RetryBackoff:   time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}
}

func TestSinkFlushFailure(t *testing.T) {
	store := &storeStub{fail: map[int]bool{2: true}}
	var statusMu sync.Mutex
	var statuses []Status
	sink := NewSink(testConfig(), store, func(st Status) {
		statusMu.Lock()
		statuses = append(statuses, st)
		statusMu.Unlock()
	})

	in := make(chan record.Record)
	done := make(chan struct{})
	go func() {
		assert.NoError(t, sink.Run(context.Background(), in))
		close(done)
	}()

	var want []int64
	for i := int64(1); i <= 12; i++ {
		in <- rec(i)
		want = append(want, i)
		// give the retry backoff a chance to pass now and then
		if i%3 == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	close(in)
	<-done

	calls, written := store.snapshot()
	// the second flush failed, its records went out with a later one
	assert.Greater(t, calls, 2)
	assert.Equal(t, want, written)
	assert.True(t, store.closed)
	assert.Equal(t, 0, sink.Pending())

	statusMu.Lock()
	defer statusMu.Unlock()
	failed := false
	for _, st := range statuses {
		failed = failed || st.Failing
	}
	assert.True(t, failed)
	assert.False(t, statuses[len(statuses)-1].Failing)
	assert.True(t, statuses[len(statuses)-1].Synced)
}

func TestSinkEvictsPastCapacity(t *testing.T) {
	store := &storeStub{fail: map[int]bool{1: true, 2: true}}
	cfg := testConfig()
	cfg.Capacity = 4
	cfg.FlushThreshold = 2
	cfg.RetryBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	sink := NewSink(cfg, store, nil)

	in := make(chan record.Record)
	done := make(chan struct{})
	go func() {
		_ = sink.Run(context.Background(), in)
		close(done)
	}()
	for i := int64(1); i <= 10; i++ {
		in <- rec(i)
	}
	close(in)
	<-done

	// one failure, then backoff holds further attempts until the final flush
	calls, written := store.snapshot()
	assert.Equal(t, 2, calls)
	assert.Empty(t, written)
	assert.Equal(t, uint64(6), sink.Evicted())
	assert.Equal(t, 4, sink.Pending())
}

func TestSinkFlushInterval(t *testing.T) {
	store := &storeStub{}
	cfg := testConfig()
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.FlushThreshold = 1000
	sink := NewSink(cfg, store, nil)

	in := make(chan record.Record)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sink.Run(ctx, in)
		close(done)
	}()
	in <- rec(1)
	assert.Eventually(t, func() bool {
		_, written := store.snapshot()
		return len(written) == 1
	}, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestSinkShutdownFlush(t *testing.T) {
	origGrace := shutdownGrace
	shutdownGrace = 10 * time.Millisecond
	defer func() {
		shutdownGrace = origGrace
	}()

	store := &storeStub{}
	sink := NewSink(testConfig(), store, nil)
	in := make(chan record.Record, 4)
	in <- rec(1)
	in <- rec(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nobody closes in: the grace period ends the drain
	require.NoError(t, sink.Run(ctx, in))
	_, written := store.snapshot()
	assert.Equal(t, []int64{1, 2}, written)
	assert.True(t, store.closed)
}
