package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/internal/store"
)

// fakeClock is a settable clock in epoch milliseconds.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(ms int64) *fakeClock {
	return &fakeClock{now: time.UnixMilli(ms)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(ms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = time.UnixMilli(ms)
}

// fakeID hands out sess-1, sess-2, ...
type fakeID struct {
	n atomic.Int64
}

func (f *fakeID) NewID() string {
	return fmt.Sprintf("sess-%d", f.n.Add(1))
}

// slowStore delays reads so concurrent read-modify-write cycles would interleave
// if nothing serialized them, and counts how many writes created a session.
type slowStore struct {
	store.Store
	delay    time.Duration
	mu       sync.Mutex
	creates  int
	failSets bool
}

func (s *slowStore) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	time.Sleep(s.delay)
	return s.Store.Get(ctx, keys...)
}

func (s *slowStore) Set(ctx context.Context, values map[string][]byte) error {
	if s.failSets {
		return errors.New("disk full")
	}
	if v, ok := values[KeyCurrentSession]; ok && string(v) != "null" {
		prev, err := s.Store.Get(ctx, KeyCurrentSession)
		if err != nil {
			return err
		}
		if p, had := prev[KeyCurrentSession]; !had || string(p) == "null" {
			s.mu.Lock()
			s.creates++
			s.mu.Unlock()
		}
	}
	return s.Store.Set(ctx, values)
}

func (s *slowStore) sessionCreates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

type fixture struct {
	store    store.Store
	state    *StateRepository
	serial   *Serializer
	clock    *fakeClock
	ids      *fakeID
	manager  *Manager
	reporter *Reporter
	watchdog *Watchdog
}

func newFixture(t *testing.T, s store.Store) *fixture {
	t.Helper()
	if s == nil {
		s = store.NewMemory()
	}
	f := &fixture{
		store:  s,
		state:  NewStateRepository(s),
		serial: NewSerializer(nil),
		clock:  newFakeClock(0),
		ids:    &fakeID{},
	}
	f.manager = NewManager(f.state, f.serial, f.clock, f.ids, nil)
	f.reporter = NewReporter(f.state, f.clock, time.UTC)
	f.watchdog = NewWatchdog(f.state, f.serial, f.manager, nil)
	t.Cleanup(f.serial.Close)
	return f
}

func (f *fixture) signal(t *testing.T, at int64, status string, platform models.Platform, tab int) SignalResult {
	t.Helper()
	f.clock.Set(at)
	res, err := f.manager.OnActivitySignal(context.Background(), Signal{Status: status, Platform: platform, TabID: tab})
	require.NoError(t, err)
	return res
}

func (f *fixture) video(t *testing.T, at int64, title string) {
	t.Helper()
	f.clock.Set(at)
	require.NoError(t, f.manager.OnVideoChanged(context.Background(), title))
}

func (f *fixture) finalize(t *testing.T, at int64) {
	t.Helper()
	f.clock.Set(at)
	require.NoError(t, f.manager.Finalize(context.Background()))
}

func (f *fixture) snapshot(t *testing.T) State {
	t.Helper()
	st, err := f.state.Snapshot(context.Background())
	require.NoError(t, err)
	return st
}
