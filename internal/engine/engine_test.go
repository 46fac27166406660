package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/studiofit/logsync/internal/cache"
	"github.com/studiofit/logsync/internal/queue"
	"github.com/studiofit/logsync/internal/remote"
	"github.com/studiofit/logsync/internal/store"
	"github.com/studiofit/logsync/internal/worklog"
)

// fakeRemote implements remote.Client in memory for engine tests.
type fakeRemote struct {
	mu sync.Mutex

	createCalls []worklog.RemoteWorkoutLog
	createErr   func(call int) error // nil means every create succeeds
	nextID      int

	updateCalls []string
	updateErr   error
	deleteCalls []string
	deleteErr   error

	submitCalls []string
	submitErr   error

	fetchLogs []worklog.RemoteWorkoutLog
	fetchErr  error

	stats        json.RawMessage
	statsErr     error
	statsFetches int

	// createStarted and createRelease, when non-nil, gate CreateWorkoutLog so
	// a test can hold a pass in flight.
	createStarted chan struct{}
	createRelease chan struct{}
}

func (f *fakeRemote) CreateWorkoutLog(ctx context.Context, log worklog.RemoteWorkoutLog) (*remote.CreateResult, error) {
	if f.createStarted != nil {
		f.createStarted <- struct{}{}
		<-f.createRelease
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.createCalls)
	f.createCalls = append(f.createCalls, log)
	if f.createErr != nil {
		if err := f.createErr(call); err != nil {
			return nil, err
		}
	}

	f.nextID++
	return &remote.CreateResult{ServerID: fmt.Sprintf("srv-%d", f.nextID)}, nil
}

func (f *fakeRemote) UpdateWorkoutLog(ctx context.Context, serverID string, log worklog.RemoteWorkoutLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls = append(f.updateCalls, serverID)
	return f.updateErr
}

func (f *fakeRemote) DeleteWorkoutLog(ctx context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, serverID)
	return f.deleteErr
}

func (f *fakeRemote) FetchWorkoutLogs(ctx context.Context, userID string, limit int) ([]worklog.RemoteWorkoutLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchLogs, nil
}

func (f *fakeRemote) FetchAggregateStats(ctx context.Context, userID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsFetches++
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	if f.stats == nil {
		return json.RawMessage(`{}`), nil
	}
	return f.stats, nil
}

func (f *fakeRemote) Submit(ctx context.Context, operation, entityType string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls = append(f.submitCalls, entityType+"/"+operation)
	return f.submitErr
}

type testEnv struct {
	engine *Engine
	repo   *worklog.Repository
	queue  *queue.Queue
	cache  *cache.Cache
	remote *fakeRemote
	clock  *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	repo := worklog.NewRepository(st)
	q := queue.NewQueue(st)
	c := cache.New(st)
	fr := &fakeRemote{}
	clock := &fakeClock{now: time.Now()}

	eng := New(Config{
		Repo:   repo,
		Queue:  q,
		Cache:  c,
		Remote: fr,
		UserID: "user-1",
		Logger: log.New(io.Discard, "", 0),
		Clock:  clock.Now,
	})

	return &testEnv{engine: eng, repo: repo, queue: q, cache: c, remote: fr, clock: clock}
}

func saveLog(t *testing.T, env *testEnv) *worklog.Record {
	t.Helper()
	rec, err := env.repo.SaveLocally(context.Background(), "user-1", worklog.NewLogFields{
		WorkoutDate:     time.Now(),
		DurationMinutes: 45,
		WorkoutType:     "reformer",
		RPE:             7,
	})
	if err != nil {
		t.Fatalf("SaveLocally failed: %v", err)
	}
	return rec
}

func TestRunPassSyncsUnsyncedLogs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveLog(t, env)

	sum, err := env.engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if sum.Synced != 1 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want {Synced:1 Failed:0}", sum)
	}

	got, err := env.repo.GetByLocalID(ctx, rec.LocalID)
	if err != nil {
		t.Fatalf("GetByLocalID failed: %v", err)
	}
	if !got.Synced || got.ServerID == "" {
		t.Errorf("after pass: synced=%v server_id=%q", got.Synced, got.ServerID)
	}

	// The wire record carries the local id as the client ref.
	if len(env.remote.createCalls) != 1 {
		t.Fatalf("got %d create calls, want 1", len(env.remote.createCalls))
	}
	if env.remote.createCalls[0].ClientRef != rec.LocalID {
		t.Errorf("ClientRef = %q, want %q", env.remote.createCalls[0].ClientRef, rec.LocalID)
	}
}

func TestRunPassNoDoubleSubmit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	saveLog(t, env)

	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("first RunPass failed: %v", err)
	}
	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("second RunPass failed: %v", err)
	}

	if len(env.remote.createCalls) != 1 {
		t.Errorf("got %d create calls across two passes, want 1", len(env.remote.createCalls))
	}
}

func TestRunPassPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := saveLog(t, env)
	time.Sleep(time.Millisecond)
	second := saveLog(t, env)

	// The oldest record fails, the newer one succeeds; one failure must not
	// abort the rest of the pass.
	env.remote.createErr = func(call int) error {
		if call == 0 {
			return errors.New("connection reset")
		}
		return nil
	}

	sum, err := env.engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if sum.Synced != 1 || sum.Failed != 1 {
		t.Errorf("summary = %+v, want {Synced:1 Failed:1}", sum)
	}

	got, err := env.repo.GetByLocalID(ctx, first.LocalID)
	if err != nil {
		t.Fatalf("GetByLocalID failed: %v", err)
	}
	if got.Synced {
		t.Error("failed record must stay unsynced for the next pass")
	}

	got, err = env.repo.GetByLocalID(ctx, second.LocalID)
	if err != nil {
		t.Fatalf("GetByLocalID failed: %v", err)
	}
	if !got.Synced {
		t.Error("record after the failure should still have synced")
	}
}

func TestRunPassReplayedCreateAfterRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveLog(t, env)

	// The remote accepted an earlier create whose local write was lost, and
	// a cache refresh has already pulled the authoritative row down. The
	// resubmitted create dedupes on client_ref and returns the same id the
	// fake hands out first.
	if err := env.repo.CacheServerRecords(ctx, []worklog.RemoteWorkoutLog{{
		ID:              "srv-1",
		UserID:          "user-1",
		WorkoutDate:     rec.WorkoutDate,
		DurationMinutes: rec.DurationMinutes,
		WorkoutType:     rec.WorkoutType,
		RPE:             rec.RPE,
		CreatedAt:       time.Now(),
	}}); err != nil {
		t.Fatalf("CacheServerRecords failed: %v", err)
	}

	sum, err := env.engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if sum.Synced != 1 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want {Synced:1 Failed:0}", sum)
	}

	got, err := env.repo.GetByLocalID(ctx, rec.LocalID)
	if err != nil {
		t.Fatalf("GetByLocalID failed: %v", err)
	}
	if !got.Synced || got.ServerID != "srv-1" {
		t.Errorf("after pass: synced=%v server_id=%q", got.Synced, got.ServerID)
	}

	// One row, not a wedged duplicate; later passes have nothing left to do.
	records, err := env.repo.ListLocal(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("ListLocal failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d rows after the replayed create, want 1", len(records))
	}

	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("follow-up RunPass failed: %v", err)
	}
	if len(env.remote.createCalls) != 1 {
		t.Errorf("got %d create calls, want 1", len(env.remote.createCalls))
	}
}

func TestRunPassOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, saveLog(t, env).LocalID)
		time.Sleep(time.Millisecond)
	}

	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(env.remote.createCalls) != 3 {
		t.Fatalf("got %d create calls, want 3", len(env.remote.createCalls))
	}
	for i, call := range env.remote.createCalls {
		if call.ClientRef != ids[i] {
			t.Errorf("create %d was %s, want %s", i, call.ClientRef, ids[i])
		}
	}
}

func TestRunPassExclusive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	saveLog(t, env)

	env.remote.createStarted = make(chan struct{})
	env.remote.createRelease = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := env.engine.RunPass(ctx)
		done <- err
	}()

	// Wait until the first pass is mid-create, then try a second pass.
	<-env.remote.createStarted
	if _, err := env.engine.RunPass(ctx); !errors.Is(err, ErrPassInProgress) {
		t.Errorf("concurrent RunPass returned %v, want ErrPassInProgress", err)
	}

	close(env.remote.createRelease)
	if err := <-done; err != nil {
		t.Fatalf("first RunPass failed: %v", err)
	}

	// Once the pass finishes, the next trigger works again.
	env.remote.createStarted = nil
	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("RunPass after release failed: %v", err)
	}
}

func TestRunPassDispatchesQueuedDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.QueueDelete(ctx, "srv-9"); err != nil {
		t.Fatalf("QueueDelete failed: %v", err)
	}

	sum, err := env.engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if sum.Synced != 1 {
		t.Errorf("summary = %+v, want one synced item", sum)
	}

	if len(env.remote.deleteCalls) != 1 || env.remote.deleteCalls[0] != "srv-9" {
		t.Errorf("delete calls = %v, want [srv-9]", env.remote.deleteCalls)
	}

	items, err := env.queue.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("queue still has %d items after success", len(items))
	}
}

func TestRunPassQueueBackoff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.QueueDelete(ctx, "srv-9"); err != nil {
		t.Fatalf("QueueDelete failed: %v", err)
	}
	env.remote.deleteErr = errors.New("remote unavailable")

	sum, err := env.engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if sum.Failed != 1 {
		t.Errorf("summary = %+v, want one failure", sum)
	}

	// Inside the backoff window the item is skipped entirely.
	env.clock.Advance(2 * time.Second)
	sum, err = env.engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if sum.Failed != 0 || len(env.remote.deleteCalls) != 1 {
		t.Errorf("item attempted inside its backoff window: %+v, %d calls", sum, len(env.remote.deleteCalls))
	}

	// Past the window it is retried.
	env.clock.Advance(10 * time.Second)
	sum, err = env.engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if sum.Failed != 1 || len(env.remote.deleteCalls) != 2 {
		t.Errorf("item not retried after backoff: %+v, %d calls", sum, len(env.remote.deleteCalls))
	}
}

func TestRunPassDeadLettersExhaustedItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.QueueDelete(ctx, "srv-9"); err != nil {
		t.Fatalf("QueueDelete failed: %v", err)
	}
	env.remote.deleteErr = errors.New("remote unavailable")

	// Run enough passes, spacing the clock past every backoff window, to
	// exhaust the retry budget.
	for i := 0; i < queue.DefaultMaxRetries; i++ {
		if _, err := env.engine.RunPass(ctx); err != nil {
			t.Fatalf("RunPass %d failed: %v", i, err)
		}
		env.clock.Advance(2 * time.Minute)
	}

	if len(env.remote.deleteCalls) != queue.DefaultMaxRetries {
		t.Errorf("got %d attempts, want %d", len(env.remote.deleteCalls), queue.DefaultMaxRetries)
	}

	// The item is now dead: further passes never touch it, but it stays in
	// the table for diagnostics.
	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if len(env.remote.deleteCalls) != queue.DefaultMaxRetries {
		t.Error("dead-lettered item was attempted again")
	}

	dead, err := env.queue.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(dead) != 1 {
		t.Errorf("got %d dead letters, want 1", len(dead))
	}
}

func TestRunPassGenericSubmitFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No handler is registered for this entity type; the engine falls back
	// to the remote client's generic submit.
	payload := json.RawMessage(`{"entry_id":"n-1"}`)
	if _, err := env.queue.Enqueue(ctx, queue.OpCreate, "nutrition_entry", "n-1", payload); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	sum, err := env.engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if sum.Synced != 1 {
		t.Errorf("summary = %+v, want one synced item", sum)
	}
	if len(env.remote.submitCalls) != 1 || env.remote.submitCalls[0] != "nutrition_entry/create" {
		t.Errorf("submit calls = %v, want [nutrition_entry/create]", env.remote.submitCalls)
	}
}

func TestRunPassRegisteredHandlerWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var handled bool
	env.engine.Registry().Register("nutrition_entry", queue.OpCreate, func(ctx context.Context, item *queue.Item) error {
		handled = true
		return nil
	})

	if _, err := env.queue.Enqueue(ctx, queue.OpCreate, "nutrition_entry", "n-1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if !handled {
		t.Error("registered handler was not invoked")
	}
	if len(env.remote.submitCalls) != 0 {
		t.Errorf("generic submit used despite a registered handler: %v", env.remote.submitCalls)
	}
}

func TestRunPassRefreshesStatsOnlyAfterProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Nothing to sync: no stats fetch.
	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if env.remote.statsFetches != 0 {
		t.Errorf("stats fetched on an empty pass: %d", env.remote.statsFetches)
	}

	env.remote.stats = json.RawMessage(`{"total_workouts":3}`)
	saveLog(t, env)
	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if env.remote.statsFetches != 1 {
		t.Errorf("stats fetches = %d, want 1", env.remote.statsFetches)
	}

	got, err := env.engine.CachedStats(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CachedStats failed: %v", err)
	}
	if string(got) != `{"total_workouts":3}` {
		t.Errorf("CachedStats = %s", got)
	}
}

func TestRunPassStatsFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.statsErr = errors.New("stats endpoint down")
	saveLog(t, env)

	sum, err := env.engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass failed despite only the stats refresh failing: %v", err)
	}
	if sum.Synced != 1 {
		t.Errorf("summary = %+v, want one synced log", sum)
	}
}

func TestQueueUpdateDispatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.QueueUpdate(ctx, "srv-7", worklog.RemoteWorkoutLog{UserID: "user-1", RPE: 9}); err != nil {
		t.Fatalf("QueueUpdate failed: %v", err)
	}

	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(env.remote.updateCalls) != 1 || env.remote.updateCalls[0] != "srv-7" {
		t.Errorf("update calls = %v, want [srv-7]", env.remote.updateCalls)
	}
}

func TestClearCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.stats = json.RawMessage(`{"total_workouts":3}`)
	saveLog(t, env)
	if _, err := env.engine.RunPass(ctx); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	got, err := env.engine.CachedStats(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CachedStats failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cached snapshot before logout")
	}

	if err := env.engine.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}

	got, err = env.engine.CachedStats(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CachedStats failed: %v", err)
	}
	if got != nil {
		t.Errorf("cache survived logout: %s", got)
	}
}

func TestRefreshFromRemote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.fetchLogs = []worklog.RemoteWorkoutLog{
		{
			ID:              "srv-1",
			UserID:          "user-1",
			WorkoutDate:     time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC),
			DurationMinutes: 30,
			WorkoutType:     "mat",
			RPE:             5,
			CreatedAt:       time.Now(),
		},
	}

	if err := env.engine.RefreshFromRemote(ctx, 100); err != nil {
		t.Fatalf("RefreshFromRemote failed: %v", err)
	}

	records, err := env.repo.ListLocal(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("ListLocal failed: %v", err)
	}
	if len(records) != 1 || records[0].ServerID != "srv-1" || !records[0].Synced {
		t.Errorf("records after refresh = %+v", records)
	}

	// An explicit refresh also rewrites the stats snapshot.
	if env.remote.statsFetches != 1 {
		t.Errorf("stats fetches = %d, want 1", env.remote.statsFetches)
	}

	env.remote.fetchErr = errors.New("offline")
	if err := env.engine.RefreshFromRemote(ctx, 100); err == nil {
		t.Error("expected error when the fetch fails")
	}
}
