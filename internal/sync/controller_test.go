package sync

import (
	"context"
	"errors"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/miloview/miloview/internal/backup"
	"github.com/miloview/miloview/internal/bus"
	"github.com/miloview/miloview/internal/metrics"
	"github.com/miloview/miloview/internal/store"
	"github.com/miloview/miloview/internal/twilio"
	"go.uber.org/zap"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(sid, from, to, body, direction string, at time.Time) store.Message {
	return store.Message{
		SID: sid, From: from, To: to, Body: body,
		Status: "delivered", Direction: direction,
		DateSent: at, DateCreated: at,
	}
}

// fakeSource delivers canned pages and optionally fails afterwards.
type fakeSource struct {
	mu         stdsync.Mutex
	pages      [][]store.Message
	err        error
	lists      int
	lastFilter twilio.Filter
	block      chan struct{}
}

func (f *fakeSource) Demo() bool { return false }

func (f *fakeSource) List(_ context.Context, flt twilio.Filter, fn twilio.PageFunc) error {
	f.mu.Lock()
	f.lists++
	f.lastFilter = flt
	pages := f.pages
	block := f.block
	err := f.err
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	for _, p := range pages {
		cont, cbErr := fn(p)
		if cbErr != nil {
			return cbErr
		}
		if !cont {
			return nil
		}
	}
	return err
}

func (f *fakeSource) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func testController(t *testing.T, source twilio.Source, bk *backup.DB) (*Controller, *store.Cache, *bus.Bus) {
	t.Helper()
	cache := store.NewCache()
	b := bus.New()
	c := NewController(cache, source, bk, b, nil, metrics.New(), zap.NewNop())
	return c, cache, b
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func assertNoEvent(t *testing.T, ch <-chan bus.Event, kind string) {
	t.Helper()
	select {
	case evt := <-ch:
		if evt.Kind == kind {
			t.Fatalf("unexpected %s event: %#v", kind, evt.Payload)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullSyncWithDemoSource(t *testing.T) {
	c, cache, b := testController(t, twilio.NewDemoSource(), nil)
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	ran, err := c.Full(context.Background(), 0)
	if err != nil || !ran {
		t.Fatalf("Full() = %v, %v", ran, err)
	}
	if cache.Len() != 3 {
		t.Errorf("cache size = %d, want 3 demo messages", cache.Len())
	}
	// demo1 and demo2 share a counterpart, demo3 has its own.
	if cache.ConversationCount() != 2 {
		t.Errorf("conversations = %d, want 2", cache.ConversationCount())
	}

	evt := waitEvent(t, ch, bus.KindSyncFullComplete)
	p := evt.Payload.(bus.FullCompletePayload)
	if p.TotalMessages != 3 {
		t.Errorf("event total = %d, want 3", p.TotalMessages)
	}
	if c.Status().LastSync.IsZero() {
		t.Error("LastSync not recorded")
	}
}

func TestIncrementalMergesNewMessages(t *testing.T) {
	src := &fakeSource{pages: [][]store.Message{{
		msg("m1", "+55119", "+me", "hello", store.DirectionInbound, base),
	}}}
	c, cache, b := testController(t, src, nil)
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	added, err := c.Incremental(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 || cache.Len() != 1 {
		t.Errorf("added = %d, cache = %d; want 1, 1", added, cache.Len())
	}

	evt := waitEvent(t, ch, bus.KindSyncNewMessages)
	p := evt.Payload.(bus.NewMessagesPayload)
	if p.Count != 1 || p.TotalMessages != 1 {
		t.Errorf("payload = %+v", p)
	}
}

func TestIncrementalUsesMaxCachedTimestamp(t *testing.T) {
	src := &fakeSource{}
	c, cache, _ := testController(t, src, nil)
	cache.Merge([]store.Message{
		msg("m1", "+a", "+me", "old", store.DirectionInbound, base),
		msg("m2", "+a", "+me", "new", store.DirectionInbound, base.Add(time.Hour)),
	})

	if _, err := c.Incremental(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !src.lastFilter.SentAfter.Equal(base.Add(time.Hour)) {
		t.Errorf("SentAfter = %v, want max cached effective time", src.lastFilter.SentAfter)
	}
}

func TestIncrementalDuplicateEmitsNothing(t *testing.T) {
	dup := msg("m1", "+55119", "+me", "hello", store.DirectionInbound, base)
	src := &fakeSource{pages: [][]store.Message{{dup}}}
	c, cache, b := testController(t, src, nil)
	cache.Merge([]store.Message{dup})

	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	before := c.Status().LastSync
	added, err := c.Incremental(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 || cache.Len() != 1 {
		t.Errorf("added = %d, cache = %d; want 0, 1", added, cache.Len())
	}
	assertNoEvent(t, ch, bus.KindSyncNewMessages)

	st := c.Status()
	if !st.LastSync.Equal(before) {
		t.Error("zero-new incremental must not bump LastSync")
	}
	if st.LastAttempt.IsZero() {
		t.Error("attempt should still be recorded")
	}
}

func TestConcurrentSyncsRunExactlyOne(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{block: release}
	c, _, _ := testController(t, src, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Full(context.Background(), 0)
		done <- err
	}()

	// Wait until the first sync is inside the gate.
	for !c.Status().InProgress {
		time.Sleep(time.Millisecond)
	}

	ran, err := c.Full(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Error("second Full() should be a no-op while one is in flight")
	}
	if added, err := c.Incremental(context.Background()); added != 0 || err != nil {
		t.Errorf("concurrent Incremental() = %d, %v; want 0, nil", added, err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if src.listCount() != 1 {
		t.Errorf("source listed %d times, want 1", src.listCount())
	}
}

func TestIncrementalPartialFailureRetainsMergedPages(t *testing.T) {
	boom := errors.New("upstream exploded")
	src := &fakeSource{
		pages: [][]store.Message{{msg("m1", "+a", "+me", "kept", store.DirectionInbound, base)}},
		err:   boom,
	}
	c, cache, _ := testController(t, src, nil)

	added, err := c.Incremental(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped upstream error", err)
	}
	if added != 1 || cache.Len() != 1 {
		t.Errorf("added = %d, cache = %d; merged pages must stand", added, cache.Len())
	}
}

func TestFullFirstPageFailureKeepsCache(t *testing.T) {
	src := &fakeSource{err: errors.New("down")}
	c, cache, _ := testController(t, src, nil)
	cache.Merge([]store.Message{msg("m1", "+a", "+me", "precious", store.DirectionInbound, base)})

	ran, err := c.Full(context.Background(), 0)
	if err == nil || !ran {
		t.Fatalf("Full() = %v, %v; want ran with error", ran, err)
	}
	if cache.Len() != 1 {
		t.Errorf("cache = %d, want prior contents untouched", cache.Len())
	}
}

func testBackup(t *testing.T) *backup.DB {
	t.Helper()
	db, err := backup.Open(filepath.Join(t.TempDir(), "backup.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRestoreFromBackup(t *testing.T) {
	bk := testBackup(t)
	if err := bk.SaveAll([]store.Message{
		msg("m1", "+a", "+me", "restored", store.DirectionInbound, base),
	}); err != nil {
		t.Fatal(err)
	}

	c, cache, _ := testController(t, &fakeSource{}, bk)
	n, err := c.RestoreFromBackup()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || cache.Len() != 1 {
		t.Errorf("restored = %d, cache = %d; want 1, 1", n, cache.Len())
	}
	if cache.ConversationCount() != 1 {
		t.Errorf("conversations = %d, want 1", cache.ConversationCount())
	}
}

func TestClearAndResync(t *testing.T) {
	bk := testBackup(t)
	c, cache, b := testController(t, twilio.NewDemoSource(), bk)

	cache.Merge([]store.Message{msg("stale", "+a", "+me", "old", store.DirectionInbound, base)})
	if err := bk.SaveAll(cache.Snapshot()); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	c.ClearAndResync(0)
	waitEvent(t, ch, bus.KindSyncFullComplete)

	if _, ok := cache.MessageBySID("stale"); ok {
		t.Error("stale message survived the clear")
	}
	if cache.Len() != 3 {
		t.Errorf("cache = %d, want the 3 demo messages", cache.Len())
	}
}

func TestSyncIfEmptyIsAsync(t *testing.T) {
	c, cache, b := testController(t, twilio.NewDemoSource(), nil)
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	c.SyncIfEmpty(0)
	waitEvent(t, ch, bus.KindSyncFullComplete)
	if cache.Len() != 3 {
		t.Errorf("cache = %d after background sync, want 3", cache.Len())
	}

	// Non-empty cache: nothing to do.
	lists := c.Status().LastSync
	c.SyncIfEmpty(0)
	time.Sleep(20 * time.Millisecond)
	if !c.Status().LastSync.Equal(lists) {
		t.Error("SyncIfEmpty on a populated cache should be a no-op")
	}
}

func TestSchedulerTriggersIncremental(t *testing.T) {
	src := &fakeSource{pages: [][]store.Message{{
		msg("m1", "+a", "+me", "tick", store.DirectionInbound, base),
	}}}
	c, _, b := testController(t, src, nil)
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	s := NewScheduler(c, 10*time.Millisecond, 0, 0, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	waitEvent(t, ch, bus.KindSyncNewMessages)
	if src.listCount() == 0 {
		t.Error("scheduler never listed the source")
	}
}
