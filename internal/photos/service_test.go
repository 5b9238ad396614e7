package photos_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maneesh/photomenu/internal/index"
	"github.com/maneesh/photomenu/internal/models"
	"github.com/maneesh/photomenu/internal/photos"
	"github.com/maneesh/photomenu/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// stepClock returns ms, then advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	ms   int64
	step int64
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := time.UnixMilli(c.ms)
	c.ms += c.step
	return t
}

// faultKV wraps a MemoryKV and fails reads or writes on demand.
type faultKV struct {
	*storage.MemoryKV
	mu      sync.Mutex
	failGet error
	failSet error
}

func (f *faultKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	err := f.failGet
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.MemoryKV.Get(ctx, key)
}

func (f *faultKV) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	err := f.failSet
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func (f *faultKV) setFailures(get, set error) {
	f.mu.Lock()
	f.failGet, f.failSet = get, set
	f.mu.Unlock()
}

type testEnv struct {
	svc   *photos.Service
	blobs *storage.FileSystem
	kv    *faultKV
	idx   *index.Index
	dir   string
}

func newTestEnv(t *testing.T, clock *stepClock, opts ...photos.Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	blobs, err := storage.NewFileSystem(filepath.Join(dir, "app", "photos"))
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}
	kv := &faultKV{MemoryKV: storage.NewMemoryKV()}
	idx := index.New(kv, discard)

	opts = append([]photos.Option{
		photos.WithLogger(discard),
		photos.WithClock(clock.Now),
		photos.WithImportRoot(dir),
	}, opts...)
	return &testEnv{
		svc:   photos.NewService(blobs, idx, opts...),
		blobs: blobs,
		kv:    kv,
		idx:   idx,
		dir:   dir,
	}
}

func (e *testEnv) source(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	if err := os.WriteFile(p, []byte("image:"+name), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return p
}

func TestSave_RoundTrip(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	photo, err := env.svc.Save(ctx, env.source(t, "a.jpg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if photo.ID != "photo-1000" {
		t.Fatalf("expected id photo-1000, got %q", photo.ID)
	}
	if photo.FileName != "photo-1000.jpg" {
		t.Fatalf("expected fileName photo-1000.jpg, got %q", photo.FileName)
	}
	if photo.CreatedAt != 1000 {
		t.Fatalf("expected createdAt 1000, got %d", photo.CreatedAt)
	}
	if photo.Locator != filepath.Join(env.blobs.Root(), "photo-1000.jpg") {
		t.Fatalf("unexpected locator %q", photo.Locator)
	}
	if photo.Width != 0 || photo.Height != 0 {
		t.Fatalf("expected zero dimensions, got %dx%d", photo.Width, photo.Height)
	}

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 photo, got %d", len(list))
	}
	if list[0] != photo {
		t.Fatalf("listed %+v, saved %+v", list[0], photo)
	}

	data, err := os.ReadFile(photo.Locator)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(data) != "image:a.jpg" {
		t.Fatalf("unexpected blob content %q", data)
	}
}

func TestSave_NewestFirst(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000, step: 250})
	ctx := context.Background()

	var saved []models.Photo
	for i := 0; i < 5; i++ {
		p, err := env.svc.Save(ctx, env.source(t, fmt.Sprintf("s%d.jpg", i)))
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		saved = append(saved, p)
	}

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != len(saved) {
		t.Fatalf("expected %d photos, got %d", len(saved), len(list))
	}
	for i := range list {
		want := saved[len(saved)-1-i]
		if list[i].ID != want.ID {
			t.Fatalf("position %d: got %s, want %s", i, list[i].ID, want.ID)
		}
	}
}

func TestSave_SameMillisecondGetsDistinctIDs(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	first, err := env.svc.Save(ctx, env.source(t, "a.jpg"))
	if err != nil {
		t.Fatalf("first Save: %v", err)
	}
	second, err := env.svc.Save(ctx, env.source(t, "b.jpg"))
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("ids collided: %s", first.ID)
	}
	if second.ID != "photo-1001" {
		t.Fatalf("expected photo-1001, got %s", second.ID)
	}
}

func TestSave_ClockBehindIndex(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	existing := models.NewPhoto(5000, filepath.Join(env.blobs.Root(), "photo-5000.jpg"))
	if err := env.idx.SaveAll(ctx, []models.Photo{existing}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	p, err := env.svc.Save(ctx, env.source(t, "a.jpg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p.CreatedAt != 5001 {
		t.Fatalf("expected createdAt 5001, got %d", p.CreatedAt)
	}
}

func TestSave_SkipsOccupiedBlobName(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	// A stray file from an earlier crash occupies the first name.
	if err := env.blobs.EnsureReady(ctx); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	stray := filepath.Join(env.blobs.Root(), "photo-1000.jpg")
	if err := os.WriteFile(stray, []byte("stray"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	p, err := env.svc.Save(ctx, env.source(t, "a.jpg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p.ID != "photo-1001" {
		t.Fatalf("expected photo-1001, got %s", p.ID)
	}
}

func TestSave_MissingSourceLeavesIndexAlone(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	if _, err := env.svc.Save(ctx, filepath.Join(env.dir, "missing.jpg")); err == nil {
		t.Fatal("expected error for missing source")
	}

	records, err := env.idx.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty index, got %d records", len(records))
	}
}

func TestSave_IndexWriteFailure(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()
	boom := errors.New("disk full")
	env.kv.setFailures(nil, boom)

	_, err := env.svc.Save(ctx, env.source(t, "a.jpg"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected index write error, got %v", err)
	}
	if env.blobs.Exists(ctx, filepath.Join(env.blobs.Root(), "photo-1000.jpg")) {
		t.Fatal("blob should be cleaned up after index write failure")
	}
}

func TestSave_IndexReadFailure(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()
	boom := errors.New("connection refused")
	env.kv.setFailures(boom, nil)

	if _, err := env.svc.Save(ctx, env.source(t, "a.jpg")); !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	if env.blobs.Exists(ctx, filepath.Join(env.blobs.Root(), "photo-1000.jpg")) {
		t.Fatal("no blob should be written when the index cannot be read")
	}
}

func TestSave_ConcurrentCallersDoNotLoseUpdates(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	const n = 20
	sources := make([]string, n)
	for i := range sources {
		sources[i] = env.source(t, fmt.Sprintf("c%d.jpg", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, src := range sources {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			if _, err := env.svc.Save(ctx, src); err != nil {
				errs <- err
			}
		}(src)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Save: %v", err)
	}

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != n {
		t.Fatalf("expected %d photos, got %d", n, len(list))
	}
	seen := make(map[string]bool)
	for i, p := range list {
		if seen[p.ID] {
			t.Fatalf("duplicate id %s", p.ID)
		}
		seen[p.ID] = true
		if i > 0 && list[i-1].CreatedAt <= p.CreatedAt {
			t.Fatalf("list not newest first at %d", i)
		}
	}
}

func TestDelete_Idempotent(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000, step: 1})
	ctx := context.Background()

	keep, err := env.svc.Save(ctx, env.source(t, "keep.jpg"))
	if err != nil {
		t.Fatalf("Save keep: %v", err)
	}
	drop, err := env.svc.Save(ctx, env.source(t, "drop.jpg"))
	if err != nil {
		t.Fatalf("Save drop: %v", err)
	}

	if err := env.svc.Delete(ctx, drop.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if env.blobs.Exists(ctx, drop.Locator) {
		t.Fatal("blob should be removed")
	}
	if err := env.svc.Delete(ctx, drop.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != keep.ID {
		t.Fatalf("expected only %s, got %+v", keep.ID, list)
	}
}

func TestDelete_UnknownIDIsNoop(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	if err := env.svc.Delete(context.Background(), "photo-42"); err != nil {
		t.Fatalf("Delete unknown: %v", err)
	}
}

func TestDelete_BlobAlreadyGone(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	p, err := env.svc.Save(ctx, env.source(t, "a.jpg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.Remove(p.Locator); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	if err := env.svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	records, err := env.idx.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected entry removed, got %d records", len(records))
	}
}

func TestDelete_IndexWriteFailurePropagates(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	p, err := env.svc.Save(ctx, env.source(t, "a.jpg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	boom := errors.New("read-only")
	env.kv.setFailures(nil, boom)

	if err := env.svc.Delete(ctx, p.ID); !errors.Is(err, boom) {
		t.Fatalf("expected index write error, got %v", err)
	}
}

func TestList_SelfHeals(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000, step: 10})
	ctx := context.Background()

	var saved []models.Photo
	for i := 0; i < 3; i++ {
		p, err := env.svc.Save(ctx, env.source(t, fmt.Sprintf("h%d.jpg", i)))
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		saved = append(saved, p)
	}

	// Remove the middle photo's blob behind the service's back.
	if err := os.Remove(saved[1].Locator); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	first, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first) != 2 || first[0].ID != saved[2].ID || first[1].ID != saved[0].ID {
		t.Fatalf("unexpected list after prune: %+v", first)
	}

	records, err := env.idx.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected pruned index to be persisted, got %d records", len(records))
	}

	second, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("second List: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("list not stable: %d vs %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("list not stable at %d", i)
		}
	}
}

func TestList_WriteBackFailureStillFilters(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	p, err := env.svc.Save(ctx, env.source(t, "a.jpg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.Remove(p.Locator); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	env.kv.setFailures(nil, errors.New("read-only"))

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}
}

func TestList_CorruptIndexRecovers(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	if err := env.kv.Set(ctx, models.PhotosKey, "][garbage"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List on corrupt index: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	if _, err := env.svc.Save(ctx, env.source(t, "a.jpg")); err != nil {
		t.Fatalf("Save after corruption: %v", err)
	}
	list, err = env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one photo, got %d", len(list))
	}
}

func TestOpen(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	p, err := env.svc.Save(ctx, env.source(t, "view.jpg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	rc, got, err := env.svc.Open(ctx, p.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	if got.ID != p.ID {
		t.Fatalf("expected %s, got %s", p.ID, got.ID)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "image:view.jpg" {
		t.Fatalf("unexpected content %q", data)
	}

	if _, _, err := env.svc.Open(ctx, "photo-1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestViewMode(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()

	if got := env.svc.ViewMode(ctx); got != models.ViewModeGrid {
		t.Fatalf("expected default grid, got %q", got)
	}

	env.svc.SetViewMode(ctx, models.ViewModeList)
	if got := env.svc.ViewMode(ctx); got != models.ViewModeList {
		t.Fatalf("expected list, got %q", got)
	}

	if got := env.svc.ToggleViewMode(ctx); got != models.ViewModeGrid {
		t.Fatalf("expected toggle to grid, got %q", got)
	}
	if got := env.svc.ViewMode(ctx); got != models.ViewModeGrid {
		t.Fatalf("expected persisted grid, got %q", got)
	}
}

func TestViewMode_WriteFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000})
	ctx := context.Background()
	env.kv.setFailures(nil, errors.New("quota exceeded"))

	// Must not panic or surface anything.
	env.svc.SetViewMode(ctx, models.ViewModeList)

	env.kv.setFailures(nil, nil)
	if got := env.svc.ViewMode(ctx); got != models.ViewModeGrid {
		t.Fatalf("expected grid after failed write, got %q", got)
	}
}

// downBlobs answers every reachability check with an outage.
type downBlobs struct {
	*storage.FileSystem
	err error
}

func (d downBlobs) Reachable(context.Context) error { return d.err }

func TestList_BlobStoreDownKeepsIndex(t *testing.T) {
	env := newTestEnv(t, &stepClock{ms: 1000, step: 10})
	ctx := context.Background()

	var saved []models.Photo
	for i := 0; i < 2; i++ {
		p, err := env.svc.Save(ctx, env.source(t, fmt.Sprintf("d%d.jpg", i)))
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		saved = append(saved, p)
	}
	if err := os.Remove(saved[0].Locator); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	down := downBlobs{FileSystem: env.blobs, err: errors.New("dial tcp 127.0.0.1:1: connection refused")}
	svc := photos.NewService(down, env.idx, photos.WithLogger(discard))

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected both records while the store is down, got %d", len(list))
	}

	records, err := env.idx.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("index must not be rewritten during an outage, got %d records", len(records))
	}

	// Once the store answers again the missing blob is pruned.
	list, err = env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != saved[1].ID {
		t.Fatalf("unexpected list after recovery: %+v", list)
	}
}
