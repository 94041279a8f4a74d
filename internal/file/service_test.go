package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/filesmanager/internal/access"
	"github.com/hitoshi/filesmanager/internal/blob"
	"github.com/hitoshi/filesmanager/internal/metrics"
	"github.com/hitoshi/filesmanager/internal/model"
	"github.com/hitoshi/filesmanager/internal/queue"
	"github.com/hitoshi/filesmanager/internal/worker/derivative"
)

// --- モック ---

// memFileRepo はFileRepositoryのインメモリ実装。
type memFileRepo struct {
	mu      sync.Mutex
	records map[string]*model.FileRecord
	order   []string

	createFn func(ctx context.Context, rec *model.FileRecord) error
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{records: make(map[string]*model.FileRecord)}
}

func (m *memFileRepo) FindByID(ctx context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memFileRepo) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.FileRecord, error) {
	rec, err := m.FindByID(ctx, id)
	if err != nil || rec == nil || rec.OwnerID != ownerID {
		return nil, err
	}
	return rec, nil
}

func (m *memFileRepo) ListByOwnerAndParent(ctx context.Context, ownerID string, parent model.ParentRef, offset, limit int) ([]*model.FileRecord, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("OFFSET must not be negative: %d", offset)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.FileRecord
	for _, id := range m.order {
		rec := m.records[id]
		if rec.OwnerID != ownerID || rec.Parent != parent {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memFileRepo) Create(ctx context.Context, rec *model.FileRecord) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *memFileRepo) UpdateVisibility(ctx context.Context, id string, isPublic bool) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	rec.IsPublic = isPublic
	cp := *rec
	return &cp, nil
}

func (m *memFileRepo) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

// memBlobStore はblob.Storeのインメモリ実装。
type memBlobStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	seq   int
	putFn func(path string, data []byte) error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{data: make(map[string][]byte)}
}

func (m *memBlobStore) NewPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("/blobs/%d", m.seq)
}

func (m *memBlobStore) Put(ctx context.Context, path string, data []byte) error {
	if m.putFn != nil {
		if err := m.putFn(path, data); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[path] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[path]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return append([]byte(nil), d...), nil
}

// mockEnqueuer はqueue.Enqueuerのモック。
type mockEnqueuer struct {
	mu        sync.Mutex
	jobs      []enqueued
	enqueueFn func(ctx context.Context, queueName string, payload any) (*queue.Job, error)
}

type enqueued struct {
	queue   string
	payload any
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, queueName string, payload any) (*queue.Job, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, queueName, payload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, enqueued{queue: queueName, payload: payload})
	return &queue.Job{ID: "job-1", Queue: queueName}, nil
}

type mockSessionFinder struct {
	tokens map[string]string
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	userID, ok := m.tokens[id]
	if !ok {
		return nil, nil
	}
	return &model.Session{ID: id, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// countingCollector は投入失敗回数を数えるMetricsCollector。
type countingCollector struct {
	metrics.Nop
	mu              sync.Mutex
	enqueueFailures int
	created         []string
}

func (c *countingCollector) RecordEnqueueFailure(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueFailures++
}

func (c *countingCollector) RecordFileCreated(kind string, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, kind)
}

type fixture struct {
	svc       *Service
	files     *memFileRepo
	blobs     *memBlobStore
	enqueuer  *mockEnqueuer
	collector *countingCollector
}

const (
	alice      = "alice"
	bob        = "bob"
	aliceToken = "tok-alice"
	bobToken   = "tok-bob"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		files:     newMemFileRepo(),
		blobs:     newMemBlobStore(),
		enqueuer:  &mockEnqueuer{},
		collector: &countingCollector{},
	}
	gate := access.NewGate(&mockSessionFinder{tokens: map[string]string{aliceToken: alice, bobToken: bob}})
	f.svc = NewService(f.files, f.blobs, gate, f.enqueuer, f.collector, nil)
	return f
}

func intPtr(v int) *int { return &v }

// --- テスト ---

func TestService_Create_AtRootAppearsInList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inputs := []CreateInput{
		{Name: "docs", Type: "folder"},
		{Name: "a.txt", Type: "file", Data: []byte("hi")},
		{Name: "pic.png", Type: "image", Data: []byte("png")},
	}
	for _, in := range inputs {
		t.Run(in.Type, func(t *testing.T) {
			rec, err := f.svc.Create(ctx, alice, in)
			if err != nil {
				t.Fatalf("Create(%s) error: %v", in.Type, err)
			}
			if !rec.Parent.IsRoot() {
				t.Errorf("Parent = %v, want root", rec.Parent)
			}

			list, err := f.svc.List(ctx, alice, model.RootParent(), 0, 0)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			found := false
			for _, r := range list {
				if r.ID == rec.ID {
					found = true
				}
			}
			if !found {
				t.Errorf("created %s not listed at root", in.Type)
			}
		})
	}
}

func TestService_Create_ValidationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		in       CreateInput
		wantCode string
		wantMsg  string
	}{
		{"name欠落が最優先", CreateInput{Type: "bogus"}, model.ErrCodeMissingField, "Missing name"},
		{"type不正", CreateInput{Name: "x", Type: "bogus"}, model.ErrCodeMissingField, "Missing type"},
		{"type欠落", CreateInput{Name: "x"}, model.ErrCodeMissingField, "Missing type"},
		{"fileにdata無し", CreateInput{Name: "x", Type: "file"}, model.ErrCodeMissingField, "Missing data"},
		{"imageにdata無し", CreateInput{Name: "x", Type: "image", Parent: model.ParentID("missing")}, model.ErrCodeMissingField, "Missing data"},
		{"親が存在しない", CreateInput{Name: "x", Type: "folder", Parent: model.ParentID("missing")}, model.ErrCodeInvalidParent, "Parent not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, alice, tt.in)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Errorf("got [%s] %q, want [%s] %q", apiErr.Code, apiErr.Message, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestService_Create_ParentMustBeFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plain, err := f.svc.Create(ctx, alice, CreateInput{Name: "a.txt", Type: "file", Data: []byte("hi")})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	_, err = f.svc.Create(ctx, alice, CreateInput{Name: "b.txt", Type: "file", Data: []byte("x"), Parent: model.ParentID(plain.ID)})
	if !errors.Is(err, model.ErrNotAFolder) {
		t.Fatalf("err = %v, want NOT_A_FOLDER", err)
	}
}

func TestService_Create_InFolderListedUnderParentOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	folder, err := f.svc.Create(ctx, alice, CreateInput{Name: "docs", Type: "folder"})
	if err != nil {
		t.Fatalf("Create folder error: %v", err)
	}
	child, err := f.svc.Create(ctx, alice, CreateInput{Name: "a.txt", Type: "file", Data: []byte("hi"), Parent: model.ParentID(folder.ID)})
	if err != nil {
		t.Fatalf("Create child error: %v", err)
	}

	inFolder, _ := f.svc.List(ctx, alice, model.ParentID(folder.ID), 0, 0)
	if len(inFolder) != 1 || inFolder[0].ID != child.ID {
		t.Errorf("folder listing = %+v, want only child", inFolder)
	}

	atRoot, _ := f.svc.List(ctx, alice, model.RootParent(), 0, 0)
	for _, r := range atRoot {
		if r.ID == child.ID {
			t.Error("child must not appear at root")
		}
	}
}

func TestService_Create_FolderHasNoStoragePath(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.Create(context.Background(), alice, CreateInput{Name: "docs", Type: "folder", Data: []byte("ignored")})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.StoragePath != "" {
		t.Errorf("folder StoragePath = %q, want empty", rec.StoragePath)
	}
	if len(f.blobs.data) != 0 {
		t.Errorf("folder create wrote %d blobs", len(f.blobs.data))
	}
}

func TestService_Create_ImageEnqueuesExactlyOneJob(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.Create(context.Background(), alice, CreateInput{Name: "pic.png", Type: "image", Data: []byte("png")})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if len(f.enqueuer.jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(f.enqueuer.jobs))
	}
	job := f.enqueuer.jobs[0]
	if job.queue != model.QueueDerivatives {
		t.Errorf("queue = %q, want %q", job.queue, model.QueueDerivatives)
	}
	payload, ok := job.payload.(model.DerivativeJobPayload)
	if !ok {
		t.Fatalf("payload type = %T", job.payload)
	}
	if payload.FileID != rec.ID || payload.UserID != alice {
		t.Errorf("payload = %+v, want fileId=%s userId=%s", payload, rec.ID, alice)
	}
}

func TestService_Create_NonImageDoesNotEnqueue(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Create(context.Background(), alice, CreateInput{Name: "a.txt", Type: "file", Data: []byte("hi")}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if len(f.enqueuer.jobs) != 0 {
		t.Errorf("enqueued %d jobs for plain file", len(f.enqueuer.jobs))
	}
}

func TestService_Create_EnqueueFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.enqueueFn = func(ctx context.Context, queueName string, payload any) (*queue.Job, error) {
		return nil, errors.New("redis down")
	}

	rec, err := f.svc.Create(context.Background(), alice, CreateInput{Name: "pic.png", Type: "image", Data: []byte("png")})
	if err != nil {
		t.Fatalf("Create should succeed despite enqueue failure, got %v", err)
	}
	if stored, _ := f.files.FindByID(context.Background(), rec.ID); stored == nil {
		t.Error("record was not kept after enqueue failure")
	}
	if f.collector.enqueueFailures != 1 {
		t.Errorf("enqueueFailures = %d, want 1", f.collector.enqueueFailures)
	}
}

func TestService_Create_BlobFailureDoesNotInsertRecord(t *testing.T) {
	f := newFixture(t)
	f.blobs.putFn = func(path string, data []byte) error { return errors.New("disk full") }

	_, err := f.svc.Create(context.Background(), alice, CreateInput{Name: "a.txt", Type: "file", Data: []byte("hi")})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("infra failure should not be an APIError: %v", apiErr)
	}
	if n, _ := f.files.Count(context.Background()); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}

func TestService_Get_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, _ := f.svc.Create(ctx, alice, CreateInput{Name: "a.txt", Type: "file", Data: []byte("hi"), IsPublic: true})

	got, err := f.svc.Get(ctx, alice, rec.ID)
	if err != nil {
		t.Fatalf("owner Get error: %v", err)
	}
	if got.Name != "a.txt" {
		t.Errorf("Name = %q", got.Name)
	}

	for _, tc := range []struct{ user, id string }{{bob, rec.ID}, {alice, "missing"}, {alice, "not-a-uuid"}} {
		if _, err := f.svc.Get(ctx, tc.user, tc.id); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("Get(%s, %s) = %v, want NOT_FOUND", tc.user, tc.id, err)
		}
	}
}

func TestService_List_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if _, err := f.svc.Create(ctx, alice, CreateInput{Name: "d", Type: "folder"}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	_, _ = f.svc.Create(ctx, bob, CreateInput{Name: "other", Type: "folder"})

	first, _ := f.svc.List(ctx, alice, model.RootParent(), 0, 0)
	second, _ := f.svc.List(ctx, alice, model.RootParent(), 1, 0)
	third, _ := f.svc.List(ctx, alice, model.RootParent(), 2, 0)
	negative, _ := f.svc.List(ctx, alice, model.RootParent(), -3, 0)

	if len(first) != DefaultPageSize || len(second) != 5 || len(third) != 0 {
		t.Errorf("page sizes = %d/%d/%d, want 20/5/0", len(first), len(second), len(third))
	}
	if third == nil {
		t.Error("empty page should be an empty slice, not nil")
	}
	if len(negative) != DefaultPageSize || negative[0].ID != first[0].ID {
		t.Error("negative page should behave as page 0")
	}

	seen := make(map[string]bool)
	for _, r := range append(first, second...) {
		if r.OwnerID != alice {
			t.Errorf("listed record of %s", r.OwnerID)
		}
		seen[r.ID] = true
	}
	if len(seen) != 25 {
		t.Errorf("distinct records across pages = %d, want 25", len(seen))
	}
}

func TestService_List_HugePageIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, alice, CreateInput{Name: "d", Type: "folder"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	tests := []struct {
		name     string
		page     int
		pageSize int
	}{
		{"乗算で桁あふれするページ", math.MaxInt/DefaultPageSize + 1, DefaultPageSize},
		{"最大値のページ", math.MaxInt, DefaultPageSize},
		{"ページサイズ1の最大値", math.MaxInt, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := f.svc.List(ctx, alice, model.RootParent(), tt.page, tt.pageSize)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if recs == nil || len(recs) != 0 {
				t.Errorf("List = %v, want empty slice", recs)
			}
		})
	}
}

func TestService_SetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, _ := f.svc.Create(ctx, alice, CreateInput{Name: "a.txt", Type: "file", Data: []byte("hi")})

	updated, err := f.svc.SetVisibility(ctx, alice, rec.ID, true)
	if err != nil {
		t.Fatalf("SetVisibility error: %v", err)
	}
	if !updated.IsPublic {
		t.Error("IsPublic = false after publish")
	}

	updated, err = f.svc.SetVisibility(ctx, alice, rec.ID, false)
	if err != nil || updated.IsPublic {
		t.Errorf("unpublish = %+v, %v", updated, err)
	}
}

func TestService_SetVisibility_NonOwnerIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	public, _ := f.svc.Create(ctx, alice, CreateInput{Name: "pub.txt", Type: "file", Data: []byte("hi"), IsPublic: true})
	private, _ := f.svc.Create(ctx, alice, CreateInput{Name: "priv.txt", Type: "file", Data: []byte("hi")})

	for _, id := range []string{public.ID, private.ID, "does-not-exist"} {
		_, err := f.svc.SetVisibility(ctx, bob, id, true)
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("SetVisibility(bob, %s) = %v, want NOT_FOUND", id, err)
		}
	}

	stored, _ := f.files.FindByID(ctx, private.ID)
	if stored.IsPublic {
		t.Error("non-owner changed visibility")
	}
}

func TestService_ReadContent_PrivateWithoutValidTokenIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, _ := f.svc.Create(ctx, alice, CreateInput{Name: "a.txt", Type: "file", Data: []byte("hi")})

	for _, token := range []string{"", "tok-invalid", bobToken} {
		_, err := f.svc.ReadContent(ctx, token, rec.ID, nil)
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("ReadContent(token=%q) = %v, want NOT_FOUND", token, err)
		}
		if errors.Is(err, model.ErrUnauthenticated) {
			t.Errorf("ReadContent(token=%q) leaked UNAUTHORIZED", token)
		}
	}

	content, err := f.svc.ReadContent(ctx, aliceToken, rec.ID, nil)
	if err != nil {
		t.Fatalf("owner ReadContent error: %v", err)
	}
	if string(content.Data) != "hi" {
		t.Errorf("Data = %q, want %q", content.Data, "hi")
	}
}

func TestService_ReadContent_FolderAndSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	folder, _ := f.svc.Create(ctx, alice, CreateInput{Name: "docs", Type: "folder", IsPublic: true})
	if _, err := f.svc.ReadContent(ctx, "", folder.ID, nil); !errors.Is(err, model.ErrNoContent) {
		t.Errorf("folder ReadContent = %v, want NO_CONTENT", err)
	}

	img, _ := f.svc.Create(ctx, alice, CreateInput{Name: "pic.png", Type: "image", Data: []byte("png"), IsPublic: true})
	for _, size := range []int{0, 50, 200, 1000} {
		if _, err := f.svc.ReadContent(ctx, "", img.ID, intPtr(size)); !errors.Is(err, model.ErrInvalidSize) {
			t.Errorf("size %d = %v, want INVALID_SIZE", size, err)
		}
	}
}

func TestService_ReadContent_DerivativeEventuallyAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	img, _ := f.svc.Create(ctx, alice, CreateInput{Name: "pic.png", Type: "image", Data: []byte("png"), IsPublic: true})

	if _, err := f.svc.ReadContent(ctx, "", img.ID, intPtr(100)); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("before worker = %v, want NOT_FOUND", err)
	}

	stored, _ := f.files.FindByID(ctx, img.ID)
	thumb := []byte("thumb-100")
	if err := f.blobs.Put(ctx, blob.DerivativePath(stored.StoragePath, 100), thumb); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	first, err := f.svc.ReadContent(ctx, "", img.ID, intPtr(100))
	if err != nil {
		t.Fatalf("after worker error: %v", err)
	}
	second, _ := f.svc.ReadContent(ctx, "", img.ID, intPtr(100))
	if !bytes.Equal(first.Data, thumb) || !bytes.Equal(first.Data, second.Data) {
		t.Errorf("derivative reads = %q / %q, want %q", first.Data, second.Data, thumb)
	}
	if first.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", first.ContentType)
	}
}

// 作成時に投入されたジョブを派生画像ワーカーで処理すると、size指定の読み出しが生成結果を返す。
func TestService_ReadContent_AfterDerivativeWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src := image.NewRGBA(image.Rect(0, 0, 640, 320))
	for y := 0; y < 320; y++ {
		for x := 0; x < 640; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	img, err := f.svc.Create(ctx, alice, CreateInput{Name: "pic.png", Type: "image", Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := f.svc.ReadContent(ctx, aliceToken, img.ID, intPtr(100)); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("before worker = %v, want NOT_FOUND", err)
	}

	if len(f.enqueuer.jobs) != 1 {
		t.Fatalf("enqueued jobs = %d, want 1", len(f.enqueuer.jobs))
	}
	payload, err := json.Marshal(f.enqueuer.jobs[0].payload)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	job := &queue.Job{ID: "job-1", Queue: f.enqueuer.jobs[0].queue, Payload: payload}
	worker := derivative.NewHandler(f.files, f.blobs, nil, nil)

	var reads [][]byte
	for i := 0; i < 2; i++ {
		if err := worker.Handle(ctx, job); err != nil {
			t.Fatalf("delivery %d: Handle error: %v", i+1, err)
		}
		content, err := f.svc.ReadContent(ctx, aliceToken, img.ID, intPtr(100))
		if err != nil {
			t.Fatalf("delivery %d: ReadContent error: %v", i+1, err)
		}
		reads = append(reads, content.Data)
	}

	if !bytes.Equal(reads[0], reads[1]) {
		t.Error("derivative bytes differ between deliveries")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(reads[0]))
	if err != nil {
		t.Fatalf("derivative not decodable: %v", err)
	}
	if format != "png" || cfg.Width != 100 || cfg.Height != 50 {
		t.Errorf("derivative = %s %dx%d, want png 100x50", format, cfg.Width, cfg.Height)
	}
}

// 名前の長さに上限は無い。
func TestService_Create_LongName(t *testing.T) {
	f := newFixture(t)
	name := strings.Repeat("n", 1000)

	rec, err := f.svc.Create(context.Background(), alice, CreateInput{Name: name, Type: "file", Data: []byte("hi")})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.Name != name {
		t.Errorf("name length = %d, want %d", len(rec.Name), len(name))
	}
}

func TestService_EndToEnd_PublishThenAnonymousRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, alice, CreateInput{Name: "a.txt", Type: "file", Data: []byte("hi")})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.Name != "a.txt" || rec.Kind != model.FileKindFile || rec.IsPublic {
		t.Errorf("created = %+v", rec)
	}

	got, err := f.svc.Get(ctx, alice, rec.ID)
	if err != nil || got.ID != rec.ID || got.Name != rec.Name || got.Kind != rec.Kind {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if _, err := f.svc.SetVisibility(ctx, alice, rec.ID, true); err != nil {
		t.Fatalf("SetVisibility error: %v", err)
	}

	content, err := f.svc.ReadContent(ctx, "", rec.ID, nil)
	if err != nil {
		t.Fatalf("anonymous ReadContent error: %v", err)
	}
	if string(content.Data) != "hi" {
		t.Errorf("Data = %q, want %q", content.Data, "hi")
	}
	if content.ContentType != "text/plain; charset=utf-8" {
		t.Errorf("ContentType = %q", content.ContentType)
	}
}

func TestService_ConcurrentCreates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := f.svc.Create(ctx, alice, CreateInput{Name: "a.txt", Type: "file", Data: []byte{byte(i)}})
			if err != nil {
				t.Errorf("Create error: %v", err)
				return
			}
			ids[i] = rec.ID
		}(i)
	}
	wg.Wait()

	sort.Strings(ids)
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			t.Fatal("duplicate ids from concurrent creates")
		}
	}
}

func TestDetectContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	tests := []struct {
		name string
		file string
		data []byte
		want string
	}{
		{"拡張子から判定", "a.json", []byte("{}"), "application/json"},
		{"拡張子が無ければ中身から判定", "noext", png, "image/png"},
		{"判定不能", "noext", []byte{0x00, 0x01, 0x02}, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectContentType(tt.file, tt.data); got != tt.want {
				t.Errorf("DetectContentType(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}
