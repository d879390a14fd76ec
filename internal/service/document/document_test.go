package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/feichai0017/legal-rag/internal/extractor"
	"github.com/feichai0017/legal-rag/internal/gdrive"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/platform/database/dbtest"
	"github.com/feichai0017/legal-rag/internal/platform/rabbitmq"
	"github.com/feichai0017/legal-rag/internal/repository"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/queue"
	"github.com/feichai0017/legal-rag/pkg/storage"
)

// fakeIndex stores whole documents keyed by scope and name.
type fakeIndex struct {
	mu          sync.Mutex
	docs        map[string]string
	indexErr    error
	deleteErr   error
	indexCalls  int
	deleteCalls int
}

func newFakeIndex() *fakeIndex { return &fakeIndex{docs: make(map[string]string)} }

func (f *fakeIndex) IndexDocument(_ context.Context, scope models.Scope, name, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexCalls++
	if f.indexErr != nil {
		return 0, f.indexErr
	}
	f.docs[scope.DocumentKey(name)] = text
	return 1, nil
}

func (f *fakeIndex) DeleteDocument(_ context.Context, scope models.Scope, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.docs, scope.DocumentKey(name))
	return nil
}

func (f *fakeIndex) text(scope models.Scope, name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.docs[scope.DocumentKey(name)]
	return t, ok
}

// flakyBlobs fails Put or Delete on demand and tracks deletes in flight.
type flakyBlobs struct {
	*storage.MemoryStorage
	mu            sync.Mutex
	putErr        error
	deleteErr     error
	deleteDelay   time.Duration
	deleteCalls   int
	deleting      int
	maxConcurrent int
}

func (b *flakyBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, md map[string]string) error {
	b.mu.Lock()
	err := b.putErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryStorage.Put(ctx, key, r, size, contentType, md)
}

func (b *flakyBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	b.deleteCalls++
	b.deleting++
	if b.deleting > b.maxConcurrent {
		b.maxConcurrent = b.deleting
	}
	err, delay := b.deleteErr, b.deleteDelay
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.deleting--
		b.mu.Unlock()
	}()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}
	return b.MemoryStorage.Delete(ctx, key)
}

type fakeDrive struct {
	files map[string][]gdrive.File
	data  map[string][]byte
}

func (d *fakeDrive) ResolveFiles(_ context.Context, link string) ([]gdrive.File, error) {
	files, ok := d.files[link]
	if !ok {
		return nil, &models.NotFoundError{Message: "Unable to access Google Drive link"}
	}
	return files, nil
}

func (d *fakeDrive) Download(_ context.Context, f gdrive.File) ([]byte, error) {
	data, ok := d.data[f.ID]
	if !ok {
		return nil, fmt.Errorf("download %s failed", f.ID)
	}
	return data, nil
}

type fixture struct {
	svc    *Service
	repo   *repository.DocumentRepository
	index  *fakeIndex
	blobs  *flakyBlobs
	kbIdx  *fakeIndex
	kbBlob *flakyBlobs
	events *rabbitmq.RecordingPublisher
	tasks  *queue.MemoryQueue
	log    *logger.TestLogger
}

func newFixture(t *testing.T, cfg ServiceConfig, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   repository.NewDocumentRepository(dbtest.New(t)),
		index:  newFakeIndex(),
		blobs:  &flakyBlobs{MemoryStorage: storage.NewMemoryStorage()},
		kbIdx:  newFakeIndex(),
		kbBlob: &flakyBlobs{MemoryStorage: storage.NewMemoryStorage()},
		events: &rabbitmq.RecordingPublisher{},
		tasks:  queue.NewMemoryQueue(),
		log:    logger.NewTestLogger(),
	}
	opts = append([]Option{WithEvents(f.events), WithTaskQueue(f.tasks)}, opts...)
	f.svc = NewService(f.repo, extractor.New(f.log),
		Stores{Blobs: f.blobs, Index: f.index},
		Stores{Blobs: f.kbBlob, Index: f.kbIdx},
		f.log, cfg, opts...)
	return f
}

func defaultConfig() ServiceConfig {
	return ServiceConfig{UploadConcurrency: 2, FreeFileLimit: 10, PaidFileLimit: 100}
}

func freeUser(email string) *models.User {
	return &models.User{Email: email, Role: models.RoleUser, Plan: models.PlanFree}
}

func names(infos []models.FileInfo) []string {
	out := make([]string, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.Filename)
	}
	return out
}

func TestUploadThenListAndValidate(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")

	if err := f.svc.UploadFile(ctx, scope, "lease.txt", []byte("the tenant pays rent"), "text/plain"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	list, err := f.svc.ListDocuments(ctx, scope)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if got := names(list.Files); len(got) != 1 || got[0] != "lease.txt" {
		t.Fatalf("files = %v", got)
	}
	if len(list.ProcessingFiles) != 0 || len(list.FailedFiles) != 0 {
		t.Fatalf("list = %+v", list)
	}

	res, err := f.svc.ValidateFilenames(ctx, scope, []string{"lease.txt", "other.txt"})
	if err != nil {
		t.Fatalf("ValidateFilenames: %v", err)
	}
	if !res[0].Exists || res[1].Exists {
		t.Fatalf("validate = %+v", res)
	}

	if text, ok := f.index.text(scope, "lease.txt"); !ok || text != "the tenant pays rent" {
		t.Fatalf("indexed text = %q", text)
	}
	doc, _ := f.repo.Get(ctx, scope, "lease.txt")
	if doc.CharCount != int64(len("the tenant pays rent")) {
		t.Fatalf("char count = %d", doc.CharCount)
	}
	events := f.events.Events()
	if len(events) != 1 || events[0].Type != rabbitmq.EventDocumentCompleted {
		t.Fatalf("events = %+v", events)
	}
}

func TestUploadCompensatesWhenBlobPutFails(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")
	f.blobs.putErr = errors.New("bucket unavailable")

	err := f.svc.UploadFile(ctx, scope, "lease.txt", []byte("text"), "text/plain")
	var storeErrs *models.StoreErrors
	if !errors.As(err, &storeErrs) {
		t.Fatalf("err = %v, want store errors", err)
	}
	if !strings.Contains(err.Error(), "service: Blob Storage, error: bucket unavailable") {
		t.Fatalf("err = %q", err.Error())
	}
	if _, ok := f.index.text(scope, "lease.txt"); ok {
		t.Fatal("vectors left behind after compensation")
	}

	list, _ := f.svc.ListDocuments(ctx, scope)
	if got := names(list.FailedFiles); len(got) != 1 || got[0] != "lease.txt" {
		t.Fatalf("failed files = %v", got)
	}
	list, _ = f.svc.ListDocuments(ctx, scope)
	if len(list.FailedFiles) != 0 || len(list.Files) != 0 {
		t.Fatalf("second list = %+v", list)
	}

	events := f.events.Events()
	if len(events) != 1 || events[0].Type != rabbitmq.EventDocumentUploadFailed {
		t.Fatalf("events = %+v", events)
	}
}

func TestUploadCompensatesWhenIndexFails(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")
	f.index.indexErr = errors.New("pinecone down")

	err := f.svc.UploadFile(ctx, scope, "lease.txt", []byte("text"), "text/plain")
	if err == nil || !strings.Contains(err.Error(), "service: Vector Store, error: pinecone down") {
		t.Fatalf("err = %v", err)
	}
	if ok, _ := f.blobs.Exists(ctx, scope.BlobKey("lease.txt")); ok {
		t.Fatal("blob left behind after compensation")
	}
	doc, _ := f.repo.Get(ctx, scope, "lease.txt")
	if doc == nil || doc.Status != models.StatusUploadFailed {
		t.Fatalf("doc = %+v, want upload_failed", doc)
	}

	list, _ := f.svc.ListDocuments(ctx, scope)
	if got := names(list.FailedFiles); len(got) != 1 || got[0] != "lease.txt" {
		t.Fatalf("failed files = %v", got)
	}
	list, _ = f.svc.ListDocuments(ctx, scope)
	if len(list.FailedFiles) != 0 || len(list.Files) != 0 {
		t.Fatalf("second list = %+v", list)
	}
}

func TestUploadBothStoresFailing(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.blobs.putErr = errors.New("s3 down")
	f.index.indexErr = errors.New("pinecone down")

	err := f.svc.UploadFile(context.Background(), models.UserScope("a@x.io"), "a.txt", []byte("x"), "text/plain")
	var storeErrs *models.StoreErrors
	if !errors.As(err, &storeErrs) || len(storeErrs.Failures) != 2 {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "service: Vector Store") || !strings.Contains(err.Error(), " | ") {
		t.Fatalf("err = %q", err.Error())
	}
}

func TestUploadOverwritesCompleted(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")

	for _, body := range []string{"first version", "second"} {
		if err := f.svc.UploadFile(ctx, scope, "lease.txt", []byte(body), "text/plain"); err != nil {
			t.Fatalf("UploadFile: %v", err)
		}
	}

	if text, _ := f.index.text(scope, "lease.txt"); text != "second" {
		t.Fatalf("indexed text = %q", text)
	}
	data, err := f.svc.Download(ctx, scope, "lease.txt")
	if err != nil || string(data) != "second" {
		t.Fatalf("Download = %q, %v", data, err)
	}
	n, _ := f.repo.Count(ctx, scope)
	if n != 1 {
		t.Fatalf("rows want=1 got=%d", n)
	}
}

func TestUploadRejectsInFlightDuplicate(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")
	_ = f.repo.Create(ctx, scope, "lease.txt", "text/plain", models.StatusQueued)

	err := f.svc.UploadFile(ctx, scope, "lease.txt", []byte("text"), "text/plain")
	var dup *models.DuplicateDocumentError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want duplicate", err)
	}
	if f.index.indexCalls != 0 {
		t.Fatalf("index calls want=0 got=%d", f.index.indexCalls)
	}
}

func TestUploadExtractionFailure(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")

	err := f.svc.UploadFile(ctx, scope, "blank.txt", []byte("   "), "text/plain")
	var ext *models.ExtractionError
	if !errors.As(err, &ext) {
		t.Fatalf("err = %v, want extraction error", err)
	}
	if doc, _ := f.repo.Get(ctx, scope, "blank.txt"); doc != nil {
		t.Fatalf("row created for unreadable file: %+v", doc)
	}
}

func TestUploadCharacterCap(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxCharacters = 10
	f := newFixture(t, cfg)
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")

	if err := f.svc.UploadFile(ctx, scope, "a.txt", []byte("12345678"), "text/plain"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	err := f.svc.UploadFile(ctx, scope, "b.txt", []byte("12345"), "text/plain")
	var quota *models.QuotaExceededError
	if !errors.As(err, &quota) || quota.Resource != "character" {
		t.Fatalf("err = %v, want character quota", err)
	}
	// replacing a.txt releases its own characters
	if err := f.svc.UploadFile(ctx, scope, "a.txt", []byte("1234567890"), "text/plain"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	// the knowledge base is not capped
	if err := f.svc.UploadFile(ctx, models.KnowledgeBase, "law.txt", []byte(strings.Repeat("x", 50)), "text/plain"); err != nil {
		t.Fatalf("kb upload: %v", err)
	}
}

func TestDeleteMissingFileTouchesNoStore(t *testing.T) {
	f := newFixture(t, defaultConfig())
	err := f.svc.DeleteFile(context.Background(), models.UserScope("alice@x.io"), "ghost.txt")
	if !models.IsNotFound(err) || err.Error() != "File does not exists" {
		t.Fatalf("err = %v", err)
	}
	if f.index.deleteCalls != 0 || f.blobs.deleteCalls != 0 {
		t.Fatalf("store calls: index=%d blob=%d", f.index.deleteCalls, f.blobs.deleteCalls)
	}
}

func TestDeletePartialFailureIsRetryable(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")
	if err := f.svc.UploadFile(ctx, scope, "a.txt", []byte("text"), "text/plain"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	f.blobs.deleteErr = errors.New("denied")
	err := f.svc.DeleteFile(ctx, scope, "a.txt")
	if err == nil || !strings.Contains(err.Error(), "service: Blob Storage") {
		t.Fatalf("err = %v", err)
	}
	doc, _ := f.repo.Get(ctx, scope, "a.txt")
	if doc == nil || doc.Status != models.StatusDelFailed {
		t.Fatalf("doc = %+v, want del_failed", doc)
	}
	// del_failed stays listed as failed across lists
	for i := 0; i < 2; i++ {
		list, _ := f.svc.ListDocuments(ctx, scope)
		if len(list.FailedFiles) != 1 {
			t.Fatalf("list %d = %+v", i, list)
		}
	}

	f.blobs.deleteErr = nil
	if err := f.svc.DeleteFile(ctx, scope, "a.txt"); err != nil {
		t.Fatalf("retry DeleteFile: %v", err)
	}
	if doc, _ := f.repo.Get(ctx, scope, "a.txt"); doc != nil {
		t.Fatalf("row left after delete: %+v", doc)
	}
}

func TestDeleteFilesRunsConcurrently(t *testing.T) {
	cfg := defaultConfig()
	cfg.UploadConcurrency = 3
	f := newFixture(t, cfg)
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")

	var batch []string
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("doc-%d.txt", i)
		if err := f.svc.UploadFile(ctx, scope, name, []byte("text "+name), "text/plain"); err != nil {
			t.Fatalf("UploadFile %s: %v", name, err)
		}
		batch = append(batch, name)
	}
	batch = append(batch[:3], append([]string{"ghost.txt"}, batch[3:]...)...)
	f.blobs.deleteDelay = 40 * time.Millisecond

	result := f.svc.DeleteFiles(ctx, scope, batch)
	if got := names(result.FailedFiles); len(got) != 1 || got[0] != "ghost.txt" {
		t.Fatalf("failed = %v", got)
	}
	want := []string{"doc-0.txt", "doc-1.txt", "doc-2.txt", "doc-3.txt", "doc-4.txt", "doc-5.txt"}
	if got := names(result.DeletedFiles); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("deleted = %v, want input order", got)
	}

	f.blobs.mu.Lock()
	peak := f.blobs.maxConcurrent
	f.blobs.mu.Unlock()
	if peak < 2 || peak > cfg.UploadConcurrency {
		t.Fatalf("blob deletes in flight = %d, want 2..%d", peak, cfg.UploadConcurrency)
	}
	if len(f.blobs.Keys()) != 0 {
		t.Fatalf("blobs left: %v", f.blobs.Keys())
	}
}

func TestBatchQuotaRejectsWholeBatch(t *testing.T) {
	cfg := defaultConfig()
	cfg.FreeFileLimit = 2
	f := newFixture(t, cfg)
	ctx := context.Background()
	user := freeUser("alice@x.io")
	scope := models.UserScope(user.Email)
	if err := f.svc.UploadFile(ctx, scope, "a.txt", []byte("a"), "text/plain"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	_, err := f.svc.UploadFiles(ctx, user, scope, []models.FileUpload{
		{Name: "b.txt", ContentType: "text/plain", Data: []byte("b")},
		{Name: "c.txt", ContentType: "text/plain", Data: []byte("c")},
	})
	var quota *models.QuotaExceededError
	if !errors.As(err, &quota) {
		t.Fatalf("err = %v, want quota", err)
	}
	if quota.Remaining() != 1 {
		t.Fatalf("remaining want=1 got=%d", quota.Remaining())
	}
	if f.index.indexCalls != 1 {
		t.Fatalf("index calls want=1 got=%d", f.index.indexCalls)
	}

	// paid users get the larger limit
	paid := &models.User{Email: user.Email, Plan: models.PlanPaid}
	if _, err := f.svc.UploadFiles(ctx, paid, scope, []models.FileUpload{
		{Name: "b.txt", ContentType: "text/plain", Data: []byte("b")},
		{Name: "c.txt", ContentType: "text/plain", Data: []byte("c")},
	}); err != nil {
		t.Fatalf("paid UploadFiles: %v", err)
	}
}

func TestUploadFilesReportsPerFile(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	user := freeUser("alice@x.io")
	scope := models.UserScope(user.Email)

	res, err := f.svc.UploadFiles(ctx, user, scope, []models.FileUpload{
		{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")},
		{Name: "bad.txt", ContentType: "text/plain", Data: []byte{0xff, 0xfe}},
		{Name: "c.txt", ContentType: "text/plain", Data: []byte("c")},
	})
	if err != nil {
		t.Fatalf("UploadFiles: %v", err)
	}
	if got := names(res.UploadedFiles); len(got) != 2 || got[0] != "a.txt" || got[1] != "c.txt" {
		t.Fatalf("uploaded = %v", got)
	}
	if len(res.FailedFiles) != 1 || res.FailedFiles[0].Filename != "bad.txt" || res.FailedFiles[0].Error == "" {
		t.Fatalf("failed = %+v", res.FailedFiles)
	}
}

func TestUploadDownloadDeleteScenario(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	user := freeUser("alice@x.io")
	scope := models.UserScope(user.Email)

	files := []models.FileUpload{
		{Name: "one.txt", ContentType: "text/plain", Data: []byte("first contract")},
		{Name: "two.txt", ContentType: "text/plain", Data: []byte("second contract")},
		{Name: "three.md", ContentType: "text/markdown", Data: []byte("# third")},
	}
	res, err := f.svc.UploadFiles(ctx, user, scope, files)
	if err != nil || len(res.UploadedFiles) != 3 {
		t.Fatalf("UploadFiles = %+v, %v", res, err)
	}

	for _, file := range files {
		data, err := f.svc.Download(ctx, scope, file.Name)
		if err != nil {
			t.Fatalf("Download %s: %v", file.Name, err)
		}
		if string(data) != string(file.Data) {
			t.Fatalf("Download %s = %q", file.Name, data)
		}
		link, err := f.svc.GetDownloadLink(ctx, scope, file.Name)
		if err != nil || !strings.HasPrefix(link, "memory:///") {
			t.Fatalf("GetDownloadLink %s = %q, %v", file.Name, link, err)
		}
	}

	del := f.svc.DeleteFiles(ctx, scope, []string{"one.txt", "two.txt", "three.md"})
	if len(del.DeletedFiles) != 3 || len(del.FailedFiles) != 0 {
		t.Fatalf("DeleteFiles = %+v", del)
	}
	list, _ := f.svc.ListDocuments(ctx, scope)
	if len(list.Files)+len(list.ProcessingFiles)+len(list.FailedFiles) != 0 {
		t.Fatalf("list after delete = %+v", list)
	}
	if keys := f.blobs.Keys(); len(keys) != 0 {
		t.Fatalf("blobs left: %v", keys)
	}
	if _, err := f.svc.GetDownloadLink(ctx, scope, "one.txt"); !models.IsNotFound(err) {
		t.Fatalf("GetDownloadLink after delete err = %v", err)
	}
}

func TestKnowledgeBaseUsesItsOwnStores(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	if err := f.svc.UploadFile(ctx, models.KnowledgeBase, "act.txt", []byte("statute"), "text/plain"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if _, ok := f.kbIdx.text(models.KnowledgeBase, "act.txt"); !ok {
		t.Fatal("kb document not indexed in kb index")
	}
	if len(f.blobs.Keys()) != 0 || len(f.kbBlob.Keys()) != 1 {
		t.Fatalf("user blobs=%v kb blobs=%v", f.blobs.Keys(), f.kbBlob.Keys())
	}
	if _, ok := f.index.text(models.KnowledgeBase, "act.txt"); ok {
		t.Fatal("kb document leaked into user index")
	}
}

func TestQueueDeletesAndDeleteQueued(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")
	for _, n := range []string{"a.txt", "b.txt"} {
		if err := f.svc.UploadFile(ctx, scope, n, []byte(n), "text/plain"); err != nil {
			t.Fatalf("UploadFile: %v", err)
		}
	}

	res, err := f.svc.QueueDeletes(ctx, scope, []string{"a.txt", "b.txt", "ghost.txt"})
	if err != nil {
		t.Fatalf("QueueDeletes: %v", err)
	}
	if len(res.DeletedFiles) != 2 || len(res.FailedFiles) != 1 {
		t.Fatalf("QueueDeletes = %+v", res)
	}
	list, _ := f.svc.ListDocuments(ctx, scope)
	if len(list.ProcessingFiles) != 2 {
		t.Fatalf("processing = %+v", list.ProcessingFiles)
	}

	tasks := f.tasks.Tasks()
	if len(tasks) != 1 || tasks[0].Type != queue.TaskTypeDocumentDelete {
		t.Fatalf("tasks = %+v", tasks)
	}
	body, _ := json.Marshal(tasks[0])
	out, err := f.svc.DeleteQueued(ctx, body)
	if err != nil {
		t.Fatalf("DeleteQueued: %v", err)
	}
	if len(out.DeletedFiles) != 2 {
		t.Fatalf("DeleteQueued = %+v", out)
	}
	if n, _ := f.repo.Count(ctx, scope); n != 0 {
		t.Fatalf("rows want=0 got=%d", n)
	}
}

func TestDeleteQueuedRunsConcurrently(t *testing.T) {
	cfg := defaultConfig()
	cfg.UploadConcurrency = 4
	f := newFixture(t, cfg)
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")

	var batch []string
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("doc-%d.txt", i)
		if err := f.svc.UploadFile(ctx, scope, name, []byte("text "+name), "text/plain"); err != nil {
			t.Fatalf("UploadFile %s: %v", name, err)
		}
		batch = append(batch, name)
	}
	if _, err := f.svc.QueueDeletes(ctx, scope, batch); err != nil {
		t.Fatalf("QueueDeletes: %v", err)
	}
	f.blobs.deleteDelay = 40 * time.Millisecond

	body, _ := json.Marshal(f.tasks.Tasks()[0])
	out, err := f.svc.DeleteQueued(ctx, body)
	if err != nil {
		t.Fatalf("DeleteQueued: %v", err)
	}
	if got := names(out.DeletedFiles); strings.Join(got, ",") != strings.Join(batch, ",") {
		t.Fatalf("deleted = %v, want input order", got)
	}

	f.blobs.mu.Lock()
	peak := f.blobs.maxConcurrent
	f.blobs.mu.Unlock()
	if peak < 2 || peak > cfg.UploadConcurrency {
		t.Fatalf("blob deletes in flight = %d, want 2..%d", peak, cfg.UploadConcurrency)
	}
}

func TestQueueDeletesRevertsWhenEnqueueFails(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")
	_ = f.svc.UploadFile(ctx, scope, "a.txt", []byte("a"), "text/plain")
	f.tasks.Err = errors.New("redis down")

	res, err := f.svc.QueueDeletes(ctx, scope, []string{"a.txt"})
	if err != nil {
		t.Fatalf("QueueDeletes: %v", err)
	}
	if len(res.FailedFiles) != 1 {
		t.Fatalf("QueueDeletes = %+v", res)
	}
	if doc, _ := f.repo.Get(ctx, scope, "a.txt"); doc == nil || doc.Status != models.StatusCompleted {
		t.Fatalf("doc = %+v, want completed", doc)
	}
}

func TestDriveImport(t *testing.T) {
	drive := &fakeDrive{
		files: map[string][]gdrive.File{
			"folder-link": {
				{ID: "1", Name: "brief.pdf", MimeType: gdrive.MimeGoogleDoc},
				{ID: "2", Name: "notes.txt", MimeType: "text/plain"},
				{ID: "3", Name: "photo.png", MimeType: "image/png"},
				{ID: "4", Name: "taken.txt", MimeType: "text/plain"},
			},
		},
		data: map[string][]byte{"2": []byte("drive notes")},
	}
	f := newFixture(t, defaultConfig(), WithDrive(drive))
	ctx := context.Background()
	user := freeUser("alice@x.io")
	scope := models.UserScope(user.Email)
	_ = f.svc.UploadFile(ctx, scope, "taken.txt", []byte("local"), "text/plain")

	res, err := f.svc.EnqueueDriveImport(ctx, user, "folder-link")
	if err != nil {
		t.Fatalf("EnqueueDriveImport: %v", err)
	}
	if got := names(res.QueuedFiles); len(got) != 2 || got[0] != "brief.pdf" || got[1] != "notes.txt" {
		t.Fatalf("queued = %v", got)
	}
	if got := names(res.FailedFiles); len(got) != 2 {
		t.Fatalf("failed = %v", got)
	}
	if res.QueuedFiles[0].ContentType != "application/pdf" {
		t.Fatalf("google doc content type = %q", res.QueuedFiles[0].ContentType)
	}

	list, _ := f.svc.ListDocuments(ctx, scope)
	if len(list.ProcessingFiles) != 2 {
		t.Fatalf("processing = %+v", list.ProcessingFiles)
	}

	tasks := f.tasks.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("tasks want=2 got=%d", len(tasks))
	}
	for _, task := range tasks {
		body, _ := json.Marshal(task)
		var p queue.DriveTransferPayload
		_ = json.Unmarshal(task.Payload, &p)
		err := f.svc.ProcessDriveFile(ctx, body)
		if p.FileName == "notes.txt" && err != nil {
			t.Fatalf("ProcessDriveFile notes: %v", err)
		}
		if p.FileName == "brief.pdf" && err == nil {
			t.Fatal("ProcessDriveFile brief: want download error")
		}
	}

	list, _ = f.svc.ListDocuments(ctx, scope)
	if got := names(list.Files); len(got) != 2 {
		t.Fatalf("files = %v", got)
	}
	if got := names(list.FailedFiles); len(got) != 1 || got[0] != "brief.pdf" {
		t.Fatalf("failed = %v", got)
	}

	// a finished transfer is not processed twice
	body, _ := json.Marshal(tasks[1])
	if err := f.svc.ProcessDriveFile(ctx, body); err != nil {
		t.Fatalf("replayed transfer: %v", err)
	}
	if f.index.indexCalls != 2 {
		t.Fatalf("index calls want=2 got=%d", f.index.indexCalls)
	}
}

func TestDriveImportQuota(t *testing.T) {
	drive := &fakeDrive{files: map[string][]gdrive.File{
		"link": {{ID: "1", Name: "a.txt", MimeType: "text/plain"}, {ID: "2", Name: "b.txt", MimeType: "text/plain"}},
	}}
	cfg := defaultConfig()
	cfg.FreeFileLimit = 1
	f := newFixture(t, cfg, WithDrive(drive))

	_, err := f.svc.EnqueueDriveImport(context.Background(), freeUser("alice@x.io"), "link")
	var quota *models.QuotaExceededError
	if !errors.As(err, &quota) {
		t.Fatalf("err = %v, want quota", err)
	}
	if len(f.tasks.Tasks()) != 0 {
		t.Fatal("tasks enqueued despite quota")
	}
}

func TestDriveImportDisabled(t *testing.T) {
	f := newFixture(t, defaultConfig())
	if _, err := f.svc.EnqueueDriveImport(context.Background(), freeUser("a@x.io"), "link"); !errors.Is(err, ErrDriveDisabled) {
		t.Fatalf("err = %v", err)
	}
}

func TestCleanupStaleBlobsKeepsReferenced(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	scope := models.UserScope("alice@x.io")
	_ = f.svc.UploadFile(ctx, scope, "kept.txt", []byte("kept"), "text/plain")
	_ = f.svc.UploadFile(ctx, models.KnowledgeBase, "law.txt", []byte("law"), "text/plain")
	_ = f.blobs.MemoryStorage.Put(ctx, scope.BlobKey("orphan.txt"), strings.NewReader("x"), 1, "text/plain", nil)

	// a negative age puts the cutoff in the future so everything is old enough
	n, err := f.svc.CleanupStaleBlobs(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("CleanupStaleBlobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed want=1 got=%d", n)
	}
	if ok, _ := f.blobs.Exists(ctx, scope.BlobKey("kept.txt")); !ok {
		t.Fatal("referenced blob removed")
	}
	if ok, _ := f.kbBlob.Exists(ctx, models.KnowledgeBase.BlobKey("law.txt")); !ok {
		t.Fatal("kb blob removed")
	}
}
