package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/fetch"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
	"github.com/tbourn/go-catalog-ingest/internal/services"
	"github.com/tbourn/go-catalog-ingest/internal/snapshot"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:worker_%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

type fakeFetcher struct {
	mu    sync.Mutex
	res   fetch.Result
	err   error
	calls []string
}

func (f *fakeFetcher) get(_ context.Context, url string) (fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	return f.res, f.err
}

func (f *fakeFetcher) Head(ctx context.Context, url string) (fetch.Result, error) {
	return f.get(ctx, url)
}

func (f *fakeFetcher) Detail(ctx context.Context, url string) (fetch.Result, error) {
	return f.get(ctx, url)
}

type harness struct {
	db    *gorm.DB
	queue *services.QueueService
	fetch *fakeFetcher
	pool  *Pool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newTestDB(t)
	store, err := snapshot.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	q := &services.QueueService{DB: db, DefaultPriority: 100, Window: time.Hour, Now: time.Now}
	f := &fakeFetcher{}
	deps := Deps{
		Queue:     q,
		Catalog:   services.NewCatalogService(db),
		Ingest:    services.NewIngestService(db),
		Audit:     services.NewAuditService(db, store),
		Fetch:     f,
		BulkLimit: 2,
	}
	return &harness{db: db, queue: q, fetch: f, pool: &Pool{Queue: q, Executors: Executors(deps), ID: "test"}}
}

func (h *harness) seedOffer(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	if err := repo.SaveProduct(ctx, h.db, &domain.Product{ID: "p1", Name: "P", Specs: datatypes.JSONMap{"height": "1m"}}); err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
	in, cents := true, int64(100)
	url := "https://shop.example/" + id
	if err := repo.CreateOffer(ctx, h.db, &domain.Offer{ID: id, ProductID: "p1", RetailerID: "shop", URL: url, NormalizedURL: url, PriceCents: &cents, InStock: &in}); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
}

func (h *harness) run(t *testing.T, kind jobs.Kind, p jobs.Payload) *domain.Job {
	t.Helper()
	ctx := context.Background()
	// Ahead of any children the job itself enqueues.
	urgent := 0
	res, err := h.queue.Enqueue(ctx, services.EnqueueRequest{Kind: kind, Payload: p, Priority: &urgent})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if worked, err := h.pool.RunOnce(ctx, "w"); !worked || err != nil {
		t.Fatalf("RunOnce = %v, %v", worked, err)
	}
	j, err := h.queue.Get(ctx, res.Job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return j
}

func TestExecutors_CoverEveryKind(t *testing.T) {
	ex := Executors(Deps{})
	for _, k := range jobs.Kinds() {
		if ex[k] == nil {
			t.Fatalf("no executor for %s", k)
		}
	}
}

func TestHeadRefresh_GoneMarksOutOfStock(t *testing.T) {
	h := newHarness(t)
	h.seedOffer(t, "o1")
	h.fetch.res = fetch.Result{StatusCode: 410, Stock: catalog.Bool(false)}

	j := h.run(t, jobs.KindHeadRefreshOne, jobs.HeadRefreshOne{OfferID: "o1"})
	if j.Status != jobs.StatusSucceeded {
		t.Fatalf("job = %+v", j)
	}
	o, _ := repo.GetOffer(context.Background(), h.db, "o1")
	if o.InStock == nil || *o.InStock || o.LastStatus != 410 {
		t.Fatalf("offer = %+v", o)
	}
	if len(h.fetch.calls) != 1 || h.fetch.calls[0] != "https://shop.example/o1" {
		t.Fatalf("fetch calls = %v", h.fetch.calls)
	}
}

func TestDetailRefresh_TransportErrorFailsJobKeepsStock(t *testing.T) {
	h := newHarness(t)
	h.seedOffer(t, "o1")
	h.fetch.err = errors.New("dial tcp: connection refused")

	j := h.run(t, jobs.KindDetailRefreshOne, jobs.DetailRefreshOne{OfferID: "o1"})
	if j.Status != jobs.StatusFailed || j.LastError == nil || !strings.Contains(*j.LastError, "connection refused") {
		t.Fatalf("job = %+v", j)
	}
	o, _ := repo.GetOffer(context.Background(), h.db, "o1")
	if o.InStock == nil || !*o.InStock || o.LastCheckedAt == nil {
		t.Fatalf("offer = %+v", o)
	}
}

func TestRefresh_MissingOfferFails(t *testing.T) {
	h := newHarness(t)
	j := h.run(t, jobs.KindHeadRefreshOne, jobs.HeadRefreshOne{OfferID: "ghost"})
	if j.Status != jobs.StatusFailed {
		t.Fatalf("job = %+v", j)
	}
}

func TestBulkRefresh_FansOutWithKeys(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"o1", "o2", "o3"} {
		h.seedOffer(t, id)
	}

	first := h.run(t, jobs.KindHeadRefreshBulk, jobs.HeadRefreshBulk{Limit: 10, StaleAfterHours: 1})
	if first.Status != jobs.StatusSucceeded {
		t.Fatalf("bulk job = %+v", first)
	}
	ctx := context.Background()
	_, n, err := h.queue.List(ctx, repo.JobFilter{Kind: jobs.KindHeadRefreshOne}, 1, 50)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if n != 2 {
		t.Fatalf("fan-out = %d; want BulkLimit 2", n)
	}

	h.run(t, jobs.KindHeadRefreshBulk, jobs.HeadRefreshBulk{Limit: 10, StaleAfterHours: 1})
	_, n, _ = h.queue.List(ctx, repo.JobFilter{Kind: jobs.KindHeadRefreshOne}, 1, 50)
	if n != 2 {
		t.Fatalf("second bulk must dedup onto queued jobs, got %d", n)
	}
}

func TestIngestAndAuditExecutors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := repo.SaveProduct(ctx, h.db, &domain.Product{ID: "p1", Name: "P", Specs: datatypes.JSONMap{"height": "1m"}, SourceURL: "https://src.example/p1"}); err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
	cents, in := int64(250), true
	j := h.run(t, jobs.KindIngestOffer, jobs.IngestOffer{
		Source: "feed", ExternalID: "x1", ProductID: "p1", RetailerID: "shop",
		URL: "https://shop.example/x1", PriceCents: &cents, InStock: &in,
	})
	if j.Status != jobs.StatusSucceeded {
		t.Fatalf("ingest job = %+v", j)
	}
	p, _ := repo.GetProduct(ctx, h.db, "p1")
	if !p.Active {
		t.Fatalf("ingested product must be active: %+v", p)
	}

	j = h.run(t, jobs.KindAudit, jobs.Audit{Report: jobs.AuditProvenance})
	if j.Status != jobs.StatusSucceeded {
		t.Fatalf("audit job = %+v", j)
	}
	run, err := repo.LatestAuditRun(ctx, h.db, string(jobs.AuditProvenance))
	if err != nil || run.HasViolations {
		t.Fatalf("audit run = %+v, %v", run, err)
	}

	j = h.run(t, jobs.KindLegacyPrune, jobs.LegacyPrune{ProductIDs: []string{"p1"}, DryRun: true})
	if j.Status != jobs.StatusSucceeded {
		t.Fatalf("dry-run prune job = %+v", j)
	}
	if _, err := repo.GetProduct(ctx, h.db, "p1"); err != nil {
		t.Fatalf("dry run must not delete: %v", err)
	}
	j = h.run(t, jobs.KindLegacyPrune, jobs.LegacyPrune{ProductIDs: []string{"p1"}})
	if j.Status != jobs.StatusSucceeded {
		t.Fatalf("prune job = %+v", j)
	}
	if _, err := repo.GetProduct(ctx, h.db, "p1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("product must be pruned: %v", err)
	}
}
