package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/seomaster/report_server/internal/model"
	"github.com/seomaster/report_server/internal/model/dto"
	"github.com/seomaster/report_server/internal/pkg/cache"
	"github.com/seomaster/report_server/internal/pkg/queue"
	"github.com/seomaster/report_server/internal/repository"
	"github.com/seomaster/report_server/internal/testutil"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	msgs []*queue.DispatchMessage
	err  error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, msg *queue.DispatchMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

type fakeSnapshots struct {
	deleted []string
}

func (f *fakeSnapshots) DeleteReportSnapshots(reportID string) (int, error) {
	f.deleted = append(f.deleted, reportID)
	return 1, nil
}

func setupReportService(t *testing.T) (*ReportService, *fakeDispatcher, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	d := &fakeDispatcher{}
	svc := NewReportService(repository.NewReportRepository(db), repository.NewJobRepository(db), d)
	return svc, d, db
}

func reload(t *testing.T, db *gorm.DB, id string) *model.Report {
	t.Helper()

	var r model.Report
	require.NoError(t, db.First(&r, "id = ?", id).Error)
	return &r
}

func TestReportService_Create(t *testing.T) {
	svc, d, db := setupReportService(t)
	user := testutil.TestUser(t, db)

	meta, err := svc.Create(context.Background(), user.ID, &dto.CreateReportRequest{Website: "example.com"})
	require.NoError(t, err)

	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, "example.com", meta.Website)
	assert.Equal(t, model.DefaultReportOptions, meta.Options)
	assert.Equal(t, model.ReportStatusPending, meta.Status)
	assert.Equal(t, 0, d.count(), "create must not dispatch")

	stored := reload(t, db, meta.ID)
	assert.Nil(t, stored.ReportData)
	assert.Equal(t, user.ID, stored.UserID)
}

func TestReportService_Get_FirstViewDispatchesOnce(t *testing.T) {
	svc, d, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID, testutil.WithWebsite("example.com"))
	ctx := context.Background()

	got, err := svc.Get(ctx, user.ID, report.ID, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusProcessing, got.Status)
	assert.Nil(t, got.ReportData)
	assert.Equal(t, 1, got.Attempt)

	require.Equal(t, 1, d.count())
	msg := d.msgs[0]
	assert.Equal(t, report.ID, msg.ReportID)
	assert.Equal(t, user.ID, msg.UserID)
	assert.Equal(t, "example.com", msg.Website)
	assert.Equal(t, 1, msg.Attempt)
	assert.NotZero(t, msg.JobID)

	// 仍在 processing，再次读取不会重复分发
	got, err = svc.Get(ctx, user.ID, report.ID, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusProcessing, got.Status)
	got, err = svc.Get(ctx, user.ID, report.ID, ModeStatusOnly)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusProcessing, got.Status)
	assert.Equal(t, 1, d.count())

	jobs, err := repository.NewJobRepository(db).ListByReport(ctx, report.ID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempt)
	assert.Equal(t, model.JobStatusQueued, jobs[0].Status)
}

func TestReportService_Get_StatusOnlyOnPendingDispatches(t *testing.T) {
	svc, d, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID)

	got, err := svc.Get(context.Background(), user.ID, report.ID, ModeStatusOnly)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusProcessing, got.Status)
	assert.Equal(t, 1, d.count())
}

func TestReportService_Get_ConcurrentFirstViews(t *testing.T) {
	svc, d, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Get(context.Background(), user.ID, report.ID, ModeFull)
			assert.NoError(t, err)
			if got != nil {
				assert.Equal(t, model.ReportStatusProcessing, got.Status)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, d.count())
	assert.Equal(t, 1, reload(t, db, report.ID).Attempt)
}

func TestReportService_Get_TerminalIsStable(t *testing.T) {
	svc, d, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID, testutil.Completed(model.JSONMap{"title": "Example"}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := svc.Get(ctx, user.ID, report.ID, ModeStatusOnly)
		require.NoError(t, err)
		assert.Equal(t, model.ReportStatusCompleted, got.Status)
		assert.Nil(t, got.ReportData, "statusOnly never carries reportData")
	}

	got, err := svc.Get(ctx, user.ID, report.ID, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, "Example", got.ReportData["title"])
	assert.Equal(t, 0, d.count())
}

func TestReportService_Get_ReanalyzeCompleted(t *testing.T) {
	svc, d, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID,
		testutil.Completed(model.JSONMap{"title": "Old"}),
		testutil.WithManualChecks(model.BoolMap{"titleTag": true}),
	)

	got, err := svc.Get(context.Background(), user.ID, report.ID, ModeReanalyze)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusProcessing, got.Status)
	assert.Nil(t, got.ReportData)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, 1, d.count())

	stored := reload(t, db, report.ID)
	assert.Nil(t, stored.ReportData)
	assert.Equal(t, model.BoolMap{"titleTag": true}, stored.ManualChecks, "overrides survive reanalysis")
}

func TestReportService_Get_ReanalyzeFailed(t *testing.T) {
	svc, d, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID,
		testutil.WithStatus(model.ReportStatusFailed),
		testutil.WithReportData(model.JSONMap{"error": "Backend returned status 500"}),
		testutil.WithAttempt(1),
	)

	got, err := svc.Get(context.Background(), user.ID, report.ID, ModeReanalyze)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusProcessing, got.Status)
	assert.Equal(t, 1, d.count())
}

func TestReportService_Get_NotFoundAndOwnership(t *testing.T) {
	svc, d, db := setupReportService(t)
	owner := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, owner.ID)
	ctx := context.Background()

	for _, mode := range []Mode{ModeFull, ModeStatusOnly, ModeReanalyze} {
		_, err := svc.Get(ctx, other.ID, report.ID, mode)
		assert.ErrorIs(t, err, ErrReportNotFound, "mode %s", mode)

		_, err = svc.Get(ctx, owner.ID, "missing-id", mode)
		assert.ErrorIs(t, err, ErrReportNotFound, "mode %s", mode)
	}

	assert.Equal(t, 0, d.count())
	assert.Equal(t, model.ReportStatusPending, reload(t, db, report.ID).Status)
}

func TestReportService_Get_DispatchErrorMarksFailed(t *testing.T) {
	svc, d, db := setupReportService(t)
	d.err = errors.New("queue unavailable")
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID)

	got, err := svc.Get(context.Background(), user.ID, report.ID, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusFailed, got.Status)
	assert.Equal(t, "Failed to start analysis", got.ReportData["error"])

	stored := reload(t, db, report.ID)
	assert.Equal(t, model.ReportStatusFailed, stored.Status)
	assert.Equal(t, "Failed to start analysis", stored.ReportData["error"])
}

func TestReportService_Get_MergesManualChecks(t *testing.T) {
	svc, _, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID,
		testutil.Completed(model.JSONMap{"title": "Example"}),
		testutil.WithManualChecks(model.BoolMap{"titleTag": false}),
	)

	got, err := svc.Get(context.Background(), user.ID, report.ID, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"titleTag": false}, got.ReportData["manualChecks"])
}

func TestReportService_Update(t *testing.T) {
	svc, _, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID, testutil.Completed(model.JSONMap{"title": "Old", "score": 40.0}))

	got, err := svc.Update(context.Background(), user.ID, report.ID, &dto.UpdateReportRequest{
		ReportData: map[string]interface{}{
			"title":        "New",
			"manualChecks": map[string]interface{}{"titleTag": true, "metaDescription": false},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusCompleted, got.Status)
	assert.Equal(t, "New", got.ReportData["title"])
	assert.NotContains(t, got.ReportData, "score", "update is a full replacement")
	assert.Equal(t, map[string]interface{}{"titleTag": true, "metaDescription": false}, got.ReportData["manualChecks"])

	stored := reload(t, db, report.ID)
	assert.NotContains(t, stored.ReportData, "manualChecks")
	assert.Equal(t, model.BoolMap{"titleTag": true, "metaDescription": false}, stored.ManualChecks)
	assert.True(t, stored.UpdatedAt.After(report.UpdatedAt) || stored.UpdatedAt.Equal(report.UpdatedAt))
}

func TestReportService_Update_ClearsChecksWhenAbsent(t *testing.T) {
	svc, _, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID,
		testutil.Completed(model.JSONMap{"title": "Old"}),
		testutil.WithManualChecks(model.BoolMap{"titleTag": true}),
	)

	_, err := svc.Update(context.Background(), user.ID, report.ID, &dto.UpdateReportRequest{
		ReportData: map[string]interface{}{"title": "Old"},
	})
	require.NoError(t, err)
	assert.Nil(t, reload(t, db, report.ID).ManualChecks)
}

func TestReportService_Update_Errors(t *testing.T) {
	svc, _, db := setupReportService(t)
	owner := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)
	completed := testutil.TestReport(t, db, owner.ID, testutil.Completed(model.JSONMap{"title": "Example"}))
	processing := testutil.TestReport(t, db, owner.ID, testutil.WithStatus(model.ReportStatusProcessing), testutil.WithAttempt(1))
	ctx := context.Background()

	_, err := svc.Update(ctx, owner.ID, completed.ID, &dto.UpdateReportRequest{})
	assert.ErrorIs(t, err, ErrReportDataRequired)

	_, err = svc.Update(ctx, other.ID, completed.ID, &dto.UpdateReportRequest{ReportData: map[string]interface{}{"x": 1.0}})
	assert.ErrorIs(t, err, ErrReportNotFound)

	_, err = svc.Update(ctx, owner.ID, processing.ID, &dto.UpdateReportRequest{ReportData: map[string]interface{}{"x": 1.0}})
	assert.ErrorIs(t, err, ErrReportNotCompleted)

	_, err = svc.Update(ctx, owner.ID, completed.ID, &dto.UpdateReportRequest{
		ReportData: map[string]interface{}{"manualChecks": map[string]interface{}{"titleTag": "yes"}},
	})
	assert.ErrorIs(t, err, ErrInvalidManualChecks)

	assert.Equal(t, "Example", reload(t, db, completed.ID).ReportData["title"])
}

func TestReportService_Delete(t *testing.T) {
	svc, _, db := setupReportService(t)
	snaps := &fakeSnapshots{}
	svc.WithSnapshots(snaps)
	owner := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, owner.ID, testutil.Completed(model.JSONMap{"title": "Example"}))
	testutil.TestJob(t, db, report, model.JobStatusCompleted)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, other.ID, report.ID), ErrReportNotFound)

	require.NoError(t, svc.Delete(ctx, owner.ID, report.ID))
	assert.Equal(t, []string{report.ID}, snaps.deleted)

	var count int64
	db.Model(&model.Report{}).Where("id = ?", report.ID).Count(&count)
	assert.Equal(t, int64(0), count)
	db.Model(&model.ReportJob{}).Where("report_id = ?", report.ID).Count(&count)
	assert.Equal(t, int64(0), count)

	assert.ErrorIs(t, svc.Delete(ctx, owner.ID, report.ID), ErrReportNotFound)
}

func TestReportService_List(t *testing.T) {
	svc, _, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)
	now := time.Now()

	old := testutil.TestReport(t, db, user.ID, testutil.WithCreatedAt(now.Add(-time.Hour)), testutil.Completed(model.JSONMap{"title": "Old"}))
	recent := testutil.TestReport(t, db, user.ID, testutil.WithCreatedAt(now))
	testutil.TestReport(t, db, other.ID)

	items, err := svc.List(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, recent.ID, items[0].ID)
	assert.Equal(t, old.ID, items[1].ID)
}

func TestReportService_Jobs(t *testing.T) {
	svc, _, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID)
	ctx := context.Background()

	_, err := svc.Get(ctx, user.ID, report.ID, ModeFull)
	require.NoError(t, err)
	_, err = svc.Get(ctx, user.ID, report.ID, ModeReanalyze)
	require.NoError(t, err)

	jobs, err := svc.Jobs(ctx, user.ID, report.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, 2, jobs[0].Attempt)
	assert.Equal(t, 1, jobs[1].Attempt)

	_, err = svc.Jobs(ctx, other.ID, report.ID)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestReportService_GetPublic(t *testing.T) {
	svc, _, db := setupReportService(t)
	user := testutil.TestUser(t, db)
	pending := testutil.TestReport(t, db, user.ID, testutil.WithWebsite("pending.example.com"))
	completed := testutil.TestReport(t, db, user.ID,
		testutil.WithWebsite("done.example.com"),
		testutil.Completed(model.JSONMap{"title": "Done"}),
	)
	ctx := context.Background()

	view, err := svc.GetPublic(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, &dto.PublicReport{ID: pending.ID, Status: model.ReportStatusPending, Website: "pending.example.com"}, view)

	view, err = svc.GetPublic(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Done", view.ReportData["title"])
	assert.NotEmpty(t, view.CreatedAt)

	_, err = svc.GetPublic(ctx, "missing")
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestReportService_GetPublic_Cache(t *testing.T) {
	svc, _, db := setupReportService(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	svc.WithCache(cache.NewReportCache(client, time.Hour))

	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID, testutil.Completed(model.JSONMap{"title": "Done"}))
	ctx := context.Background()

	_, err := svc.GetPublic(ctx, report.ID)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)

	// 直接改库，缓存命中仍返回旧值
	require.NoError(t, db.Model(&model.Report{}).Where("id = ?", report.ID).
		Update("report_data", model.JSONMap{"title": "Changed"}).Error)
	view, err := svc.GetPublic(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, "Done", view.ReportData["title"])

	// 通过服务更新会失效缓存
	_, err = svc.Update(ctx, user.ID, report.ID, &dto.UpdateReportRequest{ReportData: map[string]interface{}{"title": "Edited"}})
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 0)

	view, err = svc.GetPublic(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, "Edited", view.ReportData["title"])

	// 重新分析同样失效
	_, err = svc.Get(ctx, user.ID, report.ID, ModeReanalyze)
	require.NoError(t, err)
	view, err = svc.GetPublic(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusProcessing, view.Status)
	assert.Nil(t, view.ReportData)
}

func TestReportService_GetPublic_CacheRaceWithReanalyze(t *testing.T) {
	svc, d, db := setupReportService(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	svc.WithCache(cache.NewReportCache(client, time.Hour))

	user := testutil.TestUser(t, db)
	report := testutil.TestReport(t, db, user.ID, testutil.Completed(model.JSONMap{"title": "Old"}))
	ctx := context.Background()

	// 公开读取已加载 attempt 1 的完成态
	loaded := reload(t, db, report.ID)
	staleView := &dto.PublicReport{ID: loaded.ID, Status: loaded.Status, Website: loaded.Website, ReportData: loaded.ReportData}

	// 写缓存之前用户发起了重新分析
	_, err := svc.Get(ctx, user.ID, report.ID, ModeReanalyze)
	require.NoError(t, err)
	require.Equal(t, 1, d.count())

	svc.cachePublic(ctx, loaded, staleView)
	assert.Empty(t, mr.Keys())

	view, err := svc.GetPublic(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusProcessing, view.Status)
	assert.Nil(t, view.ReportData)
}

func TestSplitManualChecks(t *testing.T) {
	data, checks, err := splitManualChecks(map[string]interface{}{"a": 1.0, "manualChecks": nil})
	require.NoError(t, err)
	assert.Equal(t, model.JSONMap{"a": 1.0}, data)
	assert.Nil(t, checks)

	_, _, err = splitManualChecks(map[string]interface{}{"manualChecks": []interface{}{true}})
	assert.ErrorIs(t, err, ErrInvalidManualChecks)
}

func TestMergeManualChecks(t *testing.T) {
	assert.Nil(t, mergeManualChecks(nil, model.BoolMap{"a": true}))

	in := model.JSONMap{"title": "x"}
	out := mergeManualChecks(in, model.BoolMap{"a": true})
	assert.Equal(t, map[string]interface{}{"a": true}, out["manualChecks"])
	assert.NotContains(t, in, "manualChecks", "input is not mutated")
}
