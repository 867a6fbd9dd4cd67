package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/repository"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/jobs"
	"github.com/noah-isme/movement-gateway/pkg/storage"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

type exportJobStoreStub struct {
	mu   sync.Mutex
	jobs map[string]*models.ExportJob
	seq  int
}

func newExportJobStoreStub() *exportJobStoreStub {
	return &exportJobStoreStub{jobs: map[string]*models.ExportJob{}}
}

func (s *exportJobStoreStub) Create(_ context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.ID = "job-" + string(rune('0'+s.seq))
	job.CreatedAt = time.Now().UTC()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *exportJobStoreStub) GetByID(_ context.Context, id string) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	cp := *job
	return &cp, nil
}

func (s *exportJobStoreStub) Update(_ context.Context, id string, p repository.UpdateExportJobParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.Progress != nil {
		job.Progress = *p.Progress
	}
	if p.ResultURL != nil {
		job.ResultURL = p.ResultURL
	}
	if p.ErrorMessage != nil {
		job.ErrorMessage = p.ErrorMessage
	}
	if p.FinishedAt != nil {
		job.FinishedAt = p.FinishedAt
	}
	if p.ClearToken {
		job.Params.Token = ""
	}
	return nil
}

func (s *exportJobStoreStub) ListQueued(context.Context, int) ([]models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExportJob
	for _, job := range s.jobs {
		if job.Status == models.ExportStatusQueued {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *exportJobStoreStub) ListFinishedBefore(context.Context, time.Time, int) ([]models.ExportJob, error) {
	return nil, nil
}

type exportSourceStub struct {
	*backendStub
	blob    string
	blobErr error
	token   string
}

func (e *exportSourceStub) ExportSubmissions(ctx context.Context, form models.FormCode, q models.ListQuery) (*upstream.Blob, error) {
	e.token = upstream.TokenFromContext(ctx)
	if e.blobErr != nil {
		return nil, e.blobErr
	}
	return &upstream.Blob{
		Body:        io.NopCloser(strings.NewReader(e.blob)),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		FileName:    "submissions.xlsx",
	}, nil
}

type dispatcherSpy struct {
	enqueued []jobs.Job
}

func (d *dispatcherSpy) Enqueue(job jobs.Job) error {
	d.enqueued = append(d.enqueued, job)
	return nil
}

type exportFixture struct {
	svc    *ExportService
	repo   *exportJobStoreStub
	source *exportSourceStub
	queue  *dispatcherSpy
}

func newExportFixture(t *testing.T) exportFixture {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer, err := storage.NewSigner("test-master", storage.PurposeExportDownload, time.Hour)
	require.NoError(t, err)
	f := exportFixture{
		repo:   newExportJobStoreStub(),
		source: &exportSourceStub{backendStub: newBackendStub()},
		queue:  &dispatcherSpy{},
	}
	f.svc = NewExportService(f.repo, f.source, files, signer, NewMetricsService(), ExportConfig{APIPrefix: "/api/v1", MaxRetries: 2}, nil)
	f.svc.UseQueue(f.queue)
	return f
}

func TestExportCreateQueuesAndRedactsToken(t *testing.T) {
	f := newExportFixture(t)
	ctx := sessionCtx("u1")

	_, err := f.svc.Create(ctx, CreateExportRequest{Form: models.FormMDA, Format: "docx"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	job, err := f.svc.Create(ctx, CreateExportRequest{Form: models.FormMDA, Format: models.ExportFormatCSV})
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusQueued, job.Status)
	require.Empty(t, job.Params.Token)
	require.Equal(t, string(ScopeMonitoring), job.Params.Scope)
	require.Len(t, f.queue.enqueued, 1)

	stored, _ := f.repo.GetByID(ctx, job.ID)
	require.Equal(t, "token-u1", stored.Params.Token)

	_, err = f.svc.Status(sessionCtx("u2"), job.ID)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestExportRendersMonitoringRows(t *testing.T) {
	f := newExportFixture(t)
	ctx := sessionCtx("u1")
	f.source.submissions["1"] = &models.FormSubmission{ID: "1", ReferenceNumber: "DC-0001", ApprovalStatus: "APPROVED", EmployeeName: strPtr("Reyes, Ana")}
	f.source.submissions["2"] = &models.FormSubmission{ID: "2", ApprovalStatus: "PENDING"}

	job, err := f.svc.Create(ctx, CreateExportRequest{Form: models.FormDataChange, Format: models.ExportFormatCSV})
	require.NoError(t, err)
	require.NoError(t, f.svc.Handle(context.Background(), f.queue.enqueued[0]))

	status, err := f.svc.Status(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusFinished, status.Status)
	require.Equal(t, 100, status.Progress)
	stored, _ := f.repo.GetByID(ctx, job.ID)
	require.Empty(t, stored.Params.Token)
	require.NotNil(t, status.ResultURL)
	require.True(t, strings.HasPrefix(*status.ResultURL, "/api/v1/exports/download/"))

	token := (*status.ResultURL)[len("/api/v1/exports/download/"):]
	dl, err := f.svc.Download(context.Background(), token)
	require.NoError(t, err)
	defer dl.File.Close()
	body, err := io.ReadAll(dl.File)
	require.NoError(t, err)
	require.Contains(t, string(body), "DC-0001")
	require.Contains(t, string(body), "Reyes, Ana")
	require.Contains(t, string(body), "#2")
	require.Equal(t, 1, f.source.callCount("list-monitoring"))

	_, err = f.svc.Download(context.Background(), token+"x")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestExportStreamsUpstreamFileWithCallerToken(t *testing.T) {
	f := newExportFixture(t)
	ctx := sessionCtx("u1")
	f.source.blob = "PK-fake-xlsx"

	job, err := f.svc.Create(ctx, CreateExportRequest{Form: models.FormMRF, Format: models.ExportFormatUpstream, Scope: ScopeMine})
	require.NoError(t, err)
	require.NoError(t, f.svc.Handle(context.Background(), f.queue.enqueued[0]))
	require.Equal(t, "token-u1", f.source.token)

	status, err := f.svc.Status(ctx, job.ID)
	require.NoError(t, err)
	token := (*status.ResultURL)[strings.LastIndex(*status.ResultURL, "/")+1:]
	dl, err := f.svc.Download(context.Background(), token)
	require.NoError(t, err)
	defer dl.File.Close()
	require.True(t, strings.HasSuffix(dl.Filename, ".xlsx"))
	require.True(t, strings.HasPrefix(dl.Filename, "mrf_me_"))
}

func TestExportUpstreamRejectionFailsPermanently(t *testing.T) {
	f := newExportFixture(t)
	ctx := sessionCtx("u1")
	f.source.blobErr = appErrors.Clone(appErrors.ErrForbidden, "You cannot export this report")

	job, err := f.svc.Create(ctx, CreateExportRequest{Form: models.FormMDA, Format: models.ExportFormatUpstream})
	require.NoError(t, err)

	err = f.svc.Handle(context.Background(), f.queue.enqueued[0])
	var permanent *jobs.PermanentError
	require.ErrorAs(t, err, &permanent)

	status, err := f.svc.Status(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusFailed, status.Status)
	require.Equal(t, "You cannot export this report", *status.ErrorMessage)
	stored, _ := f.repo.GetByID(ctx, job.ID)
	require.Empty(t, stored.Params.Token)
}

func TestExportTransientFailureRequeues(t *testing.T) {
	f := newExportFixture(t)
	ctx := sessionCtx("u1")
	f.source.blobErr = appErrors.Clone(appErrors.ErrUpstreamUnavailable, "")

	job, err := f.svc.Create(ctx, CreateExportRequest{Form: models.FormMDA, Format: models.ExportFormatUpstream})
	require.NoError(t, err)

	err = f.svc.Handle(context.Background(), f.queue.enqueued[0])
	require.Error(t, err)
	var permanent *jobs.PermanentError
	require.False(t, errors.As(err, &permanent))

	status, err := f.svc.Status(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusQueued, status.Status)
	stored, _ := f.repo.GetByID(ctx, job.ID)
	require.Equal(t, "token-u1", stored.Params.Token)

	f.svc.RecoverPendingJobs(context.Background())
	require.Len(t, f.queue.enqueued, 2)
}

func TestExportCreateStoresTabFilter(t *testing.T) {
	f := newExportFixture(t)
	ctx := sessionCtx("u1")

	job, err := f.svc.Create(ctx, CreateExportRequest{
		Form:   models.FormMDA,
		Format: models.ExportFormatCSV,
		Query:  models.ListQuery{Tab: "returned"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{string(models.StatusReturned), string(models.StatusAwaitingResubmission)}, job.Params.Query.ApprovalStatus)

	require.NoError(t, f.svc.Handle(context.Background(), f.queue.enqueued[0]))
	sent := f.source.lastCall("list-monitoring").Query
	require.Equal(t, []string{string(models.StatusReturned), string(models.StatusAwaitingResubmission)}, sent.ApprovalStatus)
	require.Equal(t, "returned", sent.Tab)
}
