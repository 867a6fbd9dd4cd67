package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/repository"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/export"
	"github.com/noah-isme/movement-gateway/pkg/jobs"
	"github.com/noah-isme/movement-gateway/pkg/storage"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
}

type exportSource interface {
	ListMySubmissions(ctx context.Context, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error)
	ListMonitoring(ctx context.Context, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error)
	ExportSubmissions(ctx context.Context, form models.FormCode, q models.ListQuery) (*upstream.Blob, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	SaveStream(ctx context.Context, filename string, r io.Reader) (int64, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
	MaxRows         int
}

// CreateExportRequest is the body of POST /exports.
type CreateExportRequest struct {
	Form   models.FormCode     `json:"form" binding:"required"`
	Format models.ExportFormat `json:"format" binding:"required"`
	Scope  Scope               `json:"scope"`
	Query  models.ListQuery    `json:"query"`
}

// ExportDownload is a resolved download.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// ExportService runs table exports in the background: jobs are persisted,
// processed by the queue and served through signed download URLs.
type ExportService struct {
	repo    exportJobStore
	source  exportSource
	storage fileStorage
	signer  *storage.Signer
	queue   jobDispatcher
	metrics *MetricsService
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs the service. The queue is attached later with
// UseQueue because the queue's handler is the service itself.
func NewExportService(repo exportJobStore, source exportSource, files fileStorage, signer *storage.Signer, metrics *MetricsService, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	return &ExportService{
		repo:    repo,
		source:  source,
		storage: files,
		signer:  signer,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// UseQueue sets the dispatcher new jobs are pushed to.
func (s *ExportService) UseQueue(q jobDispatcher) {
	s.queue = q
}

// Create validates the request, persists the job and enqueues it.
func (s *ExportService) Create(ctx context.Context, req CreateExportRequest) (*models.ExportJob, error) {
	if _, ok := models.ParseFormCode(string(req.Form)); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported form")
	}
	switch req.Format {
	case models.ExportFormatUpstream, models.ExportFormatCSV, models.ExportFormatXLSX, models.ExportFormatPDF:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	if req.Scope == "" {
		req.Scope = ScopeMonitoring
	}
	if req.Scope != ScopeMine && req.Scope != ScopeMonitoring {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exports cover my submissions or monitoring")
	}
	sess := SessionFromContext(ctx)
	job := &models.ExportJob{
		FormCode: req.Form,
		Format:   req.Format,
		Params: models.ExportJobParams{
			Scope: string(req.Scope),
			Query: ApplyTab(req.Query),
			Token: sessionToken(sess),
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: sess.Subject(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if s.queue == nil {
		return nil, appErrors.ErrFeatureDisabled
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Format)}); err != nil {
		s.markFailed(ctx, job.ID, "failed to enqueue job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return redact(job), nil
}

func sessionToken(sess *models.Session) string {
	if sess == nil {
		return ""
	}
	return sess.Token
}

// redact strips the forwarded bearer token before a job leaves the service.
func redact(job *models.ExportJob) *models.ExportJob {
	out := *job
	out.Params.Token = ""
	return &out
}

// Status returns a job owned by the caller.
func (s *ExportService) Status(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.CreatedBy != subjectOf(ctx) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	return redact(job), nil
}

// Download validates the signed token and opens the stored file.
func (s *ExportService) Download(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	contentType := mime.TypeByExtension(filepath.Ext(relPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &ExportDownload{
		File:        file,
		Filename:    filepath.Base(relPath),
		ContentType: contentType,
		ExpiresAt:   expiresAt,
	}, nil
}

// Handle processes one queue job.
func (s *ExportService) Handle(ctx context.Context, job jobs.Job) error {
	record, err := s.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return jobs.Permanent(err)
		}
		return err
	}
	processing := models.ExportStatusProcessing
	progress := 10
	if err := s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &processing, Progress: &progress}); err != nil {
		return err
	}

	ctx = upstream.WithToken(ctx, record.Params.Token)
	relPath, err := s.generate(ctx, record)
	if err != nil {
		if permanentExportError(err) || job.Attempt >= s.cfg.MaxRetries {
			s.markFailed(ctx, job.ID, appErrors.MessageOf(err, err.Error()))
			s.metrics.RecordExport(string(record.Format), "failed")
			return jobs.Permanent(err)
		}
		queued := models.ExportStatusQueued
		reset := 0
		msg := err.Error()
		if updateErr := s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &queued, Progress: &reset, ErrorMessage: &msg}); updateErr != nil {
			s.logger.Sugar().Warnw("failed to mark export queued", "job_id", job.ID, "error", updateErr)
		}
		return err
	}

	token, _, err := s.signer.Generate(record.ID, relPath)
	if err != nil {
		return jobs.Permanent(err)
	}
	url := s.downloadURL(token)
	finished := models.ExportStatusFinished
	progress = 100
	now := s.now().UTC()
	cleared := ""
	if err := s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &url,
		ErrorMessage: &cleared,
		FinishedAt:   &now,
		ClearToken:   true,
	}); err != nil {
		s.logger.Sugar().Warnw("failed to mark export finished", "job_id", job.ID, "error", err)
		return err
	}
	s.metrics.RecordExport(string(record.Format), "finished")
	s.logger.Sugar().Infow("export finished", "job_id", job.ID, "form", record.FormCode, "format", record.Format)
	return nil
}

// permanentExportError reports upstream rejections retrying cannot fix.
func permanentExportError(err error) bool {
	var e *appErrors.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status >= 400 && e.Status < 500
}

func (s *ExportService) markFailed(ctx context.Context, id, msg string) {
	failed := models.ExportStatusFailed
	progress := 100
	now := s.now().UTC()
	if err := s.repo.Update(ctx, id, repository.UpdateExportJobParams{
		Status:       &failed,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
		ClearToken:   true,
	}); err != nil {
		s.logger.Sugar().Warnw("failed to mark export failed", "job_id", id, "error", err)
	}
}

func (s *ExportService) downloadURL(token string) string {
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/exports/download/%s", prefix, token)
}

func (s *ExportService) generate(ctx context.Context, job *models.ExportJob) (string, error) {
	if job.Format == models.ExportFormatUpstream {
		blob, err := s.source.ExportSubmissions(ctx, job.FormCode, job.Params.Query)
		if err != nil {
			return "", err
		}
		defer blob.Body.Close()
		ext := strings.TrimPrefix(filepath.Ext(blob.FileName), ".")
		if ext == "" {
			ext = "xlsx"
		}
		name := s.buildFilename(job, ext)
		if _, err := s.storage.SaveStream(ctx, name, blob.Body); err != nil {
			return "", err
		}
		return name, nil
	}

	renderer, err := export.ForFormat(export.Format(job.Format))
	if err != nil {
		return "", jobs.Permanent(err)
	}
	dataset, err := s.buildDataset(ctx, job)
	if err != nil {
		return "", err
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return "", jobs.Permanent(err)
	}
	return s.storage.Save(s.buildFilename(job, renderer.Extension()), payload)
}

var exportHeaders = []string{"Reference", "Employee", "Employee Code", "Status", "Submitted", "Updated"}

// buildDataset pages through the table the export was requested from.
func (s *ExportService) buildDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, error) {
	list := s.source.ListMonitoring
	title := "Monitoring"
	if Scope(job.Params.Scope) == ScopeMine {
		list = s.source.ListMySubmissions
		title = "My Submissions"
	}
	q := job.Params.Query.Normalize()
	q.Page = 1
	q.PerPage = 100

	rows := make([]map[string]string, 0, q.PerPage)
	for len(rows) < s.cfg.MaxRows {
		page, err := list(ctx, job.FormCode, q)
		if err != nil {
			return export.Dataset{}, err
		}
		for _, sub := range page.Data {
			name, code := sub.Employee()
			rows = append(rows, map[string]string{
				"Reference":     sub.Reference(),
				"Employee":      name,
				"Employee Code": code,
				"Status":        ChipFor(string(sub.EffectiveStatus())).Label,
				"Submitted":     formatExportTime(sub.CreatedAt),
				"Updated":       formatExportTime(sub.UpdatedAt),
			})
		}
		if len(page.Data) == 0 || len(rows) >= page.Total {
			break
		}
		q.Page++
	}
	if len(rows) > s.cfg.MaxRows {
		rows = rows[:s.cfg.MaxRows]
	}
	return export.Dataset{
		Title:   fmt.Sprintf("%s %s", job.FormCode.Label(), title),
		Headers: exportHeaders,
		Rows:    rows,
	}, nil
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func (s *ExportService) buildFilename(job *models.ExportJob, ext string) string {
	stamp := s.now().UTC().Format("20060102_150405")
	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s_%s.%s", job.FormCode, strings.ReplaceAll(job.Params.Scope, "-", "_"), stamp, id, ext)
}

// RecoverPendingJobs replays queued jobs after a restart.
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	if s.queue == nil {
		return
	}
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued export jobs", "error", err)
		return
	}
	for _, job := range pending {
		err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Format)})
		switch {
		case errors.Is(err, jobs.ErrDuplicate):
			s.logger.Sugar().Debugw("pending export already queued", "job_id", job.ID)
		case err != nil:
			s.logger.Sugar().Warnw("failed to requeue pending export", "job_id", job.ID, "error", err)
		}
	}
}

// StartCleanup purges expired export files periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired(ctx)
			}
		}
	}()
}

// CleanupExpired removes files of jobs finished before the result TTL.
func (s *ExportService) CleanupExpired(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.ResultTTL)
	finished, err := s.repo.ListFinishedBefore(ctx, cutoff, 100)
	if err != nil {
		s.logger.Sugar().Warnw("export cleanup list failed", "error", err)
		return
	}
	for _, job := range finished {
		if job.ResultURL == nil {
			continue
		}
		token := (*job.ResultURL)[strings.LastIndex(*job.ResultURL, "/")+1:]
		_, relPath, _, err := s.signer.Parse(token, true)
		if err != nil {
			continue
		}
		if err := s.storage.Delete(relPath); err != nil {
			s.logger.Sugar().Warnw("export cleanup delete failed", "job_id", job.ID, "error", err)
		}
	}
	if _, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("export filesystem cleanup failed", "error", err)
	}
}
