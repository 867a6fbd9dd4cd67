package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/service"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

type exportServiceStub struct {
	req      service.CreateExportRequest
	job      *models.ExportJob
	download *service.ExportDownload
	err      error
}

func (s *exportServiceStub) Create(ctx context.Context, req service.CreateExportRequest) (*models.ExportJob, error) {
	s.req = req
	return s.job, s.err
}

func (s *exportServiceStub) Status(ctx context.Context, id string) (*models.ExportJob, error) {
	return s.job, s.err
}

func (s *exportServiceStub) Download(ctx context.Context, token string) (*service.ExportDownload, error) {
	return s.download, s.err
}

func TestExportHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &exportServiceStub{job: &models.ExportJob{ID: "job-1", Status: models.ExportStatusQueued}}
	h := NewExportHandler(svc)

	c, w := newGinContext(http.MethodPost, "/exports", []byte(`{"form":"mrf","format":"csv","scope":"monitoring","query":{"search":"ana"}}`))
	h.Create(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, models.ExportFormatCSV, svc.req.Format)
	require.Equal(t, "ana", svc.req.Query.Search)
	require.Contains(t, w.Body.String(), `"status":"QUEUED"`)

	c, w = newGinContext(http.MethodPost, "/exports", []byte(`{"form":"mrf"}`))
	h.Create(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestExportHandlerStatusNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewExportHandler(&exportServiceStub{err: appErrors.ErrNotFound})

	c, w := newGinContext(http.MethodGet, "/exports/job-2", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-2"}}
	h.Status(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportHandlerDownloadStreamsFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "mrf_monitoring.csv")
	require.NoError(t, os.WriteFile(path, []byte("Reference\nMRF-1\n"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	h := NewExportHandler(&exportServiceStub{download: &service.ExportDownload{
		File:        file,
		Filename:    "mrf_monitoring.csv",
		ContentType: "text/csv; charset=utf-8",
		ExpiresAt:   time.Now().Add(time.Hour),
	}})

	c, w := newGinContext(http.MethodGet, "/exports/download/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	h.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `attachment; filename="mrf_monitoring.csv"`, w.Header().Get("Content-Disposition"))
	require.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	require.Equal(t, "Reference\nMRF-1\n", w.Body.String())
}

func TestExportHandlerDownloadRejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewExportHandler(&exportServiceStub{err: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")})

	c, w := newGinContext(http.MethodGet, "/exports/download/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}
	h.Download(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}
