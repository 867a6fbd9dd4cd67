package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/service"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

type confirmationServiceStub struct {
	scope   service.Scope
	form    models.FormCode
	id      string
	action  service.Action
	token   string
	reason  string
	uploads map[string]string
	err     error
}

func (s *confirmationServiceStub) Prepare(ctx context.Context, scope service.Scope, form models.FormCode, id string, action service.Action) (*service.Prompt, error) {
	s.scope, s.form, s.id, s.action = scope, form, id, action
	if s.err != nil {
		return nil, s.err
	}
	return &service.Prompt{Kind: service.ActionKindSubmission, Form: form, Token: "tok"}, nil
}

func (s *confirmationServiceStub) Confirm(ctx context.Context, token string, req service.ConfirmRequest) (*service.ConfirmResult, error) {
	s.token, s.reason = token, req.Reason
	s.uploads = map[string]string{}
	for _, f := range req.Files {
		data, err := io.ReadAll(f.Content)
		if err != nil {
			return nil, err
		}
		s.uploads[f.Field+"/"+f.Name] = string(data)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &service.ConfirmResult{Action: service.MutationCancel, Message: "Submission cancelled"}, nil
}

func preparePath(c *gin.Context, form, id, action string) {
	c.Params = gin.Params{{Key: "form", Value: form}, {Key: "id", Value: id}, {Key: "action", Value: action}}
}

func TestConfirmationHandlerPrepareScopes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &confirmationServiceStub{}
	h := NewConfirmationHandler(svc, 0)

	c, w := newGinContext(http.MethodPost, "/forms/mrf/submissions/4/actions/approve/prepare", nil)
	preparePath(c, "mrf", "4", "approve")
	h.Prepare(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, service.ScopeMonitoring, svc.scope)
	require.Equal(t, service.ActionApprove, svc.action)

	c, w = newGinContext(http.MethodPost, "/forms/mrf/submissions/4/actions/cancel/prepare", nil)
	preparePath(c, "mrf", "4", "cancel")
	h.Prepare(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, service.ScopeMine, svc.scope)

	c, w = newGinContext(http.MethodPost, "/forms/mrf/submissions/4/actions/start/prepare?scope=me", nil)
	preparePath(c, "mrf", "4", "start")
	h.Prepare(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, service.ScopeMine, svc.scope)
}

func TestConfirmationHandlerPrepareRejectsUnknownAction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &confirmationServiceStub{}
	h := NewConfirmationHandler(svc, 0)

	c, w := newGinContext(http.MethodPost, "/forms/mrf/submissions/4/actions/delete/prepare", nil)
	preparePath(c, "mrf", "4", "delete")
	h.Prepare(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Empty(t, svc.id)
}

func TestConfirmationHandlerConfirmJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &confirmationServiceStub{}
	h := NewConfirmationHandler(svc, 0)

	c, w := newGinContext(http.MethodPost, "/confirmations/confirm", []byte(`{"token":"abc","reason":"  duplicate entry "}`))
	h.Confirm(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "abc", svc.token)
	require.Equal(t, "duplicate entry", svc.reason)
	require.Contains(t, w.Body.String(), "Submission cancelled")
}

func TestConfirmationHandlerConfirmRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &confirmationServiceStub{}
	h := NewConfirmationHandler(svc, 0)

	c, w := newGinContext(http.MethodPost, "/confirmations/confirm", []byte(`{"reason":"x"}`))
	h.Confirm(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Empty(t, svc.token)
}

func TestConfirmationHandlerConfirmMultipartForwardsFiles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &confirmationServiceStub{}
	h := NewConfirmationHandler(svc, 1<<20)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("token", "abc"))
	part, err := mw.CreateFormFile("attachments[0]", "birth-certificate.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	c, w := newGinContext(http.MethodPost, "/confirmations/confirm", body.Bytes())
	c.Request.Header.Set("Content-Type", mw.FormDataContentType())
	h.Confirm(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "abc", svc.token)
	require.Equal(t, map[string]string{"attachments[0]/birth-certificate.pdf": "%PDF-1.4"}, svc.uploads)
}

func TestConfirmationHandlerConfirmInFlight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &confirmationServiceStub{err: appErrors.ErrInFlight}
	h := NewConfirmationHandler(svc, 0)

	c, w := newGinContext(http.MethodPost, "/confirmations/confirm", []byte(`{"token":"abc"}`))
	h.Confirm(c)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "ACTION_IN_FLIGHT")
}
