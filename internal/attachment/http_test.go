package attachment

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abduss/gomedia/internal/auth"
	"github.com/abduss/gomedia/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpFixture struct {
	*harness
	router *gin.Engine
	token  string
}

func newHTTPFixture(t *testing.T, opts ...harnessOption) *httpFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := newHarness(t, opts...)

	authService := auth.NewService(config.AuthConfig{AccessTokenSecret: "test-secret", AccessTokenTTL: time.Minute})
	token, _, err := authService.IssueAccessToken(h.userID, "owner@example.com", false, 0)
	require.NoError(t, err)

	router := gin.New()
	group := router.Group("/v1")
	group.Use(auth.AuthMiddleware(authService))
	RegisterRoutes(group, h.svc)
	return &httpFixture{harness: h, router: router, token: token}
}

func (f *httpFixture) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+f.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *httpFixture) upload(t *testing.T, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return f.do(t, http.MethodPost, "/v1/attachments", &body, w.FormDataContentType())
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) View {
	t.Helper()
	var v View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHTTPUploadImage(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.upload(t, "wide.png", pngBytes(t, 900, 300))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	v := decodeView(t, rec)
	assert.Equal(t, "image", v.MediaType)
	assert.Equal(t, f.userID, v.UserID)
	assert.Equal(t, "http://files.test/attachments/"+v.ID.String()+".png", v.URL)
	assert.Contains(t, v.Variants, "thumbnails")
	assert.Empty(t, dirEntries(t, f.tempDir))
}

func TestHTTPUploadVideoIsAccepted(t *testing.T) {
	f := newHTTPFixture(t, withQuota(1))

	rec := f.upload(t, "clip.mp4", mp4Bytes())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.True(t, decodeView(t, rec).InProgress())

	rec = f.upload(t, "again.mp4", mp4Bytes())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHTTPUploadRequiresFile(t *testing.T) {
	f := newHTTPFixture(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("post_id", uuid.NewString()))
	require.NoError(t, w.Close())

	rec := f.do(t, http.MethodPost, "/v1/attachments", &body, w.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPUploadTooLarge(t *testing.T) {
	f := newHTTPFixture(t)
	f.svc.cfg.MaxUploadSize = 512

	rec := f.upload(t, "big.bin", bytes.Repeat([]byte("x"), 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, f.repo.count())
}

func TestHTTPRequiresToken(t *testing.T) {
	f := newHTTPFixture(t)
	f.token = ""

	rec := f.do(t, http.MethodGet, "/v1/attachments/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPGetAndDelete(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.upload(t, "pic.png", pngBytes(t, 40, 40))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeView(t, rec).ID.String()

	rec = f.do(t, http.MethodGet, "/v1/attachments/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeView(t, rec).ID.String())

	rec = f.do(t, http.MethodGet, "/v1/attachments/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/attachments/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/attachments/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPMaintenanceOnInProgress(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.upload(t, "clip.mp4", mp4Bytes())
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeView(t, rec).ID.String()

	rec = f.do(t, http.MethodPost, "/v1/attachments/"+id+"/sanitize", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/attachments/"+id+"/previews", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHTTPSanitize(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.upload(t, "pic.png", pngBytes(t, 40, 40))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeView(t, rec).ID.String()

	rec = f.do(t, http.MethodPost, "/v1/attachments/"+id+"/sanitize", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeView(t, rec).Sanitized)
}
