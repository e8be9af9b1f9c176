package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statement-import-service/internal/api"
	"statement-import-service/internal/app"
	"statement-import-service/internal/config"
	"statement-import-service/internal/importer"
	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

const (
	testUser    = "user-1"
	testAccount = "acct-1"
)

func discardLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewWithWriter(logger.DefaultConfig(), io.Discard)
	require.NoError(t, err)
	return log
}

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	log := discardLogger(t)

	a, err := app.New(context.Background(), cfg, log)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	srv := httptest.NewServer(api.NewServer(a.Orchestrator, a.Uploads, log).Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(ctx))
	})
	return srv, a
}

func do(t *testing.T, method, target, userID string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set(api.UserIDHeader, userID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func requireErrorCode(t *testing.T, resp *http.Response, status int, code errors.ErrorCode) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)

	var body errors.PublicError
	decode(t, resp, &body)
	assert.Equal(t, code, body.Code)
	assert.NotEmpty(t, body.Message)
}

func initiate(t *testing.T, srv *httptest.Server) importer.InitiateResponse {
	t.Helper()

	resp := do(t, http.MethodPost, srv.URL+"/accounts/"+testAccount+"/imports", testUser, map[string]string{
		"fileName": "jan.csv",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out importer.InitiateResponse
	decode(t, resp, &out)
	require.NotEmpty(t, out.UploadID)
	return out
}

func upload(t *testing.T, srv *httptest.Server, uploadURL, content string) {
	t.Helper()

	parsed, err := url.Parse(uploadURL)
	require.NoError(t, err)

	resp := do(t, http.MethodPut, srv.URL+parsed.EscapedPath(), "", content)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func getRecord(t *testing.T, srv *httptest.Server, uploadID string) models.ImportRecord {
	t.Helper()

	resp := do(t, http.MethodGet, srv.URL+"/accounts/"+testAccount+"/imports/"+uploadID, testUser, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var record models.ImportRecord
	decode(t, resp, &record)
	return record
}

func confirmBody(strategy string) map[string]interface{} {
	return map[string]interface{}{
		"confirmations": map[string]bool{
			"accountCorrect":   true,
			"dateRangeCorrect": true,
			"samplesReviewed":  true,
		},
		"duplicateHandling": strategy,
	}
}

func TestImportLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	started := initiate(t, srv)
	assert.Equal(t, 300, started.ExpiresIn)

	upload(t, srv, started.UploadURL, "date,description,amount\n2024-01-02,Coffee,-4.50\n2024-01-03,Salary,2500.00\n")

	analyzed := getRecord(t, srv, started.UploadID)
	require.Equal(t, models.StatusAnalyzed, analyzed.Status)
	require.NotNil(t, analyzed.AnalysisSnapshot)
	assert.Equal(t, 2, analyzed.AnalysisSnapshot.FileStats.TransactionCount)

	resp := do(t, http.MethodPost, srv.URL+"/accounts/"+testAccount+"/imports/"+started.UploadID+"/confirm", testUser, confirmBody("skip"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var confirmed importer.ConfirmResponse
	decode(t, resp, &confirmed)
	assert.Equal(t, models.StatusProcessing, confirmed.Status)

	require.Eventually(t, func() bool {
		return getRecord(t, srv, started.UploadID).Status == models.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	done := getRecord(t, srv, started.UploadID)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 2, done.Summary.TransactionsAdded)
}

func TestRequestValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	started := initiate(t, srv)
	importPath := srv.URL + "/accounts/" + testAccount + "/imports/" + started.UploadID

	tests := []struct {
		name   string
		method string
		target string
		userID string
		body   interface{}
		status int
		code   errors.ErrorCode
	}{
		{
			name:   "missing caller",
			method: http.MethodGet,
			target: importPath,
			status: http.StatusBadRequest,
			code:   errors.CodeMissingField,
		},
		{
			name:   "not the owner",
			method: http.MethodGet,
			target: importPath,
			userID: "intruder",
			status: http.StatusForbidden,
			code:   errors.CodeNotOwner,
		},
		{
			name:   "unknown import",
			method: http.MethodGet,
			target: srv.URL + "/accounts/" + testAccount + "/imports/nope",
			userID: testUser,
			status: http.StatusNotFound,
			code:   errors.CodeImportNotFound,
		},
		{
			name:   "malformed body",
			method: http.MethodPost,
			target: srv.URL + "/accounts/" + testAccount + "/imports",
			userID: testUser,
			body:   "{not json",
			status: http.StatusBadRequest,
			code:   errors.CodeMissingField,
		},
		{
			name:   "missing file name",
			method: http.MethodPost,
			target: srv.URL + "/accounts/" + testAccount + "/imports",
			userID: testUser,
			body:   map[string]string{},
			status: http.StatusBadRequest,
			code:   errors.CodeMissingField,
		},
		{
			name:   "confirm before analysis",
			method: http.MethodPost,
			target: importPath + "/confirm",
			userID: testUser,
			body:   confirmBody("SKIP"),
			status: http.StatusConflict,
			code:   errors.CodeInvalidState,
		},
		{
			name:   "confirm without acknowledgements",
			method: http.MethodPost,
			target: importPath + "/confirm",
			userID: testUser,
			body:   map[string]interface{}{"duplicateHandling": "SKIP"},
			status: http.StatusBadRequest,
			code:   errors.CodeConfirmationRequired,
		},
		{
			name:   "confirm with unknown strategy",
			method: http.MethodPost,
			target: importPath + "/confirm",
			userID: testUser,
			body:   confirmBody("MERGE"),
			status: http.StatusBadRequest,
			code:   errors.CodeInvalidStrategy,
		},
		{
			name:   "retry a pending import",
			method: http.MethodPost,
			target: importPath + "/retry",
			userID: testUser,
			status: http.StatusConflict,
			code:   errors.CodeInvalidState,
		},
		{
			name:   "notification with bad key",
			method: http.MethodPost,
			target: srv.URL + "/notifications/raw-file",
			body:   api.RawFileNotification{Bucket: "statement-imports", Name: "not/a/valid/key"},
			status: http.StatusBadRequest,
			code:   errors.CodeInvalidKey,
		},
		{
			name:   "notification without bucket",
			method: http.MethodPost,
			target: srv.URL + "/notifications/raw-file",
			body:   api.RawFileNotification{Name: "x"},
			status: http.StatusBadRequest,
			code:   errors.CodeMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, tt.target, tt.userID, tt.body)
			requireErrorCode(t, resp, tt.status, tt.code)
		})
	}
}

func TestRawFileNotification(t *testing.T) {
	srv, a := newTestServer(t)
	started := initiate(t, srv)

	record, err := a.Orchestrator.GetImportStatus(context.Background(), testAccount, started.UploadID)
	require.NoError(t, err)
	require.NoError(t, a.Uploads.Put(context.Background(), record.Bucket, record.StorageKey, []byte("date,description,amount\n2024-01-02,Coffee,-4.50\n")))

	event := api.RawFileNotification{Bucket: record.Bucket, Name: record.StorageKey}
	resp := do(t, http.MethodPost, srv.URL+"/notifications/raw-file", "", event)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, models.StatusAnalyzed, getRecord(t, srv, started.UploadID).Status)

	// redelivery is a no-op
	resp = do(t, http.MethodPost, srv.URL+"/notifications/raw-file", "", event)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, models.StatusAnalyzed, getRecord(t, srv, started.UploadID).Status)
}

func TestUploadOfInvalidFileFailsImport(t *testing.T) {
	srv, _ := newTestServer(t)
	started := initiate(t, srv)

	upload(t, srv, started.UploadURL, "date,description,amount\n")

	record := getRecord(t, srv, started.UploadID)
	assert.Equal(t, models.StatusFailed, record.Status)
	require.NotNil(t, record.Error)
	assert.Equal(t, string(errors.CodeTooFewLines), record.Error.Code)
}

type panickingPipeline struct {
	api.Pipeline
}

func (panickingPipeline) GetImportStatus(ctx context.Context, accountID, uploadID string) (*models.ImportRecord, error) {
	panic("boom")
}

func TestRecoveryAndRequestID(t *testing.T) {
	srv := httptest.NewServer(api.NewServer(panickingPipeline{}, nil, discardLogger(t)).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/accounts/a/imports/u", nil)
	require.NoError(t, err)
	req.Header.Set(api.UserIDHeader, testUser)
	req.Header.Set(api.RequestIDHeader, "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get(api.RequestIDHeader))
	requireErrorCode(t, resp, http.StatusInternalServerError, errors.CodeUnexpectedError)
}

func TestUploadRouteRequiresUploadStore(t *testing.T) {
	srv := httptest.NewServer(api.NewServer(panickingPipeline{}, nil, discardLogger(t)).Handler())
	defer srv.Close()

	resp := do(t, http.MethodPut, srv.URL+"/blobs/b/k", "", "data")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(api.RequestIDHeader))
}
