package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/dbsketch/dbsketch/internal/config"
	"github.com/dbsketch/dbsketch/internal/providers"
	"github.com/dbsketch/dbsketch/internal/schema"
)

const testDescription = "users and orders tables linked by a 1:N relationship"

const testSchemaJSON = `{
	"tables": [
		{"name": "users", "columns": [
			{"name": "id", "type": "UUID", "is_primary_key": true, "is_foreign_key": false}
		]},
		{"name": "orders", "columns": [
			{"name": "id", "type": "UUID", "is_primary_key": true, "is_foreign_key": false},
			{"name": "user_id", "type": "UUID", "is_primary_key": false, "is_foreign_key": true}
		]}
	],
	"relationships": [
		{"from_table": "orders", "from_column": "user_id", "to_table": "users", "to_column": "id", "type": "1:N"}
	]
}`

func newTestServer(t *testing.T, mock providers.LLMClient) *Server {
	t.Helper()
	t.Setenv("HF_ACCESS_TOKEN", "test-token")

	mgr, err := config.NewManager("")
	if err != nil {
		t.Fatalf("config.NewManager() error = %v", err)
	}

	s, err := New(Config{
		ConfigManager: mgr,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewClient: func(*config.Config) providers.LLMClient {
			return mock
		},
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	return s
}

// uploadRequest builds a multipart POST with an explicit part content type,
// the way browsers and HTTP clients send file uploads.
func uploadRequest(t *testing.T, contentType string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="diagram.png"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("part.Write() error = %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/generate-schema", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, providers.NewMockClient())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", resp["status"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	s := newTestServer(t, providers.NewMockClient())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode ready response: %v", err)
	}
	if resp["pipeline"] != "ok" {
		t.Fatalf("pipeline field = %q, want ok", resp["pipeline"])
	}
}

func TestGenerateSchema_Success(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Responses = []string{testDescription, testSchemaJSON}
	s := newTestServer(t, mock)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "image/png", []byte("fake png bytes")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	var ds schema.DatabaseSchema
	if err := json.NewDecoder(rec.Body).Decode(&ds); err != nil {
		t.Fatalf("decode schema response: %v", err)
	}
	if len(ds.Tables) != 2 || len(ds.Relationships) != 1 {
		t.Fatalf("got %d tables, %d relationships, want 2 and 1", len(ds.Tables), len(ds.Relationships))
	}
	if ds.Relationships[0].Type != schema.RelationOneToMany {
		t.Fatalf("relationship type = %q, want 1:N", ds.Relationships[0].Type)
	}
}

func TestGenerateSchema_RejectsNonImageUpload(t *testing.T) {
	mock := providers.NewMockClient()
	s := newTestServer(t, mock)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "text/plain", []byte("id,name\n1,alice")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp["error"] != "invalid file type" {
		t.Fatalf("error = %q, want invalid file type", resp["error"])
	}
	// Rejection happens before any model call.
	if got := mock.RequestCount(); got != 0 {
		t.Fatalf("model request count = %d, want 0", got)
	}
}

func TestGenerateSchema_MissingFileField(t *testing.T) {
	s := newTestServer(t, providers.NewMockClient())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("note", "no file here"); err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/generate-schema", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateSchema_PipelineFailureIs500(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ShouldFail = true
	s := newTestServer(t, mock)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "image/jpeg", []byte("fake jpeg bytes")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if !strings.HasPrefix(resp["error"], "processing failed: ") {
		t.Fatalf("error = %q, want processing failed prefix", resp["error"])
	}
}

func TestGenerateSchema_ValidationExhaustionIs500(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Responses = []string{testDescription, "garbage", "garbage", "garbage"}
	s := newTestServer(t, mock)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "image/webp", []byte("fake webp bytes")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	// One vision call plus three extraction attempts.
	if got := mock.RequestCount(); got != 4 {
		t.Fatalf("model request count = %d, want 4", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, providers.NewMockClient())

	req := httptest.NewRequest(http.MethodOptions, "/generate-schema", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want http://localhost:3000", got)
	}
}

func TestNew_RequiresConfigManager(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New() without a config manager should fail")
	}
}

func TestNew_FailsFastOnMissingToken(t *testing.T) {
	t.Setenv("HF_ACCESS_TOKEN", "")

	mgr, err := config.NewManager("")
	if err != nil {
		t.Fatalf("config.NewManager() error = %v", err)
	}

	_, err = New(Config{
		ConfigManager: mgr,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewClient: func(*config.Config) providers.LLMClient {
			return providers.NewMockClient()
		},
	})
	if err == nil {
		t.Fatal("New() should fail when no API token is configured")
	}
	if !strings.Contains(err.Error(), "api_token") {
		t.Fatalf("error = %v, want api_token mention", err)
	}
}
