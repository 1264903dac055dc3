package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/expert-match/internal/config"
	"github.com/kirillkom/expert-match/internal/core/domain"
)

type ingestFake struct {
	importErr error
}

func (f ingestFake) Register(_ context.Context, profile domain.ExpertProfile) (*domain.ExpertProfile, error) {
	if profile.Email == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register expert", errors.New("email is required"))
	}
	now := time.Now().UTC()
	profile.ID = "e-1"
	profile.Status = domain.ExpertStatusRegistered
	profile.CreatedAt = now
	profile.UpdatedAt = now
	return &profile, nil
}

func (f ingestFake) ImportRoster(_ context.Context, body io.Reader) ([]domain.ExpertProfile, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "import roster", io.EOF)
	}
	out := []domain.ExpertProfile{{ID: "e-1", Name: "Alice", Email: "alice@example.com"}}
	if f.importErr != nil {
		return out, f.importErr
	}
	return append(out, domain.ExpertProfile{ID: "e-2", Name: "Bob", Email: "bob@example.com"}), nil
}

func (f ingestFake) AttachCV(_ context.Context, expertID, filename string, body io.Reader) (*domain.ExpertProfile, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if expertID != "e-1" {
		return nil, domain.WrapError(domain.ErrExpertNotFound, "attach cv", errors.New("id="+expertID))
	}
	return &domain.ExpertProfile{ID: expertID, Name: "Alice", Bio: string(raw), CVPath: expertID + "_" + filename}, nil
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id header")
	}
}

func TestOpenAPIDocumentServed(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !bytes.Contains(res.Body.Bytes(), []byte("/v1/query/stream")) {
		t.Fatalf("openapi document does not describe the stream endpoint")
	}
}

func TestLoadContract(t *testing.T) {
	doc, err := LoadContract(context.Background())
	if err != nil {
		t.Fatalf("LoadContract() error = %v", err)
	}
	if doc.Paths.Find("/v1/experts/{id}/cv") == nil {
		t.Fatalf("expected cv upload path in contract")
	}
}

func TestRegisterExpertSuccess(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, nil, nil, nil)

	res := postJSON(t, handler, "/v1/experts", map[string]any{
		"name":         "Alice",
		"email":        "alice@example.com",
		"technologies": []string{"Go", "Kafka"},
	})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var profile domain.ExpertProfile
	if err := json.NewDecoder(res.Body).Decode(&profile); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if profile.ID != "e-1" || profile.Status != domain.ExpertStatusRegistered {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestRegisterExpertRequiresEmail(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, nil, nil, nil)

	res := postJSON(t, handler, "/v1/experts", map[string]any{"name": "Alice"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestImportRosterSuccess(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, nil, nil, nil)

	body, contentType := multipartBody(t, "roster.xlsx", []byte("xlsx-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/v1/experts/import", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var out importResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Imported != 2 || len(out.Experts) != 2 {
		t.Fatalf("unexpected import response: %+v", out)
	}
}

func TestImportRosterReportsPartialImport(t *testing.T) {
	ingest := ingestFake{importErr: domain.WrapError(domain.ErrInvalidInput, "register expert", errors.New("row 2: email is required"))}
	handler := newTestRouter(t, config.Config{}, nil, ingest, nil)

	body, contentType := multipartBody(t, "roster.xlsx", []byte("xlsx-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/v1/experts/import", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	var out errorResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Imported == nil || *out.Imported != 1 {
		t.Fatalf("expected imported=1, got %+v", out)
	}
}

func TestAttachCVSuccess(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, nil, nil, nil)

	body, contentType := multipartBody(t, "cv.txt", []byte("Ten years of Go."))
	req := httptest.NewRequest(http.MethodPost, "/v1/experts/e-1/cv", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var profile domain.ExpertProfile
	if err := json.NewDecoder(res.Body).Decode(&profile); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if profile.CVPath != "e-1_cv.txt" || profile.Bio != "Ten years of Go." {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestAttachCVUnknownExpertReturns404(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, nil, nil, nil)

	body, contentType := multipartBody(t, "cv.txt", []byte("text"))
	req := httptest.NewRequest(http.MethodPost, "/v1/experts/nobody/cv", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestAttachCVMissingMultipartField(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/experts/e-1/cv", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
