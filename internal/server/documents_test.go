package server

import (
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/retirementsolutions/raymondo/config"
	"github.com/retirementsolutions/raymondo/internal/ingest"
	"github.com/retirementsolutions/raymondo/internal/store"
)

func newDocumentsHandler(t *testing.T) (*DocumentsHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &DocumentsHandler{
		Store:  &store.Store{DB: db},
		Logger: log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}, mock
}

func expectRegistryList(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`FROM uploaded_documents`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "author", "created_at"}).
			AddRow(int64(2), "rules.pdf", "HMRC", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)).
			AddRow(int64(1), "guide.pdf", "Unknown", time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)))
	countQuery := regexp.QuoteMeta(`SELECT COUNT(*) FROM documents WHERE metadata->>'source' = $1`)
	mock.ExpectQuery(countQuery).WithArgs("rules.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(40))
	mock.ExpectQuery(countQuery).WithArgs("guide.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
}

func TestListDocumentsWithChunkCounts(t *testing.T) {
	h, mock := newDocumentsHandler(t)
	expectRegistryList(mock)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.list(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"rules.pdf"`) || !strings.Contains(body, `"chunks":40`) {
		t.Fatalf("unexpected body: %s", body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExportDocumentsCSV(t *testing.T) {
	h, mock := newDocumentsHandler(t)
	expectRegistryList(mock)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/documents/export", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.export(c); err != nil {
		t.Fatalf("export: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "name,author,uploaded_at,chunks" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "rules.pdf,HMRC,") || !strings.HasSuffix(lines[1], ",40") {
		t.Fatalf("unexpected row: %s", lines[1])
	}
}

func TestDeleteDocumentRemovesChunksFirst(t *testing.T) {
	h, mock := newDocumentsHandler(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM uploaded_documents WHERE name = $1`)).
		WithArgs("guide.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE metadata->>'source' = $1`)).
		WithArgs("guide.pdf").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM uploaded_documents WHERE name = $1`)).
		WithArgs("guide.pdf").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/documents/guide.pdf", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("guide.pdf")

	if err := h.remove(c); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"chunks_removed":12`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteUnknownDocument(t *testing.T) {
	h, mock := newDocumentsHandler(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM uploaded_documents WHERE name = $1`)).
		WithArgs("missing.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/documents/missing.pdf", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("missing.pdf")

	err := h.remove(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestUpdateAuthorValidation(t *testing.T) {
	h, _ := newDocumentsHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/api/documents/guide.pdf", strings.NewReader(`{"author":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("guide.pdf")

	err := h.updateAuthor(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

// One failing file in a batch upload must not discard the outcomes of the
// other files in the same request.
func TestUploadContinuesPastFailedFile(t *testing.T) {
	h, mock := newDocumentsHandler(t)
	h.Pipeline = ingest.NewPipeline(
		h.Store,
		&cannedProvider{},
		config.IngestConfig{ChunkSize: 1000, ChunkOverlap: 100, BatchSize: 100},
		h.Logger,
		nil,
	)

	// bad.pdf errors at its dedup check; rules.pdf is a known duplicate.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM uploaded_documents WHERE name = $1`)).
		WithArgs("bad.pdf").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM uploaded_documents WHERE name = $1`)).
		WithArgs("rules.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	var body strings.Builder
	boundary := "testboundary"
	for _, name := range []string{"bad.pdf", "rules.pdf"} {
		body.WriteString("--" + boundary + "\r\n")
		body.WriteString("Content-Disposition: form-data; name=\"files\"; filename=\"" + name + "\"\r\n")
		body.WriteString("Content-Type: application/pdf\r\n\r\n")
		body.WriteString("%PDF-1.4\r\n")
	}
	body.WriteString("--" + boundary + "--\r\n")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(body.String()))
	req.Header.Set(echo.HeaderContentType, "multipart/form-data; boundary="+boundary)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.upload(c); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `"outcome":"failed"`) || !strings.Contains(out, `"bad.pdf"`) {
		t.Fatalf("missing failed outcome: %s", out)
	}
	if !strings.Contains(out, `"outcome":"duplicate"`) {
		t.Fatalf("missing duplicate outcome for the later file: %s", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	h, _ := newDocumentsHandler(t)

	var body strings.Builder
	boundary := "testboundary"
	body.WriteString("--" + boundary + "\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"file\"; filename=\"notes.txt\"\r\n")
	body.WriteString("Content-Type: text/plain\r\n\r\n")
	body.WriteString("plain text\r\n")
	body.WriteString("--" + boundary + "--\r\n")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(body.String()))
	req.Header.Set(echo.HeaderContentType, "multipart/form-data; boundary="+boundary)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.upload(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
