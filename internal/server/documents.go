package server

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/retirementsolutions/raymondo/internal/ingest"
	"github.com/retirementsolutions/raymondo/internal/store"
)

type DocumentsHandler struct {
	Store    *store.Store
	Pipeline *ingest.Pipeline
	Logger   *log.Logger
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.POST("", h.upload)
	g.GET("", h.list)
	g.GET("/export", h.export)
	g.PUT("/:name", h.updateAuthor)
	g.DELETE("/:name", h.remove)
}

type documentView struct {
	store.Document
	Chunks int `json:"chunks"`
}

// upload ingests the PDFs of a multipart form and reports a per-file
// outcome. Each form file name, not the temp path, becomes that document's
// canonical name.
func (h *DocumentsHandler) upload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var files []*multipart.FileHeader
	for _, fhs := range form.File {
		files = append(files, fhs...)
	}
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one file required")
	}
	for _, fh := range files {
		if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
			return echo.NewHTTPError(http.StatusBadRequest, "only PDF files are accepted")
		}
	}

	results := make([]ingest.Result, 0, len(files))
	created := 0
	for _, fh := range files {
		result, err := h.ingestUpload(c.Request().Context(), fh)
		if err != nil {
			// One bad file must not discard the outcomes of the files
			// already ingested in this request.
			h.Logger.Printf("failed to ingest upload %s: %v", fh.Filename, err)
			result = ingest.Result{
				Name:    filepath.Base(fh.Filename),
				Outcome: ingest.OutcomeFailed,
				Error:   err.Error(),
			}
		}
		if result.Outcome == ingest.OutcomeIngested {
			created++
		}
		results = append(results, result)
	}
	status := http.StatusOK
	if created == len(results) {
		status = http.StatusCreated
	}
	return c.JSON(status, results)
}

func (h *DocumentsHandler) ingestUpload(ctx context.Context, fh *multipart.FileHeader) (ingest.Result, error) {
	src, err := fh.Open()
	if err != nil {
		return ingest.Result{}, err
	}
	defer src.Close()
	tmp, err := os.CreateTemp("", "raymondo-upload-*.pdf")
	if err != nil {
		return ingest.Result{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return ingest.Result{}, err
	}
	if err := tmp.Close(); err != nil {
		return ingest.Result{}, err
	}
	return h.Pipeline.IngestFile(ctx, tmp.Name(), filepath.Base(fh.Filename))
}

func (h *DocumentsHandler) list(c echo.Context) error {
	views, err := h.listViews(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, views)
}

// export streams the registry with chunk counts as CSV.
func (h *DocumentsHandler) export(c echo.Context) error {
	views, err := h.listViews(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="documents.csv"`)
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	if err := w.Write([]string{"name", "author", "uploaded_at", "chunks"}); err != nil {
		return err
	}
	for _, v := range views {
		row := []string{v.Name, v.Author, v.CreatedAt.Format(time.RFC3339), strconv.Itoa(v.Chunks)}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (h *DocumentsHandler) updateAuthor(c echo.Context) error {
	name := c.Param("name")
	var req struct {
		Author string `json:"author"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Author) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "author required")
	}
	err := h.Store.UpdateDocumentAuthor(c.Request().Context(), name, req.Author)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "document not registered")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"name": name, "author": req.Author})
}

// remove deletes the document's chunks before its registry row so that no
// chunk ever outlives its registry entry.
func (h *DocumentsHandler) remove(c echo.Context) error {
	name := c.Param("name")
	ctx := c.Request().Context()
	exists, err := h.Store.DocumentExists(ctx, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !exists {
		return echo.NewHTTPError(http.StatusNotFound, "document not registered")
	}
	removed, err := h.Store.DeleteChunksBySource(ctx, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.DeleteDocument(ctx, name); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Logger.Printf("deleted %s and %d chunks", name, removed)
	return c.JSON(http.StatusOK, map[string]interface{}{"name": name, "chunks_removed": removed})
}

func (h *DocumentsHandler) listViews(ctx context.Context) ([]documentView, error) {
	docs, err := h.Store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]documentView, 0, len(docs))
	for _, doc := range docs {
		count, err := h.Store.CountChunksBySource(ctx, doc.Name)
		if err != nil {
			return nil, err
		}
		views = append(views, documentView{Document: doc, Chunks: count})
	}
	return views, nil
}
