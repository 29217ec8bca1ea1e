package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Mozzicato/Lumen/internal/document"
	"github.com/Mozzicato/Lumen/internal/filetype"
	"github.com/Mozzicato/Lumen/internal/storage"
)

const defaultListLimit = 100

func (h *Handler) Welcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Lumen API"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "lumen"})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	s := h.deps.Ready.Summary(r.Context())
	code := http.StatusOK
	if !s.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, s)
}

// Upload accepts a multipart "file", stores it and queues processing.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	head := make([]byte, filetype.SniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "unreadable file")
		return
	}
	head = head[:n]
	info := h.deps.Detector.DetectBytes(head)
	if n == 0 || !info.Supported {
		writeError(w, http.StatusBadRequest, "only PDF documents and images are supported")
		return
	}

	id := h.newID()
	p, err := h.deps.Uploads.Save(id, hdr.Filename, io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		h.log.Error().Err(err).Str("document_id", id).Msg("save upload failed")
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	doc, status, msg := h.register(r.Context(), id, hdr.Filename, p, p, info)
	if status != http.StatusCreated {
		_ = h.deps.Uploads.Remove(p)
		writeError(w, status, msg)
		return
	}
	h.archive(r.Context(), doc, p)
	h.enqueue(r.Context(), w, doc)
}

type importRequest struct {
	Source   string `json:"source"`
	Filename string `json:"filename"`
}

// Import registers a document whose source lives at an s3:// or http(s):// reference.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sources == nil {
		writeError(w, http.StatusNotImplemented, "remote sources not enabled")
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	src := strings.TrimSpace(req.Source)
	if !strings.HasPrefix(src, "s3://") && !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		writeError(w, http.StatusBadRequest, "source must be an s3:// or http(s):// reference")
		return
	}
	name := req.Filename
	if name == "" {
		name = path.Base(strings.SplitN(src, "?", 2)[0])
	}

	local, cleanup, err := h.deps.Sources.Resolve(r.Context(), src)
	if errors.Is(err, storage.ErrSourceTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "fetch source: "+err.Error())
		return
	}
	defer cleanup()
	if fi, err := os.Stat(local); err == nil && fi.Size() > h.deps.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	info, err := h.deps.Detector.Detect(local)
	if err != nil || !info.Supported {
		writeError(w, http.StatusBadRequest, "only PDF documents and images are supported")
		return
	}

	doc, status, msg := h.register(r.Context(), h.newID(), name, src, local, info)
	if status != http.StatusCreated {
		writeError(w, status, msg)
		return
	}
	h.enqueue(r.Context(), w, doc)
}

// register validates a PDF by counting its pages and creates the pending record.
func (h *Handler) register(ctx context.Context, id, name, source, local string, info *filetype.FileTypeInfo) (document.Document, int, string) {
	doc := document.New(id, name, source, info.MIMEType, h.now())
	if doc.IsPDF() && h.deps.PageCount != nil {
		pages, err := h.deps.PageCount(local)
		if err != nil {
			h.log.Warn().Err(err).Str("document_id", id).Msg("rejecting malformed pdf")
			return doc, http.StatusBadRequest, "malformed PDF"
		}
		doc.PageCount = pages
	}
	if err := h.deps.Store.Create(ctx, doc); err != nil {
		h.log.Error().Err(err).Str("document_id", id).Msg("create document failed")
		return doc, http.StatusInternalServerError, "could not create document"
	}
	return doc, http.StatusCreated, ""
}

// archive copies the upload to S3 when configured; failures only log.
func (h *Handler) archive(ctx context.Context, doc document.Document, local string) {
	if h.deps.Archive == nil {
		return
	}
	key := fmt.Sprintf("uploads/%s/%s", doc.ID, path.Base(local))
	meta := map[string]string{"document-id": doc.ID, "name": doc.Filename}
	if _, err := h.deps.Archive.Archive(ctx, key, local, doc.ContentType, meta); err != nil {
		h.log.Warn().Err(err).Str("document_id", doc.ID).Msg("archive upload failed")
	}
}

func (h *Handler) enqueue(ctx context.Context, w http.ResponseWriter, doc document.Document) {
	if err := h.deps.Queue.Enqueue(ctx, doc.ID); err != nil {
		h.log.Error().Err(err).Str("document_id", doc.ID).Msg("enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "document stored but could not be queued")
		return
	}
	h.log.Info().Str("document_id", doc.ID).Str("content_type", doc.ContentType).Int("pages", doc.PageCount).Msg("document queued")
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ListDocuments returns documents newest first.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	docs, err := h.deps.Store.List(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list documents failed")
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// Download serves the formatted Markdown of a completed document.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	if doc.Status != document.StatusCompleted || doc.FormattedText == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("document is %s", doc.Status))
		return
	}
	name := strings.TrimSuffix(doc.Filename, path.Ext(doc.Filename))
	if name == "" {
		name = doc.ID
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".md"))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, *doc.FormattedText)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (document.Document, bool) {
	id := mux.Vars(r)["id"]
	doc, ok, err := h.deps.Store.Get(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("document_id", id).Msg("load document failed")
		writeError(w, http.StatusInternalServerError, "could not load document")
		return document.Document{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Document not found")
		return document.Document{}, false
	}
	return doc, true
}
