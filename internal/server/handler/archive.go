package handler

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/fanpredict/marketd/internal/domain"
)

// archivePrefix is the key space the archive endpoints may touch. Keys
// outside it are invisible: the bucket may hold other data.
const archivePrefix = "archive/"

// ArchiveHandler exposes the settled-bet archive in object storage: listing
// export files, downloading one, and pruning old ones. All routes are
// admin-only and registered only when archiving is enabled.
type ArchiveHandler struct {
	blobs   domain.BlobReader
	deleter domain.BlobDeleter
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, deleter domain.BlobDeleter, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:   blobs,
		deleter: deleter,
		logger:  logger,
	}
}

// ListArchives returns metadata for archive objects. A ?prefix= narrows the
// listing within the archive key space, e.g. prefix=bets/2026-03.
// GET /api/archive
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix + strings.TrimPrefix(r.URL.Query().Get("prefix"), archivePrefix)

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(w, r, h.logger, "list archives", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"objects": infos})
}

// Download streams one archive object.
// GET /api/archive/{path...}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	key, ok := archiveKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, "download archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	if _, err := io.Copy(w, body); err != nil {
		// Headers are gone; all we can do is log the broken stream.
		h.logger.WarnContext(r.Context(), "archive download aborted",
			slog.String("path", key),
			slog.String("error", err.Error()),
		)
	}
}

// Delete removes one archive object. The mirror rows it held were pruned
// when it was written, so this is permanent.
// DELETE /api/archive/{path...}
func (h *ArchiveHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := archiveKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	exists, err := h.blobs.Exists(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, "delete archive", err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := h.deleter.Delete(r.Context(), key); err != nil {
		writeDomainError(w, r, h.logger, "delete archive", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// archiveKey resolves the wildcard path segment to a full object key and
// rejects anything that escapes the archive prefix.
func archiveKey(r *http.Request) (string, bool) {
	raw := pathParam(r, "path")
	if raw == "" {
		return "", false
	}
	key := archivePrefix + strings.TrimPrefix(raw, archivePrefix)
	if path.Clean("/"+key) != "/"+key {
		return "", false
	}
	return key, true
}
