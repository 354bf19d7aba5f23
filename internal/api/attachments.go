package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"mailcadence/internal/mail"
	logx "mailcadence/pkg/logx"
)

const (
	maxUploadBytes  = 25 << 20 // Gmail's message size limit
	uploadMemory    = 8 << 20
	uploadFormField = "file"
)

// uploadAttachments stores every "file" part under AttachmentDir as
// <uuid>/<name> and appends the relative paths to the job. Like updateJob,
// a running runner keeps its snapshot until the next restart.
func (h *Handler) uploadAttachments(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()
	files := r.MultipartForm.File[uploadFormField]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no "+uploadFormField+" parts in upload")
		return
	}

	var saved []string
	cleanup := func() {
		for _, rel := range saved {
			_ = os.RemoveAll(filepath.Dir(filepath.Join(h.AttachmentDir, rel)))
		}
	}
	for _, fh := range files {
		rel, err := h.saveUpload(fh)
		if err != nil {
			cleanup()
			h.internal(w, "store attachment", err)
			return
		}
		saved = append(saved, rel)
	}

	j.Attachments = append(j.Attachments, saved...)
	if err := h.Store.PutJob(r.Context(), j); err != nil {
		cleanup()
		h.internal(w, "save job", err)
		return
	}
	h.log().Info("attachments uploaded", logx.String("job_id", j.ID), logx.Int("count", len(saved)))
	writeJSON(w, http.StatusCreated, h.view(j, detailPreview))
}

func (h *Handler) saveUpload(fh *multipart.FileHeader) (string, error) {
	rel := filepath.ToSlash(filepath.Join(uuid.NewString(), uploadName(fh.Filename)))
	full, err := mail.ConfinePath(h.AttachmentDir, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	dst, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", err
	}
	return rel, dst.Close()
}

// uploadName reduces a client file name to a safe base name.
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "attachment"
	}
	return name
}

// getAttachment serves a stored attachment by its relative path.
func (h *Handler) getAttachment(w http.ResponseWriter, r *http.Request) {
	full, err := mail.ConfinePath(h.AttachmentDir, r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	if err != nil {
		h.internal(w, "open attachment", err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}
