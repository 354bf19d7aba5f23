package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailcadence/internal/cadence"
	"mailcadence/internal/job"
	"mailcadence/internal/mail"
	"mailcadence/internal/runner"
	"mailcadence/internal/storage"
	logx "mailcadence/pkg/logx"
)

const (
	listPreview   = 3
	detailPreview = 5
	detailFirings = 20
	maxBodyBytes  = 1 << 20
)

// Scheduler is the launcher surface the API drives.
type Scheduler interface {
	StartNewJob(j job.Job, creds runner.CredentialProvider) bool
	Cancel(id string) bool
	Get(id string) (runner.Info, bool)
	Running() []runner.Info
}

// Handler implements the routes. Scheduler may be nil when scheduling is
// disabled; jobs are then only persisted.
type Handler struct {
	Store     storage.Store
	Scheduler Scheduler
	Transport mail.Transport
	Location  *time.Location
	// AttachmentDir holds uploads. Job attachment paths are relative to it.
	AttachmentDir string
	// State backs /debug/state; nil disables the route.
	State func() any
	Now   func() time.Time
	Log   logx.Logger
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /jobs", h.listJobs)
	mux.HandleFunc("POST /jobs", h.createJob)
	mux.HandleFunc("GET /jobs/{id}", h.getJob)
	mux.HandleFunc("PUT /jobs/{id}", h.updateJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.deleteJob)
	mux.HandleFunc("POST /jobs/{id}/send", h.sendNow)
	mux.HandleFunc("POST /jobs/{id}/attachments", h.uploadAttachments)
	mux.HandleFunc("GET /attachments/{name...}", h.getAttachment)
	mux.HandleFunc("GET /runners", h.listRunners)
	mux.HandleFunc("GET /debug/state", h.debugState)
	return mux
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) loc() *time.Location {
	if h.Location != nil {
		return h.Location
	}
	return time.Local
}

func (h *Handler) log() logx.Logger {
	if h.Log.IsZero() {
		return logx.Nop()
	}
	return h.Log
}

// jobView is the wire form of a job. Credentials are never included.
type jobView struct {
	job.Job
	Scheduled bool             `json:"scheduled"`
	NextRuns  []time.Time      `json:"next_runs"`
	Runner    *runner.Info     `json:"runner,omitempty"`
	Firings   []storage.Firing `json:"firings,omitempty"`
}

func (h *Handler) view(j job.Job, preview int) jobView {
	v := jobView{Job: j.Redacted(), NextRuns: []time.Time{}}
	for _, t := range cadence.Upcoming(j.Grid(), h.now(), preview) {
		v.NextRuns = append(v.NextRuns, t.In(h.loc()))
	}
	if h.Scheduler != nil {
		if info, ok := h.Scheduler.Get(j.ID); ok {
			v.Scheduled = true
			v.Runner = &info
		}
	}
	return v
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok"}
	if h.Scheduler != nil {
		out["runners"] = len(h.Scheduler.Running())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Store.ListJobs(r.Context(), strings.TrimSpace(r.URL.Query().Get("owner")))
	if err != nil {
		h.internal(w, "list jobs", err)
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, h.view(j, listPreview))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	v := h.view(j, detailPreview)
	firings, err := h.Store.ListFirings(r.Context(), j.ID, detailFirings)
	if err != nil {
		h.internal(w, "list firings", err)
		return
	}
	v.Firings = firings
	writeJSON(w, http.StatusOK, v)
}

// jobRequest is the create/update body. Recipients may be a JSON array or a
// string in any form job.ParseRecipients accepts. The start is either
// start_at (RFC 3339) or start_date + start_time in the server timezone.
type jobRequest struct {
	Owner          string          `json:"owner"`
	Recipients     json.RawMessage `json:"recipients"`
	Subject        *string         `json:"subject"`
	Body           *string         `json:"body"`
	ScheduleOption *string         `json:"schedule_option"`
	StartAt        *time.Time      `json:"start_at"`
	StartDate      string          `json:"start_date"`
	StartTime      string          `json:"start_time"`
	Attachments    []string        `json:"attachments"`
	Token          string          `json:"token"`
	RefreshToken   string          `json:"refresh_token"`
}

func (req jobRequest) recipients() ([]string, bool, error) {
	raw := strings.TrimSpace(string(req.Recipients))
	if raw == "" || raw == "null" {
		return nil, false, nil
	}
	var list []string
	if err := json.Unmarshal(req.Recipients, &list); err == nil {
		return job.ParseRecipients(strings.Join(list, ",")), true, nil
	}
	var s string
	if err := json.Unmarshal(req.Recipients, &s); err != nil {
		return nil, false, errors.New("recipients must be a string or an array of strings")
	}
	return job.ParseRecipients(s), true, nil
}

// apply merges req into j; fields absent from req are kept.
func (req jobRequest) apply(j *job.Job, loc *time.Location) error {
	rcpts, set, err := req.recipients()
	if err != nil {
		return err
	}
	if set {
		j.Recipients = rcpts
	}
	if req.Subject != nil {
		j.Subject = *req.Subject
	}
	if req.Body != nil {
		j.Body = *req.Body
	}
	if req.ScheduleOption != nil {
		j.ScheduleOption = strings.TrimSpace(*req.ScheduleOption)
	}
	switch {
	case req.StartAt != nil:
		j.StartAt = *req.StartAt
	case req.StartDate != "":
		t, err := job.ParseStartAt(req.StartDate, req.StartTime, loc)
		if err != nil {
			return err
		}
		j.StartAt = t
	}
	if req.Attachments != nil {
		j.Attachments = req.Attachments
	}
	if req.Token != "" {
		j.Token = req.Token
	}
	if req.RefreshToken != "" {
		j.RefreshToken = req.RefreshToken
	}
	return nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeBody(w, r, dst, false)
}

// decodeBody reads one JSON value into dst. With optional set an empty body
// leaves dst untouched, whatever Content-Length says.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) validate(j job.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	return mail.ValidateAttachments(h.AttachmentDir, j.Attachments)
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if !h.decode(w, r, &req) {
		return
	}
	j := job.Job{
		ID:        uuid.NewString(),
		Owner:     strings.TrimSpace(req.Owner),
		CreatedAt: h.now(),
	}
	if err := req.apply(&j, h.loc()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate(j); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Store.PutJob(r.Context(), j); err != nil {
		h.internal(w, "save job", err)
		return
	}
	if h.Scheduler != nil {
		h.Scheduler.StartNewJob(j, runner.Static(mail.Credentials{Token: req.Token, RefreshToken: req.RefreshToken}))
	}
	h.log().Info("job created", logx.String("job_id", j.ID), logx.String("owner", j.Owner), logx.String("schedule", j.ScheduleOption))
	writeJSON(w, http.StatusCreated, h.view(j, detailPreview))
}

// updateJob persists the edit only. The running runner keeps its snapshot
// until the next restart.
func (h *Handler) updateJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	var req jobRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.apply(&j, h.loc()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate(j); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Store.PutJob(r.Context(), j); err != nil {
		h.internal(w, "save job", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(j, detailPreview))
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Store.DeleteJob(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.internal(w, "delete job", err)
		return
	}
	cancelled := false
	if h.Scheduler != nil {
		cancelled = h.Scheduler.Cancel(id)
	}
	h.log().Info("job deleted", logx.String("job_id", id), logx.Bool("runner_cancelled", cancelled))
	w.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// sendNow delivers the job once, immediately, outside its schedule.
func (h *Handler) sendNow(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if !h.decodeBody(w, r, &req, true) {
		return
	}
	creds := mail.Credentials{Token: req.Token, RefreshToken: req.RefreshToken}
	if creds.Token == "" && creds.RefreshToken == "" {
		creds, _ = runner.StoredCredentials(j)
	}
	if creds.Token == "" && creds.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, mail.TokenExpiredMarker)
		return
	}

	msg := mail.RenderMessage(mail.Message{
		To:          j.Recipients,
		Subject:     j.Subject,
		Body:        j.Body,
		Attachments: j.Attachments,
	}, h.now().In(h.loc()))
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	if err := h.Transport.Send(ctx, creds, msg); err != nil {
		if mail.IsTokenExpired(err) {
			writeError(w, http.StatusUnauthorized, mail.TokenExpiredMarker)
			return
		}
		h.log().Warn("send now failed", logx.String("job_id", j.ID), logx.Err(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "recipients": len(msg.To)})
}

func (h *Handler) debugState(w http.ResponseWriter, r *http.Request) {
	if h.State == nil {
		writeError(w, http.StatusNotFound, "state not available")
		return
	}
	writeJSON(w, http.StatusOK, h.State())
}

func (h *Handler) listRunners(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, []runner.Info{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Running())
}

func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (job.Job, bool) {
	j, err := h.Store.GetJob(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return job.Job{}, false
	}
	if err != nil {
		h.internal(w, "load job", err)
		return job.Job{}, false
	}
	return j, true
}

func (h *Handler) internal(w http.ResponseWriter, what string, err error) {
	h.log().Error(what+" failed", logx.Err(err))
	writeError(w, http.StatusInternalServerError, what+" failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
