package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mailcadence/internal/job"
	logx "mailcadence/pkg/logx"
)

const compactEvery = 200

// fileStore keeps everything in memory and persists to:
//   - <prefix>.jobs.snapshot.json (compacted job map)
//   - <prefix>.jobs.journal.jsonl (put/delete records since the snapshot)
//   - <prefix>.firings.jsonl      (append-only, rewritten on prune)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	jobs         map[string]job.Job
	writes       int

	firingsPath string
	firingsFile *os.File
	firings     []Firing
	nextFiring  int64
}

type journalRecord struct {
	Op  string   `json:"op"`
	ID  string   `json:"id"`
	Job *job.Job `json:"job,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".jobs.snapshot.json",
		jobs:         map[string]job.Job{},
		firingsPath:  prefix + ".firings.jsonl",
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".jobs.journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := s.loadFirings(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var err error
	if s.journal, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		return nil, err
	}
	if s.firingsFile, err = os.OpenFile(s.firingsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		_ = s.journal.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &s.jobs)
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			// torn tail write after a crash
			continue
		}
		switch r.Op {
		case "put":
			if r.Job != nil {
				s.jobs[r.ID] = *r.Job
			}
		case "delete":
			delete(s.jobs, r.ID)
		}
	}
	return sc.Err()
}

func (s *fileStore) loadFirings() error {
	f, err := os.Open(s.firingsPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var fr Firing
		if err := json.Unmarshal(sc.Bytes(), &fr); err != nil {
			continue
		}
		s.firings = append(s.firings, fr)
		if fr.ID > s.nextFiring {
			s.nextFiring = fr.ID
		}
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.firingsFile != nil {
		errs = append(errs, s.firingsFile.Close())
		s.firingsFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) ListJobs(_ context.Context, owner string) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if owner == "" || j.Owner == owner {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (s *fileStore) GetJob(_ context.Context, id string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *fileStore) PutJob(_ context.Context, j job.Job) error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.jobs[j.ID]; ok {
		j.CreatedAt = prev.CreatedAt
	} else if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	j = j.Clone()
	if err := s.appendJournalLocked(journalRecord{Op: "put", ID: j.ID, Job: &j}); err != nil {
		return err
	}
	s.jobs[j.ID] = j
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	if err := s.appendJournalLocked(journalRecord{Op: "delete", ID: id}); err != nil {
		return err
	}
	delete(s.jobs, id)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) appendJournalLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.journal).Encode(r)
}

func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.writes%compactEvery != 0 {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Debug("job journal compact failed", logx.Err(err))
	}
}

// compactLocked writes the job map to the snapshot (tmp + rename) and
// truncates the journal.
func (s *fileStore) compactLocked() error {
	if err := writeFileAtomic(s.snapshotPath, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(s.jobs)
	}); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err := s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) AppendFiring(_ context.Context, f Firing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firingsFile == nil {
		return ErrClosed
	}
	if f.At.IsZero() {
		f.At = time.Now()
	}
	s.nextFiring++
	f.ID = s.nextFiring
	if err := json.NewEncoder(s.firingsFile).Encode(f); err != nil {
		return err
	}
	s.firings = append(s.firings, f)
	return nil
}

func (s *fileStore) ListFirings(_ context.Context, jobID string, limit int) ([]Firing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Firing
	for i := len(s.firings) - 1; i >= 0; i-- {
		f := s.firings[i]
		if jobID != "" && f.JobID != jobID {
			continue
		}
		out = append(out, f)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fileStore) PruneFirings(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firingsFile == nil {
		return 0, ErrClosed
	}
	kept := s.firings[:0:0]
	for _, f := range s.firings {
		if !f.At.Before(cutoff) {
			kept = append(kept, f)
		}
	}
	removed := int64(len(s.firings) - len(kept))
	if removed == 0 {
		return 0, nil
	}
	if err := writeFileAtomic(s.firingsPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, f := range kept {
			if err := enc.Encode(f); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}
	// The old handle points at the replaced inode.
	_ = s.firingsFile.Close()
	nf, err := os.OpenFile(s.firingsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.firingsFile = nil
		return 0, err
	}
	s.firingsFile = nf
	s.firings = kept
	return removed, nil
}

func writeFileAtomic(path string, write func(w io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
