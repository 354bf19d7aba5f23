package mail

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrAttachmentPath is returned for attachment paths that are absolute or
// climb out of the attachment directory.
var ErrAttachmentPath = errors.New("attachment path outside attachments dir")

type attachmentDir struct {
	next Transport
	dir  string
}

// WithAttachmentDir confines attachments to dir and resolves them against it
// before delivery. An empty dir means the working directory.
func WithAttachmentDir(next Transport, dir string) Transport {
	return &attachmentDir{next: next, dir: strings.TrimSpace(dir)}
}

func (a *attachmentDir) Send(ctx context.Context, creds Credentials, msg Message) error {
	resolved, err := ResolveAttachments(msg, a.dir)
	if err != nil {
		return err
	}
	return a.next.Send(ctx, creds, resolved)
}

// ConfinePath joins the relative path p to dir. Absolute paths and paths that
// leave dir after cleaning are rejected with ErrAttachmentPath.
func ConfinePath(dir, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || filepath.VolumeName(p) != "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrAttachmentPath, p)
	}
	joined := filepath.Join(dir, p)
	rel, err := filepath.Rel(filepath.Clean(dir), joined)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrAttachmentPath, p)
	}
	return joined, nil
}

// ValidateAttachments checks every path with ConfinePath.
func ValidateAttachments(dir string, paths []string) error {
	for _, p := range paths {
		if _, err := ConfinePath(dir, p); err != nil {
			return err
		}
	}
	return nil
}

// ResolveAttachments returns msg with every attachment joined to dir. Blank
// entries are dropped. msg.Attachments itself is not modified.
func ResolveAttachments(msg Message, dir string) (Message, error) {
	if len(msg.Attachments) == 0 {
		return msg, nil
	}
	out := make([]string, 0, len(msg.Attachments))
	for _, p := range msg.Attachments {
		if strings.TrimSpace(p) == "" {
			continue
		}
		full, err := ConfinePath(dir, p)
		if err != nil {
			return msg, err
		}
		out = append(out, full)
	}
	msg.Attachments = out
	return msg, nil
}
