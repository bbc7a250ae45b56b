package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeJSONL = "application/x-ndjson"

	// multipartThreshold switches trade logs to the multipart uploader.
	multipartThreshold = 8 * 1024 * 1024
)

// SessionArchiver implements domain.Archiver. A session is written under
// archive/sessions/{owner}/{YYYY-MM}/{session id}/ as session.json plus
// trades, positions and snapshots in JSONL.
type SessionArchiver struct {
	writer domain.BlobWriter
}

var _ domain.Archiver = (*SessionArchiver)(nil)

// NewArchiver creates a SessionArchiver uploading through writer.
func NewArchiver(writer domain.BlobWriter) *SessionArchiver {
	return &SessionArchiver{writer: writer}
}

// ArchiveSession uploads every part of the archive and returns the key
// prefix. Trades go last so a present trades.jsonl marks a complete upload.
func (a *SessionArchiver) ArchiveSession(ctx context.Context, arc domain.SessionArchive) (string, error) {
	prefix := archivePrefix(arc.Session)

	sess, err := json.Marshal(arc.Session)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive session %q: marshal: %w", arc.Session.ID, err)
	}
	if err := a.writer.Put(ctx, path.Join(prefix, "session.json"), bytes.NewReader(sess), contentTypeJSON); err != nil {
		return "", fmt.Errorf("s3blob: archive session %q: %w", arc.Session.ID, err)
	}

	if err := putJSONL(ctx, a.writer, path.Join(prefix, "positions.jsonl"), arc.Positions); err != nil {
		return "", fmt.Errorf("s3blob: archive session %q: %w", arc.Session.ID, err)
	}
	if err := putJSONL(ctx, a.writer, path.Join(prefix, "snapshots.jsonl"), arc.Snapshots); err != nil {
		return "", fmt.Errorf("s3blob: archive session %q: %w", arc.Session.ID, err)
	}
	if err := putJSONL(ctx, a.writer, path.Join(prefix, "trades.jsonl"), arc.Trades); err != nil {
		return "", fmt.Errorf("s3blob: archive session %q: %w", arc.Session.ID, err)
	}
	return prefix, nil
}

func putJSONL[T any](ctx context.Context, w domain.BlobWriter, key string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if len(buf) > multipartThreshold {
		return w.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	}
	return w.Put(ctx, key, bytes.NewReader(buf), contentTypeJSONL)
}

func archivePrefix(s domain.Session) string {
	owner := s.OwnerID
	if owner == "" {
		owner = "_"
	}
	return path.Join("archive", "sessions", owner, s.StartedAt.UTC().Format("2006-01"), s.ID)
}

// marshalJSONL writes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
