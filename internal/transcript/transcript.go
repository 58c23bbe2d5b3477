package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	stream "github.com/halvard/boreas/internal"
)

// ErrNotFound is returned when no transcript matches the query.
var ErrNotFound = errors.New("transcript not found")

// SaveTranscript inserts a completed transcript. Implements stream.Recorder.
func (s *Store) SaveTranscript(ctx context.Context, t *stream.Transcript) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO transcripts
		 (id, request_id, question, answer, status, error, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RequestID, t.Question, t.Answer, t.Status, t.Error,
		t.TokenCount, t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Recent returns the most recent transcripts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]stream.Transcript, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, request_id, question, answer, status, error, token_count, created_at
		 FROM transcripts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stream.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetByRequestID returns the transcript recorded for a request id.
func (s *Store) GetByRequestID(ctx context.Context, requestID string) (*stream.Transcript, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, request_id, question, answer, status, error, token_count, created_at
		 FROM transcripts WHERE request_id = ? ORDER BY created_at DESC LIMIT 1`, requestID)
	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row scanner) (stream.Transcript, error) {
	var (
		t       stream.Transcript
		created string
	)
	err := row.Scan(&t.ID, &t.RequestID, &t.Question, &t.Answer,
		&t.Status, &t.Error, &t.TokenCount, &created)
	if err != nil {
		return stream.Transcript{}, err
	}
	t.CreatedAt, err = time.Parse(time.RFC3339, created)
	if err != nil {
		return stream.Transcript{}, fmt.Errorf("parse created_at: %w", err)
	}
	return t, nil
}
