package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/meetsearch/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// SegmentReader is the read side consumed by the search engine.
type SegmentReader interface {
	GetMeeting(ctx context.Context, id string) (models.Meeting, bool, error)
	ProjectExists(ctx context.Context, projectID string) (bool, error)
	ListProjectMeetings(ctx context.Context, projectID string, f MeetingFilter) ([]models.Meeting, error)
	ListSegments(ctx context.Context, meetingID string, f SegmentFilter) ([]models.Segment, error)
}

// VectorSearcher is implemented by stores that can rank segments by cosine
// similarity themselves.
type VectorSearcher interface {
	NearestSegments(ctx context.Context, meetingID string, vec []float32, limit int, f SegmentFilter) ([]ScoredSegment, error)
}

// SegmentStore defines the methods that the Store must implement.
type SegmentStore interface {
	SegmentReader
	VectorSearcher
	Migrate(ctx context.Context, dim int) error
	UpsertMeeting(ctx context.Context, m models.Meeting) error
	UpsertSegment(ctx context.Context, seg models.Segment, vec []float32, textHash string) error
	GetSegmentMeta(ctx context.Context, id string) (SegmentMeta, bool, error)
	PruneSegments(ctx context.Context, meetingID string, keep []string) (int64, error)
}

// MeetingFilter narrows the meetings of a project. Zero values match all.
type MeetingFilter struct {
	UserID string
	From   *time.Time // inclusive, on created_at
	To     *time.Time // inclusive, on created_at
}

// SegmentFilter narrows the segments of a meeting by exact match.
type SegmentFilter struct {
	Speaker  string
	PersonID string
}

// Match reports whether seg passes the filter.
func (f SegmentFilter) Match(seg models.Segment) bool {
	if f.Speaker != "" && seg.SpeakerLabel != f.Speaker {
		return false
	}
	if f.PersonID != "" && (seg.PersonID == nil || *seg.PersonID != f.PersonID) {
		return false
	}
	return true
}

// Match reports whether m passes the filter.
func (f MeetingFilter) Match(m models.Meeting) bool {
	if f.UserID != "" && m.UserID != f.UserID {
		return false
	}
	if f.From != nil && m.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && m.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// ScoredSegment is a segment with its raw cosine similarity to a query.
type ScoredSegment struct {
	Segment    models.Segment
	Similarity float64
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS meetings (
  id          TEXT PRIMARY KEY,
  project_id  TEXT NOT NULL,
  user_id     TEXT NOT NULL,
  title       TEXT NOT NULL DEFAULT '',
  created_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS meetings_project_created_idx
  ON meetings (project_id, created_at);

CREATE TABLE IF NOT EXISTS segments (
  id             TEXT PRIMARY KEY,
  meeting_id     TEXT NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
  speaker_label  TEXT NOT NULL DEFAULT '',
  person_id      TEXT,
  start_time_ms  BIGINT NOT NULL,
  end_time_ms    BIGINT NOT NULL,
  text           TEXT NOT NULL,
  confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
  embedding      vector(%d),
  text_hash      TEXT,
  embedded_at    TIMESTAMP WITH TIME ZONE,
  created_at     TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS segments_meeting_start_idx
  ON segments (meeting_id, start_time_ms);

CREATE INDEX IF NOT EXISTS segments_embedding_idx
  ON segments USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// GetMeeting returns the meeting with the given id; found is false when it
// does not exist.
func (s *Store) GetMeeting(ctx context.Context, id string) (models.Meeting, bool, error) {
	const q = `SELECT id, project_id, user_id, title, created_at FROM meetings WHERE id = $1`
	var m models.Meeting
	err := s.pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Title, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Meeting{}, false, nil
		}
		return models.Meeting{}, false, fmt.Errorf("get meeting: %w", err)
	}
	return m, true, nil
}

// ProjectExists reports whether any meeting references projectID.
func (s *Store) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM meetings WHERE project_id = $1)`, projectID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("project exists: %w", err)
	}
	return ok, nil
}

// ListProjectMeetings returns the project's meetings ordered by creation time.
func (s *Store) ListProjectMeetings(ctx context.Context, projectID string, f MeetingFilter) ([]models.Meeting, error) {
	args := []any{projectID}
	where := "project_id = $1"
	where, args = appendCond(where, args, "user_id = $%d", f.UserID != "", f.UserID)
	if f.From != nil {
		where, args = appendCond(where, args, "created_at >= $%d", true, *f.From)
	}
	if f.To != nil {
		where, args = appendCond(where, args, "created_at <= $%d", true, *f.To)
	}

	q := `SELECT id, project_id, user_id, title, created_at FROM meetings WHERE ` + where + ` ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var out []models.Meeting
	for rows.Next() {
		var m models.Meeting
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Title, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const segmentColumns = `id, meeting_id, speaker_label, person_id, start_time_ms, end_time_ms, text, confidence, embedding`

// ListSegments returns the meeting's segments, embeddings included, ordered by
// start time.
func (s *Store) ListSegments(ctx context.Context, meetingID string, f SegmentFilter) ([]models.Segment, error) {
	where, args := segmentWhere(meetingID, f)
	q := `SELECT ` + segmentColumns + ` FROM segments WHERE ` + where + ` ORDER BY start_time_ms, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []models.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// NearestSegments returns up to limit embedded segments of the meeting ordered
// by descending cosine similarity to vec.
func (s *Store) NearestSegments(ctx context.Context, meetingID string, vec []float32, limit int, f SegmentFilter) ([]ScoredSegment, error) {
	if len(vec) == 0 || limit <= 0 {
		return nil, nil
	}
	where, args := segmentWhere(meetingID, f)
	args = append(args, pgvector.NewVector(vec))
	vi := len(args)
	args = append(args, limit)

	q := fmt.Sprintf(`
SELECT %s, 1 - (embedding <=> $%d) AS similarity
FROM segments
WHERE %s AND embedding IS NOT NULL
ORDER BY embedding <=> $%d, start_time_ms, id
LIMIT $%d`, segmentColumns, vi, where, vi, vi+1)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("nearest segments: %w", err)
	}
	defer rows.Close()

	var out []ScoredSegment
	for rows.Next() {
		var (
			seg models.Segment
			emb *pgvector.Vector
			sim float64
		)
		if err := rows.Scan(&seg.ID, &seg.MeetingID, &seg.SpeakerLabel, &seg.PersonID,
			&seg.StartTimeMs, &seg.EndTimeMs, &seg.Text, &seg.Confidence, &emb, &sim); err != nil {
			return nil, err
		}
		if emb != nil {
			seg.Embedding = emb.Slice()
		}
		out = append(out, ScoredSegment{Segment: seg, Similarity: sim})
	}
	return out, rows.Err()
}

// UpsertMeeting inserts or updates a meeting.
func (s *Store) UpsertMeeting(ctx context.Context, m models.Meeting) error {
	const q = `
		INSERT INTO meetings (id, project_id, user_id, title, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			user_id    = EXCLUDED.user_id,
			title      = EXCLUDED.title,
			created_at = meetings.created_at;`

	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, q, m.ID, m.ProjectID, m.UserID, m.Title, created)
	return err
}

// UpsertSegment inserts or updates a segment. A nil vec keeps the stored
// embedding when the text hash is unchanged and clears it otherwise.
func (s *Store) UpsertSegment(ctx context.Context, seg models.Segment, vec []float32, textHash string) error {
	var v any
	if vec != nil {
		v = pgvector.NewVector(vec)
	} else {
		v = (*pgvector.Vector)(nil)
	}

	const q = `
		INSERT INTO segments (
			id, meeting_id, speaker_label, person_id, start_time_ms, end_time_ms,
			text, confidence, embedding, text_hash, embedded_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
			CASE WHEN $9::vector IS NOT NULL THEN now() ELSE NULL END
		)
		ON CONFLICT (id) DO UPDATE SET
			speaker_label = EXCLUDED.speaker_label,
			person_id     = EXCLUDED.person_id,
			start_time_ms = EXCLUDED.start_time_ms,
			end_time_ms   = EXCLUDED.end_time_ms,
			text          = EXCLUDED.text,
			confidence    = EXCLUDED.confidence,
			text_hash     = EXCLUDED.text_hash,
			embedding     = CASE
				WHEN EXCLUDED.embedding IS NOT NULL THEN EXCLUDED.embedding
				WHEN segments.text_hash = EXCLUDED.text_hash THEN segments.embedding
				ELSE NULL END,
			embedded_at   = CASE
				WHEN EXCLUDED.embedding IS NOT NULL THEN now()
				WHEN segments.text_hash = EXCLUDED.text_hash THEN segments.embedded_at
				ELSE NULL END;`

	_, err := s.pool.Exec(ctx, q,
		seg.ID, seg.MeetingID, seg.SpeakerLabel, seg.PersonID, seg.StartTimeMs, seg.EndTimeMs,
		seg.Text, seg.Confidence, v, textHash,
	)
	return err
}

// PruneSegments deletes the segments of a meeting whose ids are not in keep
// and returns how many were removed. An empty keep clears the meeting.
func (s *Store) PruneSegments(ctx context.Context, meetingID string, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	const q = `DELETE FROM segments WHERE meeting_id = $1 AND NOT (id = ANY($2::text[]))`
	tag, err := s.pool.Exec(ctx, q, meetingID, keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SegmentMeta holds the indexing state of a segment.
type SegmentMeta struct {
	TextHash     string
	HasEmbedding bool
}

// GetSegmentMeta retrieves the indexing state of a segment.
func (s *Store) GetSegmentMeta(ctx context.Context, id string) (SegmentMeta, bool, error) {
	const q = `
      SELECT COALESCE(text_hash, ''),
             embedding IS NOT NULL
      FROM segments
      WHERE id = $1`
	var m SegmentMeta
	err := s.pool.QueryRow(ctx, q, id).Scan(&m.TextHash, &m.HasEmbedding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SegmentMeta{}, false, nil
		}
		return SegmentMeta{}, false, err
	}
	return m, true, nil
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func scanSegment(row pgx.Row) (models.Segment, error) {
	var (
		seg models.Segment
		emb *pgvector.Vector
	)
	if err := row.Scan(&seg.ID, &seg.MeetingID, &seg.SpeakerLabel, &seg.PersonID,
		&seg.StartTimeMs, &seg.EndTimeMs, &seg.Text, &seg.Confidence, &emb); err != nil {
		return models.Segment{}, err
	}
	if emb != nil {
		seg.Embedding = emb.Slice()
	}
	return seg, nil
}

func segmentWhere(meetingID string, f SegmentFilter) (string, []any) {
	args := []any{meetingID}
	where := "meeting_id = $1"
	where, args = appendCond(where, args, "speaker_label = $%d", f.Speaker != "", f.Speaker)
	where, args = appendCond(where, args, "person_id = $%d", f.PersonID != "", f.PersonID)
	return where, args
}

// appendCond adds "AND cond" with the next placeholder index when ok.
func appendCond(where string, args []any, cond string, ok bool, v any) (string, []any) {
	if !ok {
		return where, args
	}
	args = append(args, v)
	return where + " AND " + strings.Replace(cond, "$%d", fmt.Sprintf("$%d", len(args)), 1), args
}
