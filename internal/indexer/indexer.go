package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/meetsearch/internal/store"
	"github.com/seanblong/meetsearch/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// IndexableStore is the write side of the segment store.
type IndexableStore interface {
	UpsertMeeting(ctx context.Context, m models.Meeting) error
	UpsertSegment(ctx context.Context, seg models.Segment, vec []float32, textHash string) error
	GetSegmentMeta(ctx context.Context, id string) (store.SegmentMeta, bool, error)
	PruneSegments(ctx context.Context, meetingID string, keep []string) (int64, error)
}

// BatchEmbedder embeds segment texts. Entries are nil for texts that could
// not be embedded.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

// Indexer loads transcript files from a directory into the segment store.
type Indexer struct {
	Store      IndexableStore
	Root       string
	Embedder   BatchEmbedder
	Walker     FileSystemWalker
	FileReader FileReader
	Workers    int
	// OnSegment, when set, is called once per written segment.
	OnSegment func(embedded bool)
}

// Stats summarizes one Run.
type Stats struct {
	Files    int64
	Failed   int64
	Segments int64
	Embedded int64
	Pruned   int64
}

// hashContent returns the SHA-1 hash of the given content as a hex string.
func hashContent(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// New creates a new Indexer instance. A nil embedder stores segments without
// embeddings.
func New(s IndexableStore, root string, embedder BatchEmbedder) *Indexer {
	return NewWithDependencies(s, root, embedder, &DefaultFileSystemWalker{}, &DefaultFileReader{})
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(s IndexableStore, root string, embedder BatchEmbedder, walker FileSystemWalker, fileReader FileReader) *Indexer {
	return &Indexer{
		Store:      s,
		Root:       root,
		Embedder:   embedder,
		Walker:     walker,
		FileReader: fileReader,
	}
}

// transcriptFile is the on-disk format of one meeting.
type transcriptFile struct {
	ID        string              `json:"id"`
	ProjectID string              `json:"projectId"`
	UserID    string              `json:"userId"`
	Title     string              `json:"title"`
	CreatedAt time.Time           `json:"createdAt"`
	Segments  []transcriptSegment `json:"segments"`
}

type transcriptSegment struct {
	ID         string  `json:"id"`
	Speaker    string  `json:"speaker"`
	PersonID   *string `json:"personId"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// parseTranscript decodes a transcript file into a meeting and its segments.
func parseTranscript(b []byte) (models.Meeting, []models.Segment, error) {
	var tf transcriptFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return models.Meeting{}, nil, fmt.Errorf("decode transcript: %w", err)
	}
	switch {
	case strings.TrimSpace(tf.ID) == "":
		return models.Meeting{}, nil, errors.New("transcript has no id")
	case strings.TrimSpace(tf.ProjectID) == "":
		return models.Meeting{}, nil, fmt.Errorf("transcript %s has no projectId", tf.ID)
	case strings.TrimSpace(tf.UserID) == "":
		return models.Meeting{}, nil, fmt.Errorf("transcript %s has no userId", tf.ID)
	}

	m := models.Meeting{
		ID:        tf.ID,
		ProjectID: tf.ProjectID,
		UserID:    tf.UserID,
		Title:     tf.Title,
		CreatedAt: tf.CreatedAt,
	}

	segs := make([]models.Segment, 0, len(tf.Segments))
	for i, ts := range tf.Segments {
		if ts.End < ts.Start {
			return models.Meeting{}, nil, fmt.Errorf("segment %d of %s ends before it starts", i, tf.ID)
		}
		id := ts.ID
		if id == "" {
			id = segmentID(tf.ID, i, ts.Start)
		}
		segs = append(segs, models.Segment{
			ID:           id,
			MeetingID:    tf.ID,
			SpeakerLabel: ts.Speaker,
			PersonID:     ts.PersonID,
			StartTimeMs:  ts.Start,
			EndTimeMs:    ts.End,
			Text:         strings.TrimSpace(ts.Text),
			Confidence:   ts.Confidence,
		})
	}
	return m, segs, nil
}

// segmentID derives a stable id for segments that arrive without one, so
// re-indexing a file updates rows instead of duplicating them.
func segmentID(meetingID string, index int, startMs int64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("meetsearch:%s#%d@%d", meetingID, index, startMs))).String()
}

// processFile indexes a single transcript file.
func (ix *Indexer) processFile(ctx context.Context, path string, b []byte, stats *Stats) error {
	m, segs, err := parseTranscript(b)
	if err != nil {
		return err
	}
	if err := ix.Store.UpsertMeeting(ctx, m); err != nil {
		return fmt.Errorf("upsert meeting %s: %w", m.ID, err)
	}

	hashes := make([]string, len(segs))
	var pending []int
	for i, seg := range segs {
		hashes[i] = hashContent(seg.Text)
		if seg.Text == "" {
			continue
		}
		meta, found, err := ix.Store.GetSegmentMeta(ctx, seg.ID)
		needEmbed := err != nil || !found || meta.TextHash != hashes[i] || !meta.HasEmbedding
		if err != nil {
			log.Warn().Err(err).Str("segment", seg.ID).Msg("segment meta lookup failed, re-embedding")
		}
		if needEmbed {
			pending = append(pending, i)
		}
	}

	vecs := make([][]float32, len(segs))
	if len(pending) > 0 && ix.Embedder != nil {
		texts := make([]string, len(pending))
		for j, i := range pending {
			texts[j] = segs[i].Text
		}
		for j, v := range ix.Embedder.EmbedBatch(ctx, texts) {
			if j < len(pending) {
				vecs[pending[j]] = v
			}
		}
	}

	log.Info().Str("path", path).
		Str("meeting", m.ID).
		Int("segments", len(segs)).
		Int("need_embed", len(pending)).
		Msg("indexing transcript")

	keep := make([]string, len(segs))
	for i, seg := range segs {
		keep[i] = seg.ID
		if err := ix.Store.UpsertSegment(ctx, seg, vecs[i], hashes[i]); err != nil {
			log.Error().Err(err).Str("segment", seg.ID).Msg("upsert failed")
			continue
		}
		atomic.AddInt64(&stats.Segments, 1)
		if vecs[i] != nil {
			atomic.AddInt64(&stats.Embedded, 1)
		}
		if ix.OnSegment != nil {
			ix.OnSegment(vecs[i] != nil)
		}
	}

	// Segments dropped from the file since the last run.
	n, err := ix.Store.PruneSegments(ctx, m.ID, keep)
	if err != nil {
		return fmt.Errorf("prune segments of %s: %w", m.ID, err)
	}
	if n > 0 {
		atomic.AddInt64(&stats.Pruned, n)
		log.Info().Str("meeting", m.ID).Int64("pruned", n).Msg("removed stale segments")
	}
	return nil
}

// Run walks Root and indexes every transcript file on a bounded worker pool.
// Per-file failures are logged and counted; only walk errors are returned.
func (ix *Indexer) Run(ctx context.Context) (Stats, error) {
	// Determine number of workers (default to number of CPU cores)
	numWorkers := ix.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		if numWorkers > 8 {
			numWorkers = 8 // Cap at 8 to avoid overwhelming the embedding API
		}
	}

	pool, err := ants.NewPool(numWorkers)
	if err != nil {
		return Stats{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	log.Info().Int("workers", numWorkers).Str("root", ix.Root).Msg("starting concurrent indexing")

	var (
		stats Stats
		wg    sync.WaitGroup
	)

	walkErr := ix.Walker.Walk(ix.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			// de is nil when driven by a test walker
			if de != nil && de.IsDir() {
				if path != ix.Root && isHidden(path) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if shouldSkip(path) {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			b, err := ix.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				atomic.AddInt64(&stats.Failed, 1)
				return nil
			}
			atomic.AddInt64(&stats.Files, 1)

			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				if err := ix.processFile(ctx, path, b, &stats); err != nil {
					atomic.AddInt64(&stats.Failed, 1)
					log.Error().Err(err).Str("path", path).Msg("transcript processing error")
				}
			}); err != nil {
				wg.Done()
				return fmt.Errorf("submit %s: %w", path, err)
			}
			return nil
		},
	})

	wg.Wait()

	log.Info().
		Int64("files", stats.Files).
		Int64("failed", stats.Failed).
		Int64("segments", stats.Segments).
		Int64("embedded", stats.Embedded).
		Int64("pruned", stats.Pruned).
		Msg("indexing finished")
	return stats, walkErr
}

// shouldSkip returns true if the file at path is not a transcript.
func shouldSkip(path string) bool {
	if isHidden(path) {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return strings.ToLower(filepath.Ext(path)) != ".json"
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
