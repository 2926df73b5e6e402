package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/meetsearch/internal/store"
	"github.com/seanblong/meetsearch/pkg/models"
)

// candidate is a segment in the per-meeting pool with its component scores.
type candidate struct {
	segment      models.Segment
	vectorScore  float64
	hasVector    bool
	keywordScore float64
}

// CandidateRetriever builds the candidate pool of one meeting.
type CandidateRetriever struct {
	store     store.SegmentReader
	threshold float64
}

// NewCandidateRetriever returns a retriever keeping vector candidates whose
// clipped cosine similarity is at least threshold.
func NewCandidateRetriever(s store.SegmentReader, threshold float64) *CandidateRetriever {
	return &CandidateRetriever{store: s, threshold: threshold}
}

// RetrieveCandidates returns up to limit segments of the meeting ordered by
// descending cosine similarity to vec. Segments without an embedding never
// appear. A nil vec returns nil.
func (r *CandidateRetriever) RetrieveCandidates(ctx context.Context, meetingID string, vec []float32, limit int, f store.SegmentFilter) ([]store.ScoredSegment, error) {
	if len(vec) == 0 || limit <= 0 {
		return nil, nil
	}
	if vs, ok := r.store.(store.VectorSearcher); ok {
		hits, err := vs.NearestSegments(ctx, meetingID, vec, limit, f)
		if err != nil {
			return nil, fmt.Errorf("nearest segments of meeting %s: %w", meetingID, err)
		}
		return r.aboveThreshold(hits), nil
	}

	segs, err := r.store.ListSegments(ctx, meetingID, f)
	if err != nil {
		return nil, fmt.Errorf("list segments of meeting %s: %w", meetingID, err)
	}
	return r.nearest(segs, vec, limit), nil
}

// retrieve returns the union of the vector top-limit and the keyword top-limit
// of a meeting, each candidate scored on both signals where available. With
// a nil vec the pool is every segment passing f, best keyword score first.
//
// Keyword scoring needs every segment's text, and the listing carries the
// embeddings too, so the vector top-limit is ranked in process from the same
// read rather than with a second NearestSegments query.
func (r *CandidateRetriever) retrieve(ctx context.Context, meetingID string, vec []float32, terms []string, limit int, f store.SegmentFilter) ([]candidate, error) {
	segs, err := r.store.ListSegments(ctx, meetingID, f)
	if err != nil {
		return nil, fmt.Errorf("list segments of meeting %s: %w", meetingID, err)
	}

	var hits []store.ScoredSegment
	if len(vec) > 0 {
		hits = r.nearest(segs, vec, limit)
	}

	pool := make([]candidate, 0, len(hits)+limit)
	inPool := make(map[string]bool, len(hits)+limit)
	add := func(seg models.Segment) {
		if inPool[seg.ID] {
			return
		}
		inPool[seg.ID] = true
		c := candidate{segment: seg, keywordScore: ScoreTerms(terms, seg.Text)}
		if len(vec) > 0 {
			c.vectorScore, c.hasVector = vectorScore(vec, seg.Embedding)
		}
		pool = append(pool, c)
	}

	for _, h := range hits {
		add(h.Segment)
	}

	keyword := make([]candidate, 0, len(segs))
	for _, seg := range segs {
		s := ScoreTerms(terms, seg.Text)
		if len(vec) > 0 && s == 0 {
			continue
		}
		keyword = append(keyword, candidate{segment: seg, keywordScore: s})
	}
	sort.SliceStable(keyword, func(i, j int) bool {
		if keyword[i].keywordScore != keyword[j].keywordScore {
			return keyword[i].keywordScore > keyword[j].keywordScore
		}
		return segmentLess(keyword[i].segment, keyword[j].segment)
	})
	if len(keyword) > limit {
		keyword = keyword[:limit]
	}
	for _, k := range keyword {
		add(k.segment)
	}

	log.Debug().
		Str("meeting", meetingID).
		Int("segments", len(segs)).
		Int("vector_hits", len(hits)).
		Int("keyword_hits", len(keyword)).
		Int("pool", len(pool)).
		Msg("candidates retrieved")
	return pool, nil
}

func (r *CandidateRetriever) aboveThreshold(hits []store.ScoredSegment) []store.ScoredSegment {
	out := hits[:0:0]
	for _, h := range hits {
		if clip01(h.Similarity) >= r.threshold {
			out = append(out, h)
		}
	}
	return out
}

// nearest ranks segs by cosine similarity in process.
func (r *CandidateRetriever) nearest(segs []models.Segment, vec []float32, limit int) []store.ScoredSegment {
	var hits []store.ScoredSegment
	for _, seg := range segs {
		score, ok := vectorScore(vec, seg.Embedding)
		if !ok || score < r.threshold {
			continue
		}
		hits = append(hits, store.ScoredSegment{Segment: seg, Similarity: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return segmentLess(hits[i].Segment, hits[j].Segment)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// vectorScore is the cosine similarity of a and b clipped to [0,1]. ok is
// false when b is missing or of a different dimension.
func vectorScore(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	return clip01(cosineSimilarity(a, b)), true
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clip01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// segmentLess orders segments by start time, then id.
func segmentLess(a, b models.Segment) bool {
	if a.StartTimeMs != b.StartTimeMs {
		return a.StartTimeMs < b.StartTimeMs
	}
	return a.ID < b.ID
}
