package search

import (
	"sort"

	"github.com/seanblong/meetsearch/internal/store"
	"github.com/seanblong/meetsearch/pkg/models"
)

// HybridRanker fuses vector and keyword scores with fixed weights.
type HybridRanker struct {
	VectorWeight  float64
	KeywordWeight float64
}

// Combine returns the fused score. When only one signal exists for the
// segment, that signal is the score.
func (h HybridRanker) Combine(vectorScore float64, hasVector bool, keywordScore float64) float64 {
	if !hasVector {
		return keywordScore
	}
	total := h.VectorWeight + h.KeywordWeight
	if total <= 0 {
		return keywordScore
	}
	return clip01((h.VectorWeight*vectorScore + h.KeywordWeight*keywordScore) / total)
}

// Rank scores the pool, drops results below threshold or outside f, and
// returns the rest in result order.
func (h HybridRanker) Rank(pool []candidate, threshold float64, f store.SegmentFilter) []models.ScoredResult {
	out := make([]models.ScoredResult, 0, len(pool))
	for _, c := range pool {
		r := models.ScoredResult{
			Segment:      c.segment,
			KeywordScore: c.keywordScore,
			HasVector:    c.hasVector,
		}
		if c.hasVector {
			r.VectorScore = c.vectorScore
		}
		r.CombinedScore = h.Combine(r.VectorScore, r.HasVector, r.KeywordScore)
		if r.CombinedScore < threshold {
			continue
		}
		if !f.Match(c.segment) {
			continue
		}
		out = append(out, r)
	}
	sortResults(out)
	return out
}

// sortResults orders by combined score descending, then start time, meeting
// and segment id ascending.
func sortResults(rs []models.ScoredResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.Segment.StartTimeMs != b.Segment.StartTimeMs {
			return a.Segment.StartTimeMs < b.Segment.StartTimeMs
		}
		if a.Segment.MeetingID != b.Segment.MeetingID {
			return a.Segment.MeetingID < b.Segment.MeetingID
		}
		return a.Segment.ID < b.Segment.ID
	})
}

// paginate returns rs[(page-1)*limit : page*limit], empty when out of range.
func paginate(rs []models.ScoredResult, page, limit int) []models.ScoredResult {
	if page < 1 || limit < 1 || page-1 > len(rs)/limit {
		return []models.ScoredResult{}
	}
	start := (page - 1) * limit
	if start >= len(rs) {
		return []models.ScoredResult{}
	}
	end := start + limit
	if end > len(rs) {
		end = len(rs)
	}
	return rs[start:end]
}

// groupByMeeting partitions results by meeting. Groups are ordered by their
// best-ranked result and keep the relative order of their members.
func groupByMeeting(rs []models.ScoredResult) []models.MeetingGroup {
	groups := []models.MeetingGroup{}
	index := make(map[string]int)
	for _, r := range rs {
		i, ok := index[r.Segment.MeetingID]
		if !ok {
			i = len(groups)
			index[r.Segment.MeetingID] = i
			groups = append(groups, models.MeetingGroup{MeetingID: r.Segment.MeetingID})
		}
		groups[i].Results = append(groups[i].Results, r)
	}
	return groups
}

// pageEnd returns min(page*limit, n) without overflowing.
func pageEnd(page, limit, n int) int {
	if limit < 1 || page > n/limit+1 {
		return n
	}
	return min(page*limit, n)
}
