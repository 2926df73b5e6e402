package search

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seanblong/meetsearch/internal/ai"
	"github.com/seanblong/meetsearch/internal/store"
	"github.com/seanblong/meetsearch/pkg/models"
)

// memStore is an in-memory store.SegmentReader without vector pushdown.
type memStore struct {
	mu        sync.Mutex
	meetings  []models.Meeting
	segments  map[string][]models.Segment
	listErr   error
	delay     time.Duration
	active    int
	maxActive int
	listCalls int
}

func newMemStore() *memStore {
	return &memStore{segments: map[string][]models.Segment{}}
}

func (m *memStore) addMeeting(meeting models.Meeting, segs ...models.Segment) {
	m.meetings = append(m.meetings, meeting)
	for _, s := range segs {
		s.MeetingID = meeting.ID
		m.segments[meeting.ID] = append(m.segments[meeting.ID], s)
	}
}

func (m *memStore) GetMeeting(ctx context.Context, id string) (models.Meeting, bool, error) {
	for _, mt := range m.meetings {
		if mt.ID == id {
			return mt, true, nil
		}
	}
	return models.Meeting{}, false, nil
}

func (m *memStore) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	for _, mt := range m.meetings {
		if mt.ProjectID == projectID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListProjectMeetings(ctx context.Context, projectID string, f store.MeetingFilter) ([]models.Meeting, error) {
	var out []models.Meeting
	for _, mt := range m.meetings {
		if mt.ProjectID == projectID && f.Match(mt) {
			out = append(out, mt)
		}
	}
	return out, nil
}

func (m *memStore) ListSegments(ctx context.Context, meetingID string, f store.SegmentFilter) ([]models.Segment, error) {
	m.mu.Lock()
	m.listCalls++
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []models.Segment
	for _, s := range m.segments[meetingID] {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return segmentLess(out[i], out[j]) })
	return out, nil
}

// vectorStore adds store.VectorSearcher to memStore.
type vectorStore struct {
	*memStore
	nearestCalls int32
}

func (v *vectorStore) NearestSegments(ctx context.Context, meetingID string, vec []float32, limit int, f store.SegmentFilter) ([]store.ScoredSegment, error) {
	atomic.AddInt32(&v.nearestCalls, 1)
	segs, err := v.ListSegments(ctx, meetingID, f)
	if err != nil {
		return nil, err
	}
	var out []store.ScoredSegment
	for _, s := range segs {
		if len(s.Embedding) != len(vec) {
			continue
		}
		out = append(out, store.ScoredSegment{Segment: s, Similarity: cosineSimilarity(vec, s.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return segmentLess(out[i].Segment, out[j].Segment)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeEmbedder implements Embedder.
type fakeEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) []float32
	disabled  bool
	calls     int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) []float32 {
	atomic.AddInt32(&f.calls, 1)
	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, text)
	}
	return nil
}

func (f *fakeEmbedder) Enabled() bool { return !f.disabled }

func (f *fakeEmbedder) Status() ai.Status {
	return ai.Status{Provider: "stub", Model: "fake", Dimensions: 2, Enabled: !f.disabled}
}

func (f *fakeEmbedder) callCount() int { return int(atomic.LoadInt32(&f.calls)) }

func vectorFor(v ...float32) *fakeEmbedder {
	return &fakeEmbedder{EmbedFunc: func(ctx context.Context, text string) []float32 { return v }}
}

// blockingProvider never answers before its context ends.
type blockingProvider struct {
	calls int32
}

func (b *blockingProvider) EmbedTexts(ctx context.Context, texts []string, _ ai.Task) ([][]float32, error) {
	atomic.AddInt32(&b.calls, 1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingProvider) Name() ai.Provider  { return ai.ProviderStub }
func (b *blockingProvider) Model() string      { return "blocking" }
func (b *blockingProvider) Dim() int           { return 2 }
func (b *blockingProvider) MaxInputChars() int { return 1000 }

type searchObservation struct {
	scope         string
	embeddingUsed bool
}

type fakeObserver struct {
	mu       sync.Mutex
	searches []searchObservation
	fanouts  []int
}

func (o *fakeObserver) ObserveSearch(scope string, embeddingUsed bool, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.searches = append(o.searches, searchObservation{scope, embeddingUsed})
}

func (o *fakeObserver) ObserveMeetingsSearched(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fanouts = append(o.fanouts, n)
}

func seg(id string, startMs int64, text string, emb ...float32) models.Segment {
	s := models.Segment{
		ID:           id,
		SpeakerLabel: "Speaker 1",
		StartTimeMs:  startMs,
		EndTimeMs:    startMs + 900,
		Text:         text,
		Confidence:   0.9,
	}
	if len(emb) > 0 {
		s.Embedding = emb
	}
	return s
}

func meeting(id, project string, created time.Time) models.Meeting {
	return models.Meeting{ID: id, ProjectID: project, UserID: "u1", Title: id, CreatedAt: created}
}

func ptr[T any](v T) *T { return &v }

func resultIDs(rs []models.ScoredResult) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.Segment.ID
	}
	return ids
}

func isRankOrdered(rs []models.ScoredResult) bool {
	for i := 1; i < len(rs); i++ {
		a, b := rs[i-1], rs[i]
		if a.CombinedScore < b.CombinedScore {
			return false
		}
		if a.CombinedScore == b.CombinedScore && a.Segment.StartTimeMs > b.Segment.StartTimeMs {
			return false
		}
	}
	return true
}
