package models

import "time"

// Meeting is the scope that owns a set of transcript segments.
type Meeting struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Segment is one transcribed utterance.
type Segment struct {
	ID           string    `json:"id"`
	MeetingID    string    `json:"meeting_id"`
	SpeakerLabel string    `json:"speaker_label"`
	PersonID     *string   `json:"person_id,omitempty"`
	StartTimeMs  int64     `json:"start_time_ms"`
	EndTimeMs    int64     `json:"end_time_ms"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"-"`
	Confidence   float64   `json:"confidence"`
}

// ScoredResult is a segment with its component and fused relevance scores.
type ScoredResult struct {
	Segment       Segment `json:"segment"`
	VectorScore   float64 `json:"vector_score"`
	KeywordScore  float64 `json:"keyword_score"`
	CombinedScore float64 `json:"combined_score"`
	HasVector     bool    `json:"has_vector"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// MeetingGroup holds the results of one meeting in rank order.
type MeetingGroup struct {
	MeetingID string         `json:"meeting_id"`
	Results   []ScoredResult `json:"results"`
}

// SearchResultPage is one page of ranked results. Groups, when present,
// partitions Results by meeting.
type SearchResultPage struct {
	Results          []ScoredResult `json:"results"`
	Groups           []MeetingGroup `json:"groups,omitempty"`
	Pagination       Pagination     `json:"pagination"`
	MeetingsSearched int            `json:"meetings_searched,omitempty"`
	EmbeddingUsed    bool           `json:"embedding_used"`
}
