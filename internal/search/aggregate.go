package search

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/meetsearch/internal/ai"
	"github.com/seanblong/meetsearch/pkg/models"
	"golang.org/x/sync/errgroup"
)

// SearchAcrossMeetings ranks the segments of every meeting in the project
// that passes the owner and date filters, and merges them into one page.
//
// Each meeting contributes its own top page*limit results, which is enough
// to contain every member of the global top page*limit. Total is the sum of
// the per-meeting totals.
func (e *Engine) SearchAcrossMeetings(ctx context.Context, projectID string, sq SearchQuery) (models.SearchResultPage, error) {
	start := time.Now()
	q, err := e.cfg.resolve(sq, e.cfg.DefaultProjectLimit)
	if err != nil {
		return models.SearchResultPage{}, err
	}

	exists, err := e.store.ProjectExists(ctx, projectID)
	if err != nil {
		return models.SearchResultPage{}, err
	}
	if !exists {
		return models.SearchResultPage{}, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}

	listed, err := e.store.ListProjectMeetings(ctx, projectID, q.meetings)
	if err != nil {
		return models.SearchResultPage{}, fmt.Errorf("list meetings of project %s: %w", projectID, err)
	}
	meetings := listed[:0:0]
	for _, m := range listed {
		if q.meetings.Match(m) {
			meetings = append(meetings, m)
		}
	}

	vec := e.queryVector(ctx, q)

	perMeeting := make([][]models.ScoredResult, len(meetings))
	totals := make([]int, len(meetings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FanoutConcurrency)
	for i, m := range meetings {
		g.Go(func() error {
			ranked, err := e.rankMeeting(gctx, m.ID, vec, q)
			if err != nil {
				return err
			}
			totals[i] = len(ranked)
			perMeeting[i] = ranked[:pageEnd(q.page, q.limit, len(ranked))]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.SearchResultPage{}, err
	}

	var merged []models.ScoredResult
	total := 0
	for i := range perMeeting {
		merged = append(merged, perMeeting[i]...)
		total += totals[i]
	}
	sortResults(merged)

	page := models.SearchResultPage{
		Results:          paginate(merged, q.page, q.limit),
		Pagination:       models.Pagination{Page: q.page, Limit: q.limit, Total: total},
		MeetingsSearched: len(meetings),
		EmbeddingUsed:    vec != nil,
	}
	if q.group {
		page.Groups = groupByMeeting(page.Results)
	}

	e.observeSearch(ScopeProject, page.EmbeddingUsed, start)
	if e.observer != nil {
		e.observer.ObserveMeetingsSearched(len(meetings))
	}
	log.Debug().
		Str("project", projectID).
		Str("query", ai.Preview(q.text, 40)).
		Int("meetings", len(meetings)).
		Bool("embedding", page.EmbeddingUsed).
		Int("total", total).
		Dur("took", time.Since(start)).
		Msg("project search")
	return page, nil
}
