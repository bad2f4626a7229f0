// Package candidates resolves the scoring units for a digest window: one row
// per cluster (through its representative item) plus one row per unclustered
// item. The query is read-only and idempotent; repeated calls over unchanged
// data return the same set.
package candidates

import (
	"context"
	"fmt"
	"sort"
	"time"

	"scout/internal/core"
	"scout/internal/persistence"
)

// Aggregator folds raw window items into candidate rows.
type Aggregator struct {
	repo persistence.CandidateRepository
}

// New builds an aggregator over the candidate repository.
func New(repo persistence.CandidateRepository) *Aggregator {
	return &Aggregator{repo: repo}
}

// Query returns the candidate rows for a topic window, titled rows first,
// then newest first, truncated to limit. Clustered items collapse into one
// row per cluster carrying the representative's content; clusters without a
// designated representative are excluded entirely.
func (a *Aggregator) Query(ctx context.Context, topicID string, windowStart, windowEnd time.Time, limit int) ([]core.CandidateRow, error) {
	if !windowEnd.After(windowStart) {
		return nil, core.NewError(core.ErrKindValidation,
			fmt.Sprintf("window end %s is not after start %s", windowEnd.Format(time.RFC3339), windowStart.Format(time.RFC3339)), nil)
	}

	items, err := a.repo.ListWindowItems(ctx, topicID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list window items: %w", err)
	}

	rows := Collapse(items)

	sort.SliceStable(rows, func(i, j int) bool {
		iTitled := rows[i].Title != ""
		jTitled := rows[j].Title != ""
		if iTitled != jTitled {
			return iTitled
		}
		return rows[i].CandidateAt.After(rows[j].CandidateAt)
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// Collapse groups window items into candidate rows. Cluster rows take their
// title, body, url, author and timestamps from the representative item; the
// cluster's CandidateAt is the newest in-window member timestamp, so a fresh
// member surfaces an old cluster. Engagement is summed across members.
func Collapse(items []persistence.WindowItem) []core.CandidateRow {
	type clusterAgg struct {
		representative *persistence.WindowItem
		newestAt       time.Time
		engagement     float64
	}
	clusters := make(map[string]*clusterAgg)
	var clusterOrder []string
	var rows []core.CandidateRow

	for i := range items {
		item := &items[i]
		if item.ClusterID == "" {
			rows = append(rows, itemRow(item))
			continue
		}

		agg, ok := clusters[item.ClusterID]
		if !ok {
			agg = &clusterAgg{}
			clusters[item.ClusterID] = agg
			clusterOrder = append(clusterOrder, item.ClusterID)
		}
		if at := item.CandidateAt(); at.After(agg.newestAt) {
			agg.newestAt = at
		}
		agg.engagement += item.Engagement
		if item.RepresentativeID != "" && item.ContentItemID == item.RepresentativeID {
			agg.representative = item
		}
	}

	for _, clusterID := range clusterOrder {
		agg := clusters[clusterID]
		if agg.representative == nil {
			// The representative fell outside the window or was never
			// designated; without its content there is nothing to score.
			continue
		}
		rep := agg.representative
		rows = append(rows, core.CandidateRow{
			Kind:                    core.CandidateKindCluster,
			CandidateID:             clusterID,
			CandidateAt:             agg.newestAt,
			RepresentativeContentID: rep.ContentItemID,
			ClusterID:               clusterID,
			SourceID:                rep.SourceID,
			SourceType:              rep.SourceType,
			SourceName:              rep.SourceName,
			Title:                   rep.Title,
			BodyText:                rep.BodyText,
			CanonicalURL:            rep.CanonicalURL,
			Author:                  rep.Author,
			PublishedAt:             rep.PublishedAt,
			Engagement:              agg.engagement,
			Embedding:               rep.Embedding,
		})
	}

	return rows
}

func itemRow(item *persistence.WindowItem) core.CandidateRow {
	return core.CandidateRow{
		Kind:                    core.CandidateKindItem,
		CandidateID:             item.ContentItemID,
		CandidateAt:             item.CandidateAt(),
		RepresentativeContentID: item.ContentItemID,
		SourceID:                item.SourceID,
		SourceType:              item.SourceType,
		SourceName:              item.SourceName,
		Title:                   item.Title,
		BodyText:                item.BodyText,
		CanonicalURL:            item.CanonicalURL,
		Author:                  item.Author,
		PublishedAt:             item.PublishedAt,
		Engagement:              item.Engagement,
		Embedding:               item.Embedding,
	}
}
