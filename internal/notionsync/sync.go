// Package notionsync mirrors detected anomalies into a Notion database
// that analysts triage from.
package notionsync

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// SyncOptions controls SyncAnomalies.
type SyncOptions struct {
	// MinSeverity drops anomalies below it. Empty means MEDIUM.
	MinSeverity domain.Severity
	DryRun      bool
}

// SyncStats counts what a sync did.
type SyncStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

var severityRank = map[domain.Severity]int{
	domain.SeverityLow:      0,
	domain.SeverityMedium:   1,
	domain.SeverityHigh:     2,
	domain.SeverityCritical: 3,
}

// SyncAnomalies copies the anomalies of every date in [from, to] to the
// board. Pages are keyed by anomaly id: missing ones are created, ones
// whose severity changed are updated and the rest are skipped. Status
// belongs to the analysts once a page exists, so updates never write it.
// A failed page write is logged and counted but does not stop the sync.
func SyncAnomalies(ctx context.Context, reader pipeline.AggregateReader, notionClient NotionService, notionDBID string, from, to civil.Date, opts SyncOptions) (SyncStats, error) {
	log := logger.FromContext(ctx)
	var stats SyncStats

	minRank, ok := severityRank[opts.MinSeverity]
	if opts.MinSeverity == "" {
		minRank, ok = severityRank[domain.SeverityMedium], true
	}
	if !ok {
		return stats, fmt.Errorf("unknown severity %q", opts.MinSeverity)
	}

	var anomalies []domain.Anomaly
	for d := from; !d.After(to); d = d.AddDays(1) {
		batch, err := reader.ReadAnomalies(ctx, d)
		if err != nil {
			return stats, fmt.Errorf("read anomalies for %s: %w", d, err)
		}
		for _, a := range batch {
			if severityRank[a.Severity] >= minRank {
				anomalies = append(anomalies, a)
			}
		}
	}

	log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Int("anomaly_count", len(anomalies)).
		Bool("dry_run", opts.DryRun).
		Msg("Starting anomaly sync to Notion")

	pages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return stats, err
	}
	existing := make(map[string]notionapi.Page, len(pages))
	for _, page := range pages {
		if id := extractAnomalyID(page); id != "" {
			existing[id] = page
		}
	}

	for _, a := range anomalies {
		page, found := existing[a.AnomalyID]
		if found && extractSelect(page, propSeverity) == string(a.Severity) {
			stats.Skipped++
			continue
		}

		entry := log.With().Str("anomaly_id", a.AnomalyID).Str("bank_id", a.BankID).Logger()
		if opts.DryRun {
			if found {
				entry.Info().Msg("[DRY RUN] Would update Notion page")
				stats.Updated++
			} else {
				entry.Info().Msg("[DRY RUN] Would create Notion page")
				stats.Created++
			}
			continue
		}

		props := AnomalyToNotionProperties(a)
		if found {
			delete(props, propStatus)
			if _, err := notionClient.UpdatePage(ctx, string(page.ID), props); err != nil {
				entry.Warn().Err(err).Str("page_id", string(page.ID)).Msg("Failed to update Notion page")
				stats.Failed++
				continue
			}
			stats.Updated++
			continue
		}
		created, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			entry.Warn().Err(err).Msg("Failed to create Notion page")
			stats.Failed++
			continue
		}
		entry.Debug().Str("page_id", string(created.ID)).Msg("Created Notion page")
		stats.Created++
	}

	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("Anomaly sync completed")
	return stats, nil
}

// queryAllNotionPages follows the cursor until the database is exhausted.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: 100}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("query existing pages: %w", err)
		}
		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return allPages, nil
}
