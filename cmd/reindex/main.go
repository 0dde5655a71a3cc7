package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ticketing/internal/config"
	"ticketing/internal/database"
	"ticketing/internal/logger"
	"ticketing/internal/models"
	"ticketing/internal/repository"
	"ticketing/internal/search"
)

type eventLister interface {
	ListByStatus(ctx context.Context, status models.EventStatus) ([]models.Event, error)
}

type eventIndexer interface {
	IndexEvent(ctx context.Context, event *models.Event) error
}

func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "Overall time limit for the rebuild")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, "text")
	log := logger.Get()

	log.Info("Starting search index rebuild", "index", cfg.Elasticsearch.Index)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	es, err := search.NewElasticsearchClient(cfg.Elasticsearch)
	if err != nil {
		log.Error("Failed to connect to Elasticsearch", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	indexed, err := reindex(ctx, repository.NewEventRepository(db), es)
	if err != nil {
		log.Error("Search index rebuild failed", "error", err, "indexed", indexed)
		os.Exit(1)
	}

	log.Info("Search index rebuild completed successfully", "indexed", indexed)
}

// reindex pushes every approved event into the index and reports how many
// were written. Single failures are logged and counted as an error at the end.
func reindex(ctx context.Context, events eventLister, index eventIndexer) (int, error) {
	start := time.Now()

	approved, err := events.ListByStatus(ctx, models.EventApproved)
	if err != nil {
		return 0, fmt.Errorf("failed to list approved events: %w", err)
	}

	indexed, failed := 0, 0
	for i := range approved {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if err := index.IndexEvent(ctx, &approved[i]); err != nil {
			failed++
			logger.Get().Error("Failed to index event", "event_id", approved[i].ID, "error", err)
			continue
		}
		indexed++
	}

	logger.Get().Info("Reindex finished",
		"total", len(approved), "indexed", indexed, "failed", failed, "duration", time.Since(start).String())

	if failed > 0 {
		return indexed, fmt.Errorf("%d of %d events failed to index", failed, len(approved))
	}
	return indexed, nil
}
