package main

import (
	"context"
	"flag"
	"strconv"
	"strings"

	"github.com/baikov/metalsync/internal/config"
	"github.com/baikov/metalsync/internal/container"

	log "github.com/sirupsen/logrus"
)

func main() {
	importTree := flag.Bool("import-tree", false, "import the category tree from the sitemap and exit")
	catIDs := flag.String("cat-ids", "", "comma-separated category IDs to reconcile (default: all leaves)")
	flag.Parse()

	log.Info("Starting catalog sync...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Info("Configuration loaded successfully")

	app, err := container.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer app.Close()

	ctx := context.Background()

	if *importTree {
		if err := app.RunImport(ctx); err != nil {
			log.Fatalf("Category tree import failed: %v", err)
		}
		log.Info("Category tree import finished")
		return
	}

	ids, err := parseIDs(*catIDs)
	if err != nil {
		log.Fatalf("Invalid --cat-ids value: %v", err)
	}

	if err := app.RunSync(ctx, ids); err != nil {
		log.Fatalf("Synchronization run failed: %v", err)
	}

	log.Info("Synchronization run finished")
}

func parseIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
