package preflight

import (
	"context"
	"strings"

	"loom/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is configured: the
// object store check needs credentials, the catalog check needs an API key,
// and the planner check needs the planner enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDirectoryAccess("Export directory", cfg.Paths.ExportDir))

	results = append(results, CheckTrainerBinary(cfg))

	if strings.TrimSpace(cfg.ObjectStore.AccessKey) != "" {
		results = append(results, CheckObjectStore(ctx, cfg))
	}

	if strings.TrimSpace(cfg.Catalog.APIKey) != "" {
		results = append(results, CheckCatalog(ctx, cfg))
	}

	if cfg.Planner.Enabled {
		results = append(results, CheckLLM(ctx, "Planner LLM", cfg.PlannerLLM()))
	}

	return results
}
