package ingest

import (
	"context"
	"fmt"
)

// IngestionStats holds metrics about a run.
type IngestionStats struct {
	TotalFound     int
	TotalSaved     int
	TotalUnchanged int
	Errors         int
}

// FetcherStrategy defines the contract for any ingestion source. It fetches
// and parses announcements and hands them to the pipeline for change
// detection, extraction and persistence.
type FetcherStrategy interface {
	Run(ctx context.Context, config SourceConfig, pipeline *Pipeline) (IngestionStats, error)
}

// StrategyFactory maps strategy IDs (from sources.yaml) to implementations.
type StrategyFactory struct {
	strategies map[string]FetcherStrategy
}

func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{strategies: make(map[string]FetcherStrategy)}
}

func (f *StrategyFactory) Register(id string, strategy FetcherStrategy) {
	f.strategies[id] = strategy
}

func (f *StrategyFactory) Get(id string) (FetcherStrategy, error) {
	strategy, ok := f.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", id)
	}
	return strategy, nil
}

var GlobalStrategyFactory = NewStrategyFactory()

func init() {
	GlobalStrategyFactory.Register("api_feed", &APIFeedStrategy{})
	GlobalStrategyFactory.Register("html_list", &HTMLListStrategy{})
}
