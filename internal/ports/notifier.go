package ports

import "github.com/alejandrodnm/fdamarket/internal/domain"

// RunNotifier receives live progress while a daily run executes. All
// methods are called from the orchestrator goroutine; implementations
// must not block for long.
type RunNotifier interface {
	// RunStarted fires once before the first pair is processed.
	RunStarted(runDate string, modelOrder []string, openMarkets, totalActions int)

	// PairProcessed fires after every (market, model) pair with running
	// counters, regardless of the pair's outcome.
	PairProcessed(processed, total int, result domain.PairResult)

	// RunFinished fires once with the final report, or with err set when
	// the run failed outside the per-pair loop.
	RunFinished(report *domain.RunReport, err error)
}
