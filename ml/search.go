package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

const DefaultSearchFolds = 5

// SearchConfig configures the cross-validated grid search.
type SearchConfig struct {
	Grid    []Params
	Folds   int
	Workers int
	Seed    int64
}

// DefaultParamGrid is the fixed logistic regression grid.
func DefaultParamGrid() []Params {
	grid := make([]Params, 0, 8)
	for _, ngramMax := range []int{1, 2} {
		for _, c := range []float64{0.5, 1, 2, 5} {
			grid = append(grid, Params{NgramMax: ngramMax, C: c})
		}
	}
	return grid
}

// NgramGrid only varies the n-gram range, for estimators without C.
func NgramGrid() []Params {
	return []Params{{NgramMax: 1}, {NgramMax: 2}}
}

// SearchIteration is the outcome of one grid point.
type SearchIteration struct {
	ID         int           `json:"id"`
	Params     Params        `json:"params"`
	FoldScores []float64     `json:"fold_scores"`
	MeanScore  float64       `json:"mean_score"`
	StdScore   float64       `json:"std_score"`
	Rank       int           `json:"rank"`
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"` // completed, failed
	Error      string        `json:"error,omitempty"`
}

// SearchResult holds the best grid point and every iteration in rank order.
type SearchResult struct {
	Best       SearchIteration   `json:"best"`
	Iterations []SearchIteration `json:"iterations"`
	Folds      int               `json:"folds"`
	Duration   time.Duration     `json:"duration"`
}

// GridSearch scores every grid point by mean macro-F1 over stratified
// folds, fitting grid points in parallel. A grid point whose fit fails
// (for example when max_df prunes a fold's whole vocabulary) is marked
// failed; the search only errors when every point fails.
func GridSearch(ctx context.Context, base PipelineConfig, texts, labels []string, config SearchConfig) (*SearchResult, error) {
	if len(texts) != len(labels) {
		return nil, errors.New("texts and labels size mismatch")
	}
	if len(config.Grid) == 0 {
		config.Grid = DefaultParamGrid()
	}
	if config.Folds < 2 {
		config.Folds = DefaultSearchFolds
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}

	_, y := EncodeLabels(labels)
	folds, err := StratifiedKFold(y, config.Folds, config.Seed)
	if err != nil {
		return nil, fmt.Errorf("build folds: %w", err)
	}

	start := time.Now()
	iterations := make([]SearchIteration, len(config.Grid))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)
	for i, params := range config.Grid {
		i, params := i, params
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			iterations[i] = evaluateGridPoint(base.WithParams(params), texts, labels, folds)
			iterations[i].ID = i
			iterations[i].Params = params
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked := append([]SearchIteration(nil), iterations...)
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Status != ranked[b].Status {
			return ranked[a].Status == "completed"
		}
		return ranked[a].MeanScore > ranked[b].MeanScore
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	if ranked[0].Status != "completed" {
		return nil, fmt.Errorf("all %d grid points failed: %s", len(ranked), ranked[0].Error)
	}

	return &SearchResult{
		Best:       ranked[0],
		Iterations: ranked,
		Folds:      len(folds),
		Duration:   time.Since(start),
	}, nil
}

func evaluateGridPoint(config PipelineConfig, texts, labels []string, folds []Fold) SearchIteration {
	start := time.Now()
	iteration := SearchIteration{Status: "completed"}

	for _, fold := range folds {
		pipeline, err := FitPipeline(config, selectStrings(texts, fold.Train), selectStrings(labels, fold.Train))
		if err != nil {
			iteration.Status = "failed"
			iteration.Error = err.Error()
			iteration.Duration = time.Since(start)
			return iteration
		}
		predicted := pipeline.PredictAll(selectStrings(texts, fold.Test))
		eval := Evaluate(selectStrings(labels, fold.Test), predicted)
		iteration.FoldScores = append(iteration.FoldScores, eval.MacroF1)
	}

	iteration.MeanScore, iteration.StdScore = meanStd(iteration.FoldScores)
	iteration.Duration = time.Since(start)
	return iteration
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}
