// Package training turns a labeled CSV into a model artifact.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"issuetriage/config"
	"issuetriage/db"
	"issuetriage/ml"
	"issuetriage/pipeline"
)

// ErrNotEnoughRows is returned when fewer than two usable rows survive cleaning.
var ErrNotEnoughRows = errors.New("need at least 2 rows in train.csv")

const (
	// StrategySmall fits the default pipeline on every row without evaluation.
	StrategySmall = "small"
	// StrategySearch holds out a test split, tunes by cross-validation and
	// refits the best configuration on every row.
	StrategySearch = "search"
)

type Options struct {
	DataPath         string
	Charset          string
	ModelPath        string
	ModelType        string
	MinRows          int
	MinPerClass      int
	TestRatio        float64
	Seed             int64
	CVFolds          int
	CalibrationFolds int
	MaxIter          int
	MaxDepth         int
	Workers          int
	DropDuplicates   bool
}

// OptionsFromConfig takes the training section plus the shared model path.
func OptionsFromConfig(cfg *config.Config) Options {
	t := cfg.Training
	return Options{
		DataPath:         t.DataPath,
		Charset:          t.Charset,
		ModelPath:        cfg.Model.Path,
		ModelType:        t.ModelType,
		MinRows:          t.MinRows,
		MinPerClass:      t.MinPerClass,
		TestRatio:        t.TestRatio,
		Seed:             t.Seed,
		CVFolds:          t.CVFolds,
		CalibrationFolds: t.CalibrationFolds,
		MaxIter:          t.MaxIter,
		MaxDepth:         t.MaxDepth,
		Workers:          t.Workers,
		DropDuplicates:   t.DropDuplicates,
	}
}

// RunRecorder persists a summary of each training run. *db.Store implements it.
type RunRecorder interface {
	SaveTrainingRun(ctx context.Context, run db.TrainingRun) error
}

// Report summarizes one training run.
type Report struct {
	RunID       string                  `json:"run_id"`
	DataPath    string                  `json:"data_path"`
	ModelPath   string                  `json:"model_path"`
	ModelType   string                  `json:"model_type"`
	Strategy    string                  `json:"strategy"`
	Rows        int                     `json:"rows"`
	Dropped     int                     `json:"dropped"`
	ClassCounts map[string]int          `json:"class_counts"`
	Params      ml.Params               `json:"params"`
	Search      *ml.SearchResult        `json:"search,omitempty"`
	Evaluation  *ml.Evaluation          `json:"evaluation,omitempty"`
	Issues      []pipeline.QualityIssue `json:"-"`
	Duration    time.Duration           `json:"duration"`
}

type Trainer struct {
	opts     Options
	recorder RunRecorder
	logger   *zap.Logger
}

// NewTrainer creates a trainer. recorder and logger may be nil.
func NewTrainer(opts Options, recorder RunRecorder, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinRows <= 0 {
		opts.MinRows = 10
	}
	if opts.MinPerClass < 2 {
		opts.MinPerClass = 2
	}
	if opts.TestRatio <= 0 || opts.TestRatio >= 1 {
		opts.TestRatio = 0.2
	}
	if opts.CVFolds < 2 {
		opts.CVFolds = ml.DefaultSearchFolds
	}
	if opts.CalibrationFolds <= 0 {
		opts.CalibrationFolds = ml.DefaultCalibrationFolds
	}
	if opts.ModelType == "" {
		opts.ModelType = ml.ModelTypeLogReg
	}
	return &Trainer{opts: opts, recorder: recorder, logger: logger.Named("trainer")}
}

// Run reads, cleans and fits the data, then writes the artifact.
func (t *Trainer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), ModelPath: t.opts.ModelPath, ModelType: t.opts.ModelType}
	log := t.logger.With(zap.String("run_id", report.RunID))

	dataPath, err := pipeline.FindDataFile(t.opts.DataPath)
	if err != nil {
		return nil, err
	}
	report.DataPath = dataPath

	rows, err := pipeline.LoadCSV(dataPath, t.opts.Charset)
	if err != nil {
		return nil, err
	}

	cleaner := pipeline.NewDataCleaner(t.logger)
	if t.opts.DropDuplicates {
		cleaner.AddRule(pipeline.NewDuplicateDetectionRule())
	}
	cleaned, issues := cleaner.Clean(rows)
	report.Issues = issues
	report.Dropped = len(rows) - len(cleaned)
	if len(cleaned) < 2 {
		return nil, fmt.Errorf("%w: %d usable of %d read", ErrNotEnoughRows, len(cleaned), len(rows))
	}

	texts := make([]string, len(cleaned))
	labels := make([]string, len(cleaned))
	for i, row := range cleaned {
		texts[i] = row.Text
		labels[i] = row.Category
	}
	report.Rows = len(cleaned)
	report.ClassCounts = ml.ClassCounts(labels)
	minClass := ml.MinClassCount(labels)

	log.Info("training data loaded",
		zap.String("path", dataPath),
		zap.Int("rows", report.Rows),
		zap.Int("dropped", report.Dropped),
		zap.Any("class_counts", report.ClassCounts))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var model *ml.Pipeline
	if report.Rows < t.opts.MinRows || minClass < t.opts.MinPerClass {
		report.Strategy = StrategySmall
		log.Warn("small dataset detected, training on all rows without a split",
			zap.Int("rows", report.Rows), zap.Int("smallest_class", minClass))

		cfg := t.baseConfig()
		if t.opts.ModelType == ml.ModelTypeCalibratedLogReg {
			cfg = t.finalConfig(cfg, minClass)
		}
		report.Params = paramsOf(cfg)
		model, err = ml.FitPipeline(cfg, texts, labels)
		if err != nil {
			return nil, fmt.Errorf("fit: %w", err)
		}
	} else {
		report.Strategy = StrategySearch
		model, err = t.search(ctx, log, texts, labels, minClass, report)
		if err != nil {
			return nil, err
		}
	}

	meta := ml.ArtifactMetadata{
		RunID:       report.RunID,
		Classes:     model.Labels(),
		CreatedAt:   time.Now().UTC(),
		TrainedRows: report.Rows,
		Strategy:    report.Strategy,
		Params:      report.Params,
		Evaluation:  report.Evaluation,
	}
	if err := ml.SaveArtifact(t.opts.ModelPath, model, meta); err != nil {
		return nil, err
	}
	report.ModelType = model.ModelType()
	report.Duration = time.Since(start)

	log.Info("model saved",
		zap.String("path", t.opts.ModelPath),
		zap.String("model_type", report.ModelType),
		zap.String("strategy", report.Strategy),
		zap.Stringer("params", report.Params),
		zap.Duration("duration", report.Duration))

	t.record(ctx, log, report)
	return report, nil
}

func (t *Trainer) search(ctx context.Context, log *zap.Logger, texts, labels []string, minClass int, report *Report) (*ml.Pipeline, error) {
	_, y := ml.EncodeLabels(labels)
	trainIdx, testIdx, err := ml.StratifiedSplit(y, t.opts.TestRatio, t.opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	trainTexts, trainLabels := pick(texts, trainIdx), pick(labels, trainIdx)
	testTexts, testLabels := pick(texts, testIdx), pick(labels, testIdx)

	base := t.baseConfig()
	params := paramsOf(base)

	folds := min(t.opts.CVFolds, ml.MinClassCount(trainLabels))
	if folds >= 2 {
		grid := ml.DefaultParamGrid()
		if base.ModelType == ml.ModelTypeDecisionTree {
			grid = ml.NgramGrid()
		}
		result, err := ml.GridSearch(ctx, base, trainTexts, trainLabels, ml.SearchConfig{
			Grid:    grid,
			Folds:   folds,
			Workers: t.opts.Workers,
			Seed:    t.opts.Seed,
		})
		if err != nil {
			return nil, fmt.Errorf("grid search: %w", err)
		}
		report.Search = result
		params = result.Best.Params
		log.Info("grid search finished",
			zap.Int("folds", result.Folds),
			zap.Int("grid_points", len(result.Iterations)),
			zap.Stringer("best", params),
			zap.Float64("cv_macro_f1", result.Best.MeanScore),
			zap.Duration("duration", result.Duration))
	} else {
		log.Warn("training split too small for cross-validation, using default parameters",
			zap.Int("smallest_train_class", ml.MinClassCount(trainLabels)))
	}

	tuned := base.WithParams(params)
	held, err := ml.FitPipeline(tuned, trainTexts, trainLabels)
	if err != nil {
		return nil, fmt.Errorf("fit on training split: %w", err)
	}
	evaluation := ml.Evaluate(testLabels, held.PredictAll(testTexts))
	report.Evaluation = &evaluation
	log.Info("held-out evaluation",
		zap.Int("test_rows", evaluation.Samples),
		zap.Float64("accuracy", evaluation.Accuracy),
		zap.Float64("macro_f1", evaluation.MacroF1))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	final := t.finalConfig(tuned, minClass)
	report.Params = paramsOf(final)
	model, err := ml.FitPipeline(final, texts, labels)
	if err != nil {
		return nil, fmt.Errorf("refit on all rows: %w", err)
	}
	return model, nil
}

// baseConfig is the uncalibrated pipeline used for fitting during search.
func (t *Trainer) baseConfig() ml.PipelineConfig {
	cfg := ml.DefaultPipelineConfig()
	cfg.ModelType = t.opts.ModelType
	if cfg.ModelType == ml.ModelTypeCalibratedLogReg {
		cfg.ModelType = ml.ModelTypeLogReg
	}
	if t.opts.MaxIter > 0 {
		cfg.MaxIter = t.opts.MaxIter
	}
	if t.opts.MaxDepth > 0 {
		cfg.MaxDepth = t.opts.MaxDepth
	}
	cfg.Seed = t.opts.Seed
	return cfg
}

// finalConfig enables sigmoid calibration for logistic regression when every
// class can appear in each calibration fold.
func (t *Trainer) finalConfig(cfg ml.PipelineConfig, minClass int) ml.PipelineConfig {
	if cfg.ModelType == ml.ModelTypeDecisionTree {
		return cfg
	}
	folds := min(t.opts.CalibrationFolds, minClass)
	if folds < 2 {
		cfg.ModelType = ml.ModelTypeLogReg
		cfg.Calibrate = false
		return cfg
	}
	cfg.ModelType = ml.ModelTypeCalibratedLogReg
	cfg.Calibrate = true
	cfg.CalibrationFolds = folds
	return cfg
}

func (t *Trainer) record(ctx context.Context, log *zap.Logger, report *Report) {
	if t.recorder == nil {
		return
	}
	run := db.TrainingRun{
		RunID:        report.RunID,
		ModelType:    report.ModelType,
		Strategy:     report.Strategy,
		Rows:         report.Rows,
		Classes:      len(report.ClassCounts),
		BestParams:   report.Params.String(),
		ArtifactPath: report.ModelPath,
	}
	if report.Evaluation != nil {
		accuracy, macroF1 := report.Evaluation.Accuracy, report.Evaluation.MacroF1
		run.Accuracy, run.MacroF1 = &accuracy, &macroF1
	}
	if err := t.recorder.SaveTrainingRun(ctx, run); err != nil {
		// the artifact is already written, so this only warns
		log.Warn("record training run", zap.Error(err))
	}
}

func paramsOf(cfg ml.PipelineConfig) ml.Params {
	p := ml.Params{NgramMax: cfg.Tfidf.NgramMax}
	if cfg.ModelType != ml.ModelTypeDecisionTree {
		p.C = cfg.C
	}
	return p
}

func pick(values []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}
