package ml

import (
	"errors"
	"fmt"
)

const (
	ModelTypeLogReg           = "logreg"
	ModelTypeCalibratedLogReg = "calibrated_logreg"
	ModelTypeDecisionTree     = "decision_tree"
)

// Params are the hyperparameters explored by the grid search.
type Params struct {
	NgramMax int     `json:"ngram_max"`
	C        float64 `json:"c"`
}

func (p Params) String() string {
	return fmt.Sprintf("ngram_range=(1,%d) C=%g", p.NgramMax, p.C)
}

// PipelineConfig describes how to build an unfitted pipeline.
type PipelineConfig struct {
	ModelType        string      `json:"model_type"`
	Tfidf            TfidfConfig `json:"tfidf"`
	C                float64     `json:"c"`
	MaxIter          int         `json:"max_iter"`
	MaxDepth         int         `json:"max_depth"`
	Calibrate        bool        `json:"calibrate"`
	CalibrationFolds int         `json:"calibration_folds"`
	Seed             int64       `json:"seed"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ModelType:        ModelTypeLogReg,
		Tfidf:            DefaultTfidfConfig(),
		C:                DefaultC,
		MaxIter:          DefaultMaxIter,
		MaxDepth:         DefaultMaxDepth,
		CalibrationFolds: DefaultCalibrationFolds,
		Seed:             42,
	}
}

// WithParams returns a copy using the given hyperparameters.
func (c PipelineConfig) WithParams(p Params) PipelineConfig {
	if p.NgramMax > 0 {
		c.Tfidf.NgramMax = p.NgramMax
	}
	if p.C > 0 {
		c.C = p.C
	}
	return c
}

func (c PipelineConfig) newEstimator() (TrainableEstimator, error) {
	switch c.ModelType {
	case "", ModelTypeLogReg, ModelTypeCalibratedLogReg:
		if c.Calibrate || c.ModelType == ModelTypeCalibratedLogReg {
			return NewCalibratedClassifier(c.C, c.MaxIter, c.CalibrationFolds, c.Seed), nil
		}
		return NewLogisticRegression(c.C, c.MaxIter), nil
	case ModelTypeDecisionTree:
		return NewDecisionTree(c.MaxDepth), nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", c.ModelType)
	}
}

// Pipeline chains the TF-IDF vectorizer and an estimator.
type Pipeline struct {
	Vectorizer *TfidfVectorizer
	Estimator  Estimator
}

// FitPipeline vectorizes texts and fits a fresh estimator on them.
func FitPipeline(config PipelineConfig, texts, labels []string) (*Pipeline, error) {
	if len(texts) == 0 || len(texts) != len(labels) {
		return nil, errors.New("texts and labels must be non-empty and the same length")
	}
	classes, y := EncodeLabels(labels)
	if len(classes) < 2 {
		return nil, fmt.Errorf("need at least 2 categories, got %d", len(classes))
	}

	vectorizer := NewTfidfVectorizer(config.Tfidf)
	x, err := vectorizer.FitTransform(texts)
	if err != nil {
		return nil, fmt.Errorf("fit vectorizer: %w", err)
	}

	estimator, err := config.newEstimator()
	if err != nil {
		return nil, err
	}
	if err := estimator.Fit(x, y, classes, vectorizer.NumFeatures()); err != nil {
		return nil, fmt.Errorf("fit %s: %w", config.ModelType, err)
	}
	return &Pipeline{Vectorizer: vectorizer, Estimator: estimator}, nil
}

func (p *Pipeline) Labels() []string {
	return p.Estimator.Labels()
}

func (p *Pipeline) Predict(text string) string {
	return p.Estimator.Predict(p.Vectorizer.Transform(text))
}

// PredictProba returns class probabilities aligned with Labels, and false
// when the estimator cannot produce probabilities.
func (p *Pipeline) PredictProba(text string) ([]float64, bool) {
	probabilistic, ok := p.Estimator.(ProbabilisticEstimator)
	if !ok {
		return nil, false
	}
	return probabilistic.PredictProba(p.Vectorizer.Transform(text)), true
}

// PredictAll predicts a batch of texts.
func (p *Pipeline) PredictAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = p.Predict(text)
	}
	return out
}

// ModelType names the estimator kind stored in artifacts.
func (p *Pipeline) ModelType() string {
	switch p.Estimator.(type) {
	case *CalibratedClassifier:
		return ModelTypeCalibratedLogReg
	case *LogisticRegression:
		return ModelTypeLogReg
	case *DecisionTree:
		return ModelTypeDecisionTree
	default:
		return fmt.Sprintf("%T", p.Estimator)
	}
}
