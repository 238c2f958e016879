package ml

// Estimator is a fitted classifier over vectorized text.
type Estimator interface {
	Predict(x SparseVector) string
	Labels() []string
}

// ProbabilisticEstimator additionally reports class probabilities aligned
// with Labels.
type ProbabilisticEstimator interface {
	Estimator
	PredictProba(x SparseVector) []float64
}

// TrainableEstimator fits on rows whose targets are indices into classes.
type TrainableEstimator interface {
	Estimator
	Fit(x []SparseVector, y []int, classes []string, numFeatures int) error
}
