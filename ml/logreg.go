package ml

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultC       = 1.0
	DefaultMaxIter = 2000
	DefaultTol     = 1e-4
)

// LogisticRegression is a multinomial (softmax) logistic regression with an
// L2 penalty on the weights; intercepts are not penalized. The objective is
// the mean cross-entropy plus ||W||^2 / (2*C*n), minimized with Nesterov
// accelerated gradient descent from a zero start, so fits are
// deterministic.
type LogisticRegression struct {
	C          float64     `json:"c"`
	MaxIter    int         `json:"max_iter"`
	Tol        float64     `json:"tol"`
	Classes    []string    `json:"classes"`
	Weights    [][]float64 `json:"weights"`
	Intercepts []float64   `json:"intercepts"`
	Iterations int         `json:"iterations"`
}

func NewLogisticRegression(c float64, maxIter int) *LogisticRegression {
	if c <= 0 {
		c = DefaultC
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}
	return &LogisticRegression{C: c, MaxIter: maxIter, Tol: DefaultTol}
}

func (m *LogisticRegression) Labels() []string {
	return m.Classes
}

// Fit trains on rows x with targets y (indices into classes).
func (m *LogisticRegression) Fit(x []SparseVector, y []int, classes []string, numFeatures int) error {
	if len(x) == 0 || len(y) == 0 {
		return errors.New("features or labels empty")
	}
	if len(x) != len(y) {
		return errors.New("features and labels size mismatch")
	}
	if len(classes) < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}
	if numFeatures <= 0 {
		return errors.New("numFeatures must be positive")
	}
	for _, target := range y {
		if target < 0 || target >= len(classes) {
			return fmt.Errorf("label index %d out of range", target)
		}
	}
	if m.C <= 0 {
		m.C = DefaultC
	}
	if m.MaxIter <= 0 {
		m.MaxIter = DefaultMaxIter
	}
	if m.Tol <= 0 {
		m.Tol = DefaultTol
	}

	k := len(classes)
	n := float64(len(x))
	l2 := 1 / (m.C * n)

	var maxNormSq float64
	for _, row := range x {
		norm := row.Norm()
		if norm*norm > maxNormSq {
			maxNormSq = norm * norm
		}
	}
	// Lipschitz bound of the gradient; the intercept acts as a constant
	// feature of value 1.
	step := 1 / (0.5*(maxNormSq+1) + l2)

	w := newMatrix(k, numFeatures)
	wPrev := newMatrix(k, numFeatures)
	look := newMatrix(k, numFeatures)
	grad := newMatrix(k, numFeatures)
	b := make([]float64, k)
	bPrev := make([]float64, k)
	bLook := make([]float64, k)
	bGrad := make([]float64, k)
	scores := make([]float64, k)

	m.Iterations = 0
	for iter := 0; iter < m.MaxIter; iter++ {
		m.Iterations = iter + 1
		momentum := float64(iter) / float64(iter+3)
		for c := 0; c < k; c++ {
			for j := range look[c] {
				look[c][j] = w[c][j] + momentum*(w[c][j]-wPrev[c][j])
				grad[c][j] = l2 * look[c][j]
			}
			bLook[c] = b[c] + momentum*(b[c]-bPrev[c])
			bGrad[c] = 0
		}

		for i, row := range x {
			for c := 0; c < k; c++ {
				scores[c] = row.Dot(look[c]) + bLook[c]
			}
			softmaxInPlace(scores)
			for c := 0; c < k; c++ {
				diff := scores[c]
				if c == y[i] {
					diff -= 1
				}
				diff /= n
				if diff == 0 {
					continue
				}
				for p, idx := range row.Indices {
					grad[c][idx] += diff * row.Values[p]
				}
				bGrad[c] += diff
			}
		}

		var maxGrad float64
		for c := 0; c < k; c++ {
			for j := range grad[c] {
				if g := math.Abs(grad[c][j]); g > maxGrad {
					maxGrad = g
				}
			}
			if g := math.Abs(bGrad[c]); g > maxGrad {
				maxGrad = g
			}
		}

		for c := 0; c < k; c++ {
			copy(wPrev[c], w[c])
			for j := range w[c] {
				w[c][j] = look[c][j] - step*grad[c][j]
			}
			bPrev[c] = b[c]
			b[c] = bLook[c] - step*bGrad[c]
		}

		if maxGrad < m.Tol {
			break
		}
	}

	m.Classes = append([]string(nil), classes...)
	m.Weights = w
	m.Intercepts = b
	return nil
}

// DecisionFunction returns the raw per-class scores.
func (m *LogisticRegression) DecisionFunction(x SparseVector) []float64 {
	scores := make([]float64, len(m.Weights))
	for c := range m.Weights {
		scores[c] = x.Dot(m.Weights[c]) + m.Intercepts[c]
	}
	return scores
}

func (m *LogisticRegression) PredictProba(x SparseVector) []float64 {
	scores := m.DecisionFunction(x)
	softmaxInPlace(scores)
	return scores
}

func (m *LogisticRegression) Predict(x SparseVector) string {
	return m.Classes[argmax(m.DecisionFunction(x))]
}

func (m *LogisticRegression) validate() error {
	if len(m.Classes) < 2 {
		return errors.New("logistic regression not fitted")
	}
	if len(m.Weights) != len(m.Classes) || len(m.Intercepts) != len(m.Classes) {
		return fmt.Errorf("logistic regression shape mismatch: classes=%d weights=%d intercepts=%d",
			len(m.Classes), len(m.Weights), len(m.Intercepts))
	}
	return nil
}

func newMatrix(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	matrix := make([][]float64, rows)
	for i := range matrix {
		matrix[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return matrix
}

func softmaxInPlace(scores []float64) {
	if len(scores) == 0 {
		return
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for i, s := range scores {
		scores[i] = math.Exp(s - maxScore)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
}

func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
