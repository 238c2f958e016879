package ml

import (
	"errors"
	"fmt"
	"math"
)

const DefaultCalibrationFolds = 3

// SigmoidCalibrator maps a raw score f to P(positive) = 1 / (1 + exp(A*f + B)).
type SigmoidCalibrator struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func (s SigmoidCalibrator) Predict(score float64) float64 {
	fApB := score*s.A + s.B
	if fApB >= 0 {
		e := math.Exp(-fApB)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(fApB))
}

// FitSigmoid fits Platt scaling with the Newton method and backtracking
// line search of Lin, Lin and Weng, using smoothed targets.
func FitSigmoid(scores []float64, positive []bool) SigmoidCalibrator {
	var prior1, prior0 float64
	for _, p := range positive {
		if p {
			prior1++
		} else {
			prior0++
		}
	}

	hiTarget := (prior1 + 1) / (prior1 + 2)
	loTarget := 1 / (prior0 + 2)
	targets := make([]float64, len(scores))
	for i, p := range positive {
		if p {
			targets[i] = hiTarget
		} else {
			targets[i] = loTarget
		}
	}

	const (
		maxIter = 100
		minStep = 1e-10
		sigma   = 1e-12
		eps     = 1e-5
	)

	a := 0.0
	b := math.Log((prior0 + 1) / (prior1 + 1))
	fval := plattObjective(scores, targets, a, b)

	for iter := 0; iter < maxIter; iter++ {
		h11, h22, h21 := sigma, sigma, 0.0
		g1, g2 := 0.0, 0.0
		for i, f := range scores {
			fApB := f*a + b
			var p, q float64
			if fApB >= 0 {
				e := math.Exp(-fApB)
				p = e / (1 + e)
				q = 1 / (1 + e)
			} else {
				e := math.Exp(fApB)
				p = 1 / (1 + e)
				q = e / (1 + e)
			}
			d2 := p * q
			h11 += f * f * d2
			h22 += d2
			h21 += f * d2
			d1 := targets[i] - p
			g1 += f * d1
			g2 += d1
		}
		if math.Abs(g1) < eps && math.Abs(g2) < eps {
			break
		}

		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= minStep {
			newA := a + step*dA
			newB := b + step*dB
			newF := plattObjective(scores, targets, newA, newB)
			if newF < fval+0.0001*step*gd {
				a, b, fval = newA, newB, newF
				break
			}
			step /= 2
		}
		if step < minStep {
			break
		}
	}
	return SigmoidCalibrator{A: a, B: b}
}

func plattObjective(scores, targets []float64, a, b float64) float64 {
	var total float64
	for i, f := range scores {
		fApB := f*a + b
		if fApB >= 0 {
			total += targets[i]*fApB + math.Log1p(math.Exp(-fApB))
		} else {
			total += (targets[i]-1)*fApB + math.Log1p(math.Exp(fApB))
		}
	}
	return total
}

// CalibratedFold is one base model with per-class calibrators fitted on the
// fold it did not see.
type CalibratedFold struct {
	Base        *LogisticRegression `json:"base"`
	Calibrators []SigmoidCalibrator `json:"calibrators"`
}

// CalibratedClassifier averages sigmoid-calibrated probabilities over
// stratified folds. For two classes only the positive class score
// (difference of logits) is calibrated; otherwise each class is calibrated
// one-vs-rest and the result renormalized.
type CalibratedClassifier struct {
	C       float64          `json:"c"`
	MaxIter int              `json:"max_iter"`
	Folds   int              `json:"folds"`
	Seed    int64            `json:"seed"`
	Classes []string         `json:"classes"`
	Members []CalibratedFold `json:"members"`
}

func NewCalibratedClassifier(c float64, maxIter, folds int, seed int64) *CalibratedClassifier {
	if folds < 2 {
		folds = DefaultCalibrationFolds
	}
	return &CalibratedClassifier{C: c, MaxIter: maxIter, Folds: folds, Seed: seed}
}

func (m *CalibratedClassifier) Labels() []string {
	return m.Classes
}

func (m *CalibratedClassifier) Fit(x []SparseVector, y []int, classes []string, numFeatures int) error {
	if len(x) != len(y) {
		return errors.New("features and labels size mismatch")
	}
	folds, err := StratifiedKFold(y, m.Folds, m.Seed)
	if err != nil {
		return fmt.Errorf("calibration folds: %w", err)
	}

	members := make([]CalibratedFold, 0, len(folds))
	for _, fold := range folds {
		trainX, trainY := selectRows(x, y, fold.Train)
		base := NewLogisticRegression(m.C, m.MaxIter)
		if err := base.Fit(trainX, trainY, classes, numFeatures); err != nil {
			return fmt.Errorf("calibration base fit: %w", err)
		}

		holdX, holdY := selectRows(x, y, fold.Test)
		calibrators := fitCalibrators(base, holdX, holdY, len(classes))
		members = append(members, CalibratedFold{Base: base, Calibrators: calibrators})
	}

	m.Classes = append([]string(nil), classes...)
	m.Members = members
	return nil
}

func fitCalibrators(base *LogisticRegression, x []SparseVector, y []int, k int) []SigmoidCalibrator {
	decisions := make([][]float64, len(x))
	for i, row := range x {
		decisions[i] = base.DecisionFunction(row)
	}

	if k == 2 {
		scores := make([]float64, len(x))
		positive := make([]bool, len(x))
		for i := range x {
			scores[i] = binaryScore(decisions[i])
			positive[i] = y[i] == 1
		}
		return []SigmoidCalibrator{FitSigmoid(scores, positive)}
	}

	calibrators := make([]SigmoidCalibrator, k)
	for c := 0; c < k; c++ {
		scores := make([]float64, len(x))
		positive := make([]bool, len(x))
		for i := range x {
			scores[i] = decisions[i][c]
			positive[i] = y[i] == c
		}
		calibrators[c] = FitSigmoid(scores, positive)
	}
	return calibrators
}

func binaryScore(decision []float64) float64 {
	return decision[1] - decision[0]
}

func (m *CalibratedClassifier) PredictProba(x SparseVector) []float64 {
	k := len(m.Classes)
	proba := make([]float64, k)
	if len(m.Members) == 0 {
		return proba
	}

	for _, member := range m.Members {
		decision := member.Base.DecisionFunction(x)
		if k == 2 {
			p1 := member.Calibrators[0].Predict(binaryScore(decision))
			proba[0] += 1 - p1
			proba[1] += p1
			continue
		}

		fold := make([]float64, k)
		var sum float64
		for c := 0; c < k; c++ {
			fold[c] = member.Calibrators[c].Predict(decision[c])
			sum += fold[c]
		}
		for c := 0; c < k; c++ {
			if sum == 0 {
				proba[c] += 1 / float64(k)
				continue
			}
			proba[c] += fold[c] / sum
		}
	}

	for c := range proba {
		proba[c] /= float64(len(m.Members))
	}
	return proba
}

func (m *CalibratedClassifier) Predict(x SparseVector) string {
	return m.Classes[argmax(m.PredictProba(x))]
}

func (m *CalibratedClassifier) validate() error {
	if len(m.Classes) < 2 || len(m.Members) == 0 {
		return errors.New("calibrated classifier not fitted")
	}
	for i, member := range m.Members {
		if member.Base == nil {
			return fmt.Errorf("calibrated member %d has no base model", i)
		}
		if err := member.Base.validate(); err != nil {
			return fmt.Errorf("calibrated member %d: %w", i, err)
		}
		want := len(m.Classes)
		if want == 2 {
			want = 1
		}
		if len(member.Calibrators) != want {
			return fmt.Errorf("calibrated member %d has %d calibrators, want %d", i, len(member.Calibrators), want)
		}
	}
	return nil
}
