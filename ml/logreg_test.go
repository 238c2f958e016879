package ml

import (
	"math"
	"testing"
)

func separableRows() ([]SparseVector, []int) {
	x := []SparseVector{
		{Indices: []int{0}, Values: []float64{1}},
		{Indices: []int{0, 2}, Values: []float64{0.8, 0.6}},
		{Indices: []int{1}, Values: []float64{1}},
		{Indices: []int{1, 2}, Values: []float64{0.8, 0.6}},
	}
	return x, []int{0, 0, 1, 1}
}

func TestLogisticRegressionFitSeparable(t *testing.T) {
	x, y := separableRows()
	model := NewLogisticRegression(10, 500)
	if err := model.Fit(x, y, []string{"bug", "feature"}, 3); err != nil {
		t.Fatalf("fit: %v", err)
	}

	if got := model.Predict(SparseVector{Indices: []int{0}, Values: []float64{1}}); got != "bug" {
		t.Fatalf("expected bug, got %s", got)
	}
	if got := model.Predict(SparseVector{Indices: []int{1}, Values: []float64{1}}); got != "feature" {
		t.Fatalf("expected feature, got %s", got)
	}

	proba := model.PredictProba(SparseVector{Indices: []int{0}, Values: []float64{1}})
	if proba[0] <= 0.5 {
		t.Fatalf("expected bug probability above 0.5, got %v", proba)
	}
	if math.Abs(proba[0]+proba[1]-1) > 1e-9 {
		t.Fatalf("probabilities do not sum to 1: %v", proba)
	}
}

func TestLogisticRegressionIsDeterministic(t *testing.T) {
	x, y := separableRows()
	a := NewLogisticRegression(1, 200)
	b := NewLogisticRegression(1, 200)
	if err := a.Fit(x, y, []string{"bug", "feature"}, 3); err != nil {
		t.Fatalf("fit a: %v", err)
	}
	if err := b.Fit(x, y, []string{"bug", "feature"}, 3); err != nil {
		t.Fatalf("fit b: %v", err)
	}
	for c := range a.Weights {
		for j := range a.Weights[c] {
			if a.Weights[c][j] != b.Weights[c][j] {
				t.Fatalf("weights differ at [%d][%d]", c, j)
			}
		}
	}
}

func TestLogisticRegressionStrongerPenaltyShrinksWeights(t *testing.T) {
	x, y := separableRows()
	weak := NewLogisticRegression(100, 2000)
	strong := NewLogisticRegression(0.01, 2000)
	if err := weak.Fit(x, y, []string{"bug", "feature"}, 3); err != nil {
		t.Fatalf("fit weak: %v", err)
	}
	if err := strong.Fit(x, y, []string{"bug", "feature"}, 3); err != nil {
		t.Fatalf("fit strong: %v", err)
	}
	if math.Abs(strong.Weights[0][0]) >= math.Abs(weak.Weights[0][0]) {
		t.Fatalf("expected smaller weights with small C: strong=%v weak=%v", strong.Weights[0][0], weak.Weights[0][0])
	}
}

func TestLogisticRegressionFitValidation(t *testing.T) {
	x, y := separableRows()
	model := NewLogisticRegression(1, 10)
	if err := model.Fit(x, y, []string{"only"}, 3); err == nil {
		t.Fatalf("expected error for one class")
	}
	if err := model.Fit(x, y[:2], []string{"bug", "feature"}, 3); err == nil {
		t.Fatalf("expected error for size mismatch")
	}
	if err := model.Fit(x, []int{0, 0, 1, 5}, []string{"bug", "feature"}, 3); err == nil {
		t.Fatalf("expected error for label out of range")
	}
}
