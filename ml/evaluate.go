package ml

import "sort"

// ClassMetrics holds per-class evaluation results.
type ClassMetrics struct {
	Class     string  `json:"class"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation summarizes predictions against ground truth.
type Evaluation struct {
	Accuracy float64        `json:"accuracy"`
	MacroF1  float64        `json:"macro_f1"`
	Samples  int            `json:"samples"`
	Classes  []ClassMetrics `json:"classes"`
}

// Evaluate compares predicted and actual labels. Classes that never appear
// in either list are left out of the macro average.
func Evaluate(actual, predicted []string) Evaluation {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return Evaluation{}
	}

	type counts struct{ tp, fp, fn, support int }
	perClass := make(map[string]*counts)
	get := func(class string) *counts {
		c, ok := perClass[class]
		if !ok {
			c = &counts{}
			perClass[class] = c
		}
		return c
	}

	var correct int
	for i, want := range actual {
		got := predicted[i]
		get(want).support++
		if got == want {
			correct++
			get(want).tp++
			continue
		}
		get(got).fp++
		get(want).fn++
	}

	names := make([]string, 0, len(perClass))
	for class := range perClass {
		names = append(names, class)
	}
	sort.Strings(names)

	eval := Evaluation{
		Accuracy: float64(correct) / float64(len(actual)),
		Samples:  len(actual),
		Classes:  make([]ClassMetrics, 0, len(names)),
	}
	var f1Sum float64
	for _, class := range names {
		c := perClass[class]
		m := ClassMetrics{Class: class, Support: c.support}
		if c.tp+c.fp > 0 {
			m.Precision = float64(c.tp) / float64(c.tp+c.fp)
		}
		if c.tp+c.fn > 0 {
			m.Recall = float64(c.tp) / float64(c.tp+c.fn)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		f1Sum += m.F1
		eval.Classes = append(eval.Classes, m)
	}
	eval.MacroF1 = f1Sum / float64(len(names))
	return eval
}
