package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Fold is one train/test partition of row indices.
type Fold struct {
	Train []int
	Test  []int
}

// EncodeLabels returns the sorted distinct classes and each label's index
// into them.
func EncodeLabels(labels []string) ([]string, []int) {
	seen := make(map[string]struct{}, len(labels))
	classes := make([]string, 0)
	for _, label := range labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		classes = append(classes, label)
	}
	sort.Strings(classes)

	index := make(map[string]int, len(classes))
	for i, class := range classes {
		index[class] = i
	}
	y := make([]int, len(labels))
	for i, label := range labels {
		y[i] = index[label]
	}
	return classes, y
}

// ClassCounts counts rows per class label.
func ClassCounts(labels []string) map[string]int {
	counts := make(map[string]int)
	for _, label := range labels {
		counts[label]++
	}
	return counts
}

// MinClassCount returns the size of the smallest class, or 0 for no labels.
func MinClassCount(labels []string) int {
	counts := ClassCounts(labels)
	if len(counts) == 0 {
		return 0
	}
	minCount := math.MaxInt
	for _, count := range counts {
		if count < minCount {
			minCount = count
		}
	}
	return minCount
}

func groupByClass(y []int) map[int][]int {
	groups := make(map[int][]int)
	for i, class := range y {
		groups[class] = append(groups[class], i)
	}
	return groups
}

func sortedClasses(groups map[int][]int) []int {
	classes := make([]int, 0, len(groups))
	for class := range groups {
		classes = append(classes, class)
	}
	sort.Ints(classes)
	return classes
}

// StratifiedSplit partitions rows so every class appears on both sides with
// roughly testRatio of its rows held out. Every class needs at least two
// rows.
func StratifiedSplit(y []int, testRatio float64, seed int64) (train, test []int, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	groups := groupByClass(y)

	for _, class := range sortedClasses(groups) {
		members := groups[class]
		if len(members) < 2 {
			return nil, nil, fmt.Errorf("class %d has %d rows, need at least 2 for a stratified split", class, len(members))
		}
		shuffled := append([]int(nil), members...)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		nTest := int(math.Round(float64(len(shuffled)) * testRatio))
		if nTest < 1 {
			nTest = 1
		}
		if nTest > len(shuffled)-1 {
			nTest = len(shuffled) - 1
		}
		test = append(test, shuffled[:nTest]...)
		train = append(train, shuffled[nTest:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// StratifiedKFold deals each class's shuffled rows round-robin over k
// folds. Every class needs at least k rows so each fold sees it.
func StratifiedKFold(y []int, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("k must be at least 2, got %d", k)
	}
	rnd := rand.New(rand.NewSource(seed))
	groups := groupByClass(y)

	assignment := make([]int, len(y))
	offset := 0
	for _, class := range sortedClasses(groups) {
		members := groups[class]
		if len(members) < k {
			return nil, fmt.Errorf("class %d has %d rows, fewer than %d folds", class, len(members), k)
		}
		shuffled := append([]int(nil), members...)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for j, row := range shuffled {
			assignment[row] = (offset + j) % k
		}
		offset += len(shuffled)
	}

	folds := make([]Fold, k)
	for row, fold := range assignment {
		for f := range folds {
			if f == fold {
				folds[f].Test = append(folds[f].Test, row)
			} else {
				folds[f].Train = append(folds[f].Train, row)
			}
		}
	}
	return folds, nil
}

func selectRows(x []SparseVector, y []int, idx []int) ([]SparseVector, []int) {
	outX := make([]SparseVector, len(idx))
	outY := make([]int, len(idx))
	for i, row := range idx {
		outX[i] = x[row]
		outY[i] = y[row]
	}
	return outX, outY
}

func selectStrings(values []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, row := range idx {
		out[i] = values[row]
	}
	return out
}
