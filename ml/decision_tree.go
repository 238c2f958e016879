package ml

import (
	"errors"
	"math"
	"sort"
)

const DefaultMaxDepth = 10

// DecisionTree is a gini-split classification tree over TF-IDF rows. Nodes
// are stored flattened in pre-order. It does not produce probabilities.
type DecisionTree struct {
	MaxDepth int        `json:"max_depth"`
	Classes  []string   `json:"classes"`
	Nodes    []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassLabel int     `json:"class_label"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewDecisionTree(maxDepth int) *DecisionTree {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &DecisionTree{MaxDepth: maxDepth}
}

func (dt *DecisionTree) Labels() []string {
	return dt.Classes
}

func (dt *DecisionTree) Fit(features []SparseVector, labels []int, classes []string, numFeatures int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if dt.MaxDepth <= 0 {
		dt.MaxDepth = DefaultMaxDepth
	}

	dt.Classes = append([]string(nil), classes...)
	dt.Nodes = dt.buildNode(features, labels, 0)
	return nil
}

func (dt *DecisionTree) Predict(features SparseVector) string {
	label, err := dt.predictIndex(features)
	if err != nil || label < 0 || label >= len(dt.Classes) {
		return ""
	}
	return dt.Classes[label]
}

func (dt *DecisionTree) predictIndex(features SparseVector) (int, error) {
	if len(dt.Nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.ClassLabel, nil
		}
		if features.Get(node.FeatureIdx) <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) validate() error {
	if len(dt.Nodes) == 0 || len(dt.Classes) == 0 {
		return errors.New("decision tree not trained")
	}
	for i, node := range dt.Nodes {
		if node.IsLeaf {
			if node.ClassLabel < 0 || node.ClassLabel >= len(dt.Classes) {
				return errors.New("decision tree leaf label out of range")
			}
			continue
		}
		if node.LeftChild <= i || node.RightChild <= i || node.RightChild >= len(dt.Nodes) {
			return errors.New("invalid tree state")
		}
	}
	return nil
}

func leafNode(label int) TreeNode {
	return TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		ClassLabel: label,
		IsLeaf:     true,
	}
}

func (dt *DecisionTree) buildNode(features []SparseVector, labels []int, depth int) []TreeNode {
	label := majorityLabel(labels)
	if depth >= dt.MaxDepth || isPure(labels) {
		return []TreeNode{leafNode(label)}
	}

	bestFeature, threshold, ok := findBestSplit(features, labels)
	if !ok {
		return []TreeNode{leafNode(label)}
	}

	leftFeatures, leftLabels, rightFeatures, rightLabels := splitData(features, labels, bestFeature, threshold)
	if len(leftLabels) == 0 || len(rightLabels) == 0 {
		return []TreeNode{leafNode(label)}
	}

	leftNodes := dt.buildNode(leftFeatures, leftLabels, depth+1)
	rightNodes := dt.buildNode(rightFeatures, rightLabels, depth+1)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		ClassLabel: label,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetNodes(leftNodes, 1)...)
	nodes = append(nodes, offsetNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// offsetNodes rebases child pointers of a subtree placed at position base.
func offsetNodes(nodes []TreeNode, base int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += base
		nodes[i].RightChild += base
	}
	return nodes
}

// candidateFeatures lists features that are non-zero in at least one row.
func candidateFeatures(features []SparseVector) []int {
	seen := make(map[int]struct{})
	for _, row := range features {
		for _, idx := range row.Indices {
			seen[idx] = struct{}{}
		}
	}
	candidates := make([]int, 0, len(seen))
	for idx := range seen {
		candidates = append(candidates, idx)
	}
	sort.Ints(candidates)
	return candidates
}

func findBestSplit(features []SparseVector, labels []int) (int, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	values := make([]float64, len(features))
	for _, featureIdx := range candidateFeatures(features) {
		for i := range features {
			values[i] = features[i].Get(featureIdx)
		}
		threshold := median(values)
		leftLabels, rightLabels := splitLabels(values, labels, threshold)
		if len(leftLabels) == 0 || len(rightLabels) == 0 {
			continue
		}
		impurity := weightedGini(leftLabels, rightLabels)
		if impurity < bestImpurity {
			bestImpurity = impurity
			bestFeature = featureIdx
			bestThreshold = threshold
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func splitData(features []SparseVector, labels []int, featureIdx int, threshold float64) ([]SparseVector, []int, []SparseVector, []int) {
	leftFeatures := make([]SparseVector, 0)
	leftLabels := make([]int, 0)
	rightFeatures := make([]SparseVector, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature.Get(featureIdx) <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftFeatures, leftLabels, rightFeatures, rightLabels
}

func splitLabels(values []float64, labels []int, threshold float64) ([]int, []int) {
	leftLabels := make([]int, 0)
	rightLabels := make([]int, 0)
	for i, value := range values {
		if value <= threshold {
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftLabels, rightLabels
}

func weightedGini(leftLabels, rightLabels []int) float64 {
	leftWeight := float64(len(leftLabels))
	rightWeight := float64(len(rightLabels))
	total := leftWeight + rightWeight
	return (leftWeight/total)*gini(leftLabels) + (rightWeight/total)*gini(rightLabels)
}

func gini(labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, label := range labels {
		counts[label]++
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(len(labels))
		impurity -= prob * prob
	}
	return impurity
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func majorityLabel(labels []int) int {
	counts := make(map[int]int)
	bestLabel := 0
	bestCount := -1
	for _, label := range labels {
		counts[label]++
		if counts[label] > bestCount {
			bestCount = counts[label]
			bestLabel = label
		}
	}
	return bestLabel
}

func isPure(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, label := range labels[1:] {
		if label != first {
			return false
		}
	}
	return true
}
