package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrEmptyVocabulary  = errors.New("empty vocabulary; documents contain no tokens")
	ErrPrunedVocabulary = errors.New("after pruning, no terms remain; try a lower min_df or a higher max_df")
)

// TfidfConfig controls vocabulary construction.
type TfidfConfig struct {
	NgramMin  int     `json:"ngram_min" yaml:"ngram_min"`
	NgramMax  int     `json:"ngram_max" yaml:"ngram_max"`
	MinDF     int     `json:"min_df" yaml:"min_df"`
	MaxDF     float64 `json:"max_df" yaml:"max_df"`
	Lowercase bool    `json:"lowercase" yaml:"lowercase"`
}

// DefaultTfidfConfig mirrors the production pipeline: unigrams and bigrams,
// min_df=1, max_df=0.95.
func DefaultTfidfConfig() TfidfConfig {
	return TfidfConfig{
		NgramMin:  1,
		NgramMax:  2,
		MinDF:     1,
		MaxDF:     0.95,
		Lowercase: true,
	}
}

// TfidfVectorizer turns documents into L2-normalized TF-IDF rows using
// smoothed idf: ln((1+n)/(1+df)) + 1.
type TfidfVectorizer struct {
	Config     TfidfConfig    `json:"config"`
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
}

func NewTfidfVectorizer(config TfidfConfig) *TfidfVectorizer {
	if config.NgramMin <= 0 {
		config.NgramMin = 1
	}
	if config.NgramMax < config.NgramMin {
		config.NgramMax = config.NgramMin
	}
	if config.MinDF <= 0 {
		config.MinDF = 1
	}
	if config.MaxDF <= 0 || config.MaxDF > 1 {
		config.MaxDF = 1
	}
	return &TfidfVectorizer{Config: config}
}

func (v *TfidfVectorizer) terms(doc string) []string {
	return Ngrams(Tokenize(doc, v.Config.Lowercase), v.Config.NgramMin, v.Config.NgramMax)
}

// Fit learns the vocabulary and idf weights.
func (v *TfidfVectorizer) Fit(docs []string) error {
	if len(docs) == 0 {
		return errors.New("no documents to fit")
	}

	docFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, term := range v.terms(doc) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			docFreq[term]++
		}
	}
	if len(docFreq) == 0 {
		return ErrEmptyVocabulary
	}

	n := len(docs)
	maxDocCount := v.Config.MaxDF * float64(n)
	kept := make([]string, 0, len(docFreq))
	for term, df := range docFreq {
		if df < v.Config.MinDF || float64(df) > maxDocCount {
			continue
		}
		kept = append(kept, term)
	}
	if len(kept) == 0 {
		return ErrPrunedVocabulary
	}
	sort.Strings(kept)

	v.Vocabulary = make(map[string]int, len(kept))
	v.IDF = make([]float64, len(kept))
	for i, term := range kept {
		v.Vocabulary[term] = i
		v.IDF[i] = math.Log(float64(1+n)/float64(1+docFreq[term])) + 1
	}
	return nil
}

// Transform vectorizes a single document. Unknown terms are ignored; a
// document without known terms yields an empty vector.
func (v *TfidfVectorizer) Transform(doc string) SparseVector {
	counts := make(map[int]float64)
	for _, term := range v.terms(doc) {
		if idx, ok := v.Vocabulary[term]; ok {
			counts[idx]++
		}
	}
	for idx, tf := range counts {
		counts[idx] = tf * v.IDF[idx]
	}
	row := newSparseVector(counts)
	row.normalize()
	return row
}

func (v *TfidfVectorizer) TransformAll(docs []string) []SparseVector {
	rows := make([]SparseVector, len(docs))
	for i, doc := range docs {
		rows[i] = v.Transform(doc)
	}
	return rows
}

func (v *TfidfVectorizer) FitTransform(docs []string) ([]SparseVector, error) {
	if err := v.Fit(docs); err != nil {
		return nil, err
	}
	return v.TransformAll(docs), nil
}

// NumFeatures is the vocabulary size.
func (v *TfidfVectorizer) NumFeatures() int {
	return len(v.IDF)
}

func (v *TfidfVectorizer) validate() error {
	if len(v.Vocabulary) == 0 || len(v.IDF) != len(v.Vocabulary) {
		return fmt.Errorf("vectorizer not fitted: vocabulary=%d idf=%d", len(v.Vocabulary), len(v.IDF))
	}
	for term, idx := range v.Vocabulary {
		if idx < 0 || idx >= len(v.IDF) {
			return fmt.Errorf("vocabulary term %q has index %d outside idf of length %d", term, idx, len(v.IDF))
		}
	}
	return nil
}
