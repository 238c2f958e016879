package ml

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Hello, World! a b_c 42 x", true)
	want := []string{"hello", "world", "b_c", "42"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}

	got = Tokenize("Crash ON Save", false)
	want = []string{"Crash", "ON", "Save"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize without lowercase = %v, want %v", got, want)
	}
}

func TestTokenizeUnicode(t *testing.T) {
	got := Tokenize("Ошибка при входе 登录失败", true)
	want := []string{"ошибка", "при", "входе", "登录失败"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestNgrams(t *testing.T) {
	got := Ngrams([]string{"app", "crash", "save"}, 1, 2)
	want := []string{"app", "crash", "save", "app crash", "crash save"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Ngrams = %v, want %v", got, want)
	}
	if got := Ngrams([]string{"one"}, 2, 2); len(got) != 0 {
		t.Fatalf("expected no bigrams from one token, got %v", got)
	}
}

func TestTfidfVocabularyAndIDF(t *testing.T) {
	config := DefaultTfidfConfig()
	config.NgramMax = 1
	config.MaxDF = 1
	v := NewTfidfVectorizer(config)
	if err := v.Fit([]string{"app crash", "app save", "dark mode"}); err != nil {
		t.Fatalf("fit: %v", err)
	}

	wantVocab := map[string]int{"app": 0, "crash": 1, "dark": 2, "mode": 3, "save": 4}
	if !reflect.DeepEqual(v.Vocabulary, wantVocab) {
		t.Fatalf("vocabulary = %v, want %v", v.Vocabulary, wantVocab)
	}
	wantApp := math.Log(4.0/3.0) + 1
	if math.Abs(v.IDF[0]-wantApp) > 1e-12 {
		t.Fatalf("idf(app) = %v, want %v", v.IDF[0], wantApp)
	}
	wantCrash := math.Log(4.0/2.0) + 1
	if math.Abs(v.IDF[1]-wantCrash) > 1e-12 {
		t.Fatalf("idf(crash) = %v, want %v", v.IDF[1], wantCrash)
	}
}

func TestTfidfTransformIsNormalized(t *testing.T) {
	v := NewTfidfVectorizer(DefaultTfidfConfig())
	rows, err := v.FitTransform([]string{"app crash on save", "please add dark mode", "how do I reset"})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	for i, row := range rows {
		if math.Abs(row.Norm()-1) > 1e-9 {
			t.Fatalf("row %d norm = %v, want 1", i, row.Norm())
		}
		for j := 1; j < len(row.Indices); j++ {
			if row.Indices[j] <= row.Indices[j-1] {
				t.Fatalf("row %d indices not increasing: %v", i, row.Indices)
			}
		}
	}

	unknown := v.Transform("zzz qqq")
	if unknown.Len() != 0 {
		t.Fatalf("expected empty vector for unknown terms, got %v", unknown)
	}
}

func TestTfidfMaxDFPrunesEverything(t *testing.T) {
	v := NewTfidfVectorizer(DefaultTfidfConfig())
	err := v.Fit([]string{"same words", "same words"})
	if !errors.Is(err, ErrPrunedVocabulary) {
		t.Fatalf("expected ErrPrunedVocabulary, got %v", err)
	}
}

func TestTfidfEmptyVocabulary(t *testing.T) {
	v := NewTfidfVectorizer(DefaultTfidfConfig())
	err := v.Fit([]string{"a", "!"})
	if !errors.Is(err, ErrEmptyVocabulary) {
		t.Fatalf("expected ErrEmptyVocabulary, got %v", err)
	}
}

func TestSparseVectorGetAndDot(t *testing.T) {
	row := newSparseVector(map[int]float64{3: 2, 1: 1})
	if row.Get(1) != 1 || row.Get(3) != 2 || row.Get(2) != 0 {
		t.Fatalf("unexpected Get results for %v", row)
	}
	if got := row.Dot([]float64{0, 10, 0, 100}); got != 210 {
		t.Fatalf("Dot = %v, want 210", got)
	}
	// Indices beyond the weight row are ignored.
	if got := row.Dot([]float64{0, 10}); got != 10 {
		t.Fatalf("Dot with short weights = %v, want 10", got)
	}
}
