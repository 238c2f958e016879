package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArtifactFormatVersion is bumped whenever the on-disk layout changes.
const ArtifactFormatVersion = 1

var (
	ErrModelNotFound     = errors.New("model artifact not found")
	ErrUnsupportedFormat = errors.New("unsupported artifact format")
	ErrMalformedArtifact = errors.New("malformed model artifact")
)

// ArtifactMetadata describes how an artifact was produced.
type ArtifactMetadata struct {
	RunID       string      `json:"run_id,omitempty"`
	ModelType   string      `json:"model_type"`
	Classes     []string    `json:"classes"`
	CreatedAt   time.Time   `json:"created_at"`
	TrainedRows int         `json:"trained_rows"`
	Strategy    string      `json:"strategy,omitempty"`
	Params      Params      `json:"params"`
	Evaluation  *Evaluation `json:"evaluation,omitempty"`
}

type artifactFile struct {
	Format     int                   `json:"format"`
	Metadata   ArtifactMetadata      `json:"metadata"`
	Vectorizer *TfidfVectorizer      `json:"vectorizer"`
	LogReg     *LogisticRegression   `json:"logreg,omitempty"`
	Calibrated *CalibratedClassifier `json:"calibrated,omitempty"`
	Tree       *DecisionTree         `json:"decision_tree,omitempty"`
}

// SaveArtifact serializes the pipeline to path atomically; readers see
// either the old file or the complete new one.
func SaveArtifact(path string, pipeline *Pipeline, meta ArtifactMetadata) error {
	if pipeline == nil || pipeline.Vectorizer == nil || pipeline.Estimator == nil {
		return errors.New("pipeline not fitted")
	}

	meta.ModelType = pipeline.ModelType()
	meta.Classes = append([]string(nil), pipeline.Labels()...)
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	file := artifactFile{
		Format:     ArtifactFormatVersion,
		Metadata:   meta,
		Vectorizer: pipeline.Vectorizer,
	}
	switch estimator := pipeline.Estimator.(type) {
	case *LogisticRegression:
		file.LogReg = estimator
	case *CalibratedClassifier:
		file.Calibrated = estimator
	case *DecisionTree:
		file.Tree = estimator
	default:
		return fmt.Errorf("cannot serialize estimator %T", pipeline.Estimator)
	}

	payload, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	return writeFileAtomic(path, payload, 0o644)
}

// LoadArtifact reads and validates an artifact. A missing file yields an
// error wrapping ErrModelNotFound.
func LoadArtifact(path string) (*Pipeline, ArtifactMetadata, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ArtifactMetadata{}, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, ArtifactMetadata{}, err
	}

	var file artifactFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, ArtifactMetadata{}, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	if file.Format != ArtifactFormatVersion {
		return nil, ArtifactMetadata{}, fmt.Errorf("%w: %d", ErrUnsupportedFormat, file.Format)
	}
	if file.Vectorizer == nil {
		return nil, ArtifactMetadata{}, fmt.Errorf("%w: missing vectorizer", ErrMalformedArtifact)
	}
	if err := file.Vectorizer.validate(); err != nil {
		return nil, ArtifactMetadata{}, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}

	pipeline := &Pipeline{Vectorizer: file.Vectorizer}
	var validate func() error
	switch {
	case file.Calibrated != nil:
		pipeline.Estimator = file.Calibrated
		validate = file.Calibrated.validate
	case file.LogReg != nil:
		pipeline.Estimator = file.LogReg
		validate = file.LogReg.validate
	case file.Tree != nil:
		pipeline.Estimator = file.Tree
		validate = file.Tree.validate
	default:
		return nil, ArtifactMetadata{}, fmt.Errorf("%w: missing estimator", ErrMalformedArtifact)
	}
	if err := validate(); err != nil {
		return nil, ArtifactMetadata{}, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	return pipeline, file.Metadata, nil
}

// writeFileAtomic writes to a temp file in the target directory, syncs it
// and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve artifact path: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	f, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := f.Name()
	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}
