// Package model loads the optional pre-trained scoring artifact: an isolation forest over the
// signal feature vector that labels a setup as ordinary (0) or unusual (1).
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"benji/internal/domain"

	goiforest "github.com/narumiruna/go-iforest/pkg/iforest"
)

const defaultThreshold = 0.6

// FeatureNames is the vector order the artifact must be trained on.
var FeatureNames = []string{"volatility", "momentum", "volumeSurge", "sentimentMock", "ivRankMock"}

type Artifact struct {
	FeatureNames []string              `json:"feature_names"`
	Means        []float64             `json:"means"`
	Stds         []float64             `json:"stds"`
	Threshold    float64               `json:"threshold"`
	Options      goiforest.Options     `json:"options"`
	Trees        []*goiforest.TreeNode `json:"trees"`
}

type Model struct {
	artifact Artifact
	forest   *goiforest.IsolationForest
}

// Load reads an artifact from disk. An empty path is ErrConfigurationMissing so callers can
// run without a model.
func Load(path string) (*Model, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("model path: %w", domain.ErrConfigurationMissing)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return Unmarshal(blob)
}

func Unmarshal(blob []byte) (*Model, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a Artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if len(a.Means) != len(FeatureNames) || len(a.Stds) != len(a.Means) || len(a.Trees) == 0 {
		return nil, errors.New("invalid artifact")
	}
	if a.Threshold <= 0 || a.Threshold >= 1 {
		a.Threshold = defaultThreshold
	}
	forest := goiforest.NewWithOptions(a.Options)
	forest.Trees = a.Trees
	return &Model{artifact: a, forest: forest}, nil
}

func (m *Model) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	return json.Marshal(m.artifact)
}

// Score is the anomaly score in [0,1].
func (m *Model) Score(features []float64) (float64, error) {
	if m == nil || m.forest == nil {
		return 0, errors.New("model not loaded")
	}
	if len(features) != len(m.artifact.Means) {
		return 0, fmt.Errorf("expected %d features, got %d", len(m.artifact.Means), len(features))
	}
	normalized := make([]float64, len(features))
	for i := range features {
		std := m.artifact.Stds[i]
		if std == 0 {
			std = 1
		}
		normalized[i] = (features[i] - m.artifact.Means[i]) / std
	}
	scores := m.forest.Score([][]float64{normalized})
	if len(scores) == 0 {
		return 0, errors.New("empty score")
	}
	score := scores[0]
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, errors.New("non-finite score")
	}
	return math.Max(0, math.Min(1, score)), nil
}

// Classify returns 1 when the anomaly score reaches the artifact threshold, else 0.
func (m *Model) Classify(features []float64) (int, error) {
	score, err := m.Score(features)
	if err != nil {
		return 0, err
	}
	if score >= m.artifact.Threshold {
		return 1, nil
	}
	return 0, nil
}
