package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/crop-advisory-service/internal/models"
)

// numFeatures is the input width: temperature, humidity, rainfall.
const numFeatures = 3

// ErrInvalidModelFile is returned when a centroid model file fails validation.
var ErrInvalidModelFile = errors.New("invalid model file")

type centroidFile struct {
	Name    string    `yaml:"name"`
	Weights []float64 `yaml:"weights"`
	Classes []struct {
		Label    string    `yaml:"label"`
		Centroid []float64 `yaml:"centroid"`
	} `yaml:"classes"`
}

type centroid struct {
	label  string
	vector [numFeatures]float64
}

// CentroidModel is a nearest-centroid classifier over (temperature, humidity, rainfall).
// Immutable after load and safe for concurrent use.
type CentroidModel struct {
	name      string
	weights   [numFeatures]float64
	centroids []centroid
}

// LoadCentroidFile reads a YAML centroid model from path.
func LoadCentroidFile(path string) (*CentroidModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	m, err := ParseCentroid(data)
	if err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}
	return m, nil
}

// ParseCentroid parses and validates a YAML centroid model.
//
//	name: crop
//	weights: [1, 1, 0.1]     # optional, per-feature
//	classes:
//	  - label: rice
//	    centroid: [26, 82, 220]
func ParseCentroid(data []byte) (*CentroidModel, error) {
	var f centroidFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelFile, err)
	}
	m := &CentroidModel{name: strings.TrimSpace(f.Name)}

	switch len(f.Weights) {
	case 0:
		m.weights = [numFeatures]float64{1, 1, 1}
	case numFeatures:
		sum := 0.0
		for i, w := range f.Weights {
			if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return nil, fmt.Errorf("%w: weight %d must be finite and non-negative", ErrInvalidModelFile, i)
			}
			m.weights[i] = w
			sum += w
		}
		if sum == 0 {
			return nil, fmt.Errorf("%w: weights must not all be zero", ErrInvalidModelFile)
		}
	default:
		return nil, fmt.Errorf("%w: want %d weights, got %d", ErrInvalidModelFile, numFeatures, len(f.Weights))
	}

	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("%w: no classes", ErrInvalidModelFile)
	}
	for i, c := range f.Classes {
		label := strings.TrimSpace(c.Label)
		if label == "" {
			return nil, fmt.Errorf("%w: class %d has no label", ErrInvalidModelFile, i)
		}
		if len(c.Centroid) != numFeatures {
			return nil, fmt.Errorf("%w: class %q wants %d centroid values, got %d", ErrInvalidModelFile, label, numFeatures, len(c.Centroid))
		}
		ct := centroid{label: label}
		for j, v := range c.Centroid {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: class %q has a non-finite centroid", ErrInvalidModelFile, label)
			}
			ct.vector[j] = v
		}
		m.centroids = append(m.centroids, ct)
	}
	return m, nil
}

// Name returns the model name from the file.
func (m *CentroidModel) Name() string {
	return m.name
}

// Labels returns the class labels in file order.
func (m *CentroidModel) Labels() []string {
	out := make([]string, len(m.centroids))
	for i, c := range m.centroids {
		out[i] = c.label
	}
	return out
}

// Predict returns the label of the nearest centroid by weighted squared distance.
// Ties go to the class listed first.
func (m *CentroidModel) Predict(ctx context.Context, f models.Features) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	x := f.Vector()
	var scaled [numFeatures]float64
	for j := 0; j < numFeatures; j++ {
		scaled[j] = math.Sqrt(m.weights[j])
	}

	// Differences are divided by the largest one so squaring cannot overflow on extreme readings.
	scale := 0.0
	for _, c := range m.centroids {
		for j := 0; j < numFeatures; j++ {
			if v := math.Abs(scaled[j] * (x[j] - c.vector[j])); v > scale {
				scale = v
			}
		}
	}
	if scale == 0 {
		return m.centroids[0].label, nil
	}

	best, bestDist := 0, math.Inf(1)
	for i, c := range m.centroids {
		d := 0.0
		for j := 0; j < numFeatures; j++ {
			v := scaled[j] * (x[j] - c.vector[j]) / scale
			d += v * v
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return m.centroids[best].label, nil
}
