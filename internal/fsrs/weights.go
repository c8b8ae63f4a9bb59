package fsrs

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gofsrs "github.com/open-spaced-repetition/go-fsrs/v3"
)

// NumWeights is the parameter count of the FSRS-5 model.
const NumWeights = 19

// DefaultWeights returns the compiled-in FSRS-5 parameters.
func DefaultWeights() []float64 {
	w := gofsrs.DefaultParam().W
	return append([]float64(nil), w[:]...)
}

// LoadWeights reads a weight set from a YAML or JSON file of the form
//
//	weights: [0.40, 1.18, ...]
//
// It always returns a usable weight set. When the file is missing,
// malformed or has the wrong number of entries the defaults are returned
// together with a non-nil error describing why; callers should log it as a
// warning.
func LoadWeights(path string) ([]float64, error) {
	if path == "" {
		return DefaultWeights(), nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return DefaultWeights(), fmt.Errorf("failed to read weights %s: %w", path, err)
	}
	if !k.Exists("weights") {
		return DefaultWeights(), fmt.Errorf("weights file %s has no weights key", path)
	}

	weights := k.Float64s("weights")
	if len(weights) != NumWeights {
		return DefaultWeights(), fmt.Errorf("weights file %s has %d parameters, want %d", path, len(weights), NumWeights)
	}
	for i, w := range weights {
		if !finite(w) {
			return DefaultWeights(), fmt.Errorf("weights file %s: parameter %d is not finite", path, i)
		}
	}
	return weights, nil
}
