// Package rubric provides the default audit rubric and a YAML loader for
// project-specific rubrics.
package rubric

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/review"
)

// file is the on-disk rubric shape.
type file struct {
	Dimensions []review.RubricDimension `yaml:"dimensions"`
}

// Default returns the built-in five-dimension rubric. Weights sum to 1.
func Default() []review.RubricDimension {
	return []review.RubricDimension{
		{Name: "accuracy", Weight: 0.35, Description: "Correctness of the code against the stated task"},
		{Name: "completeness", Weight: 0.25, Description: "Coverage of the task's requirements and edge cases"},
		{Name: "clarity", Weight: 0.15, Description: "Readability and structure"},
		{Name: "actionability", Weight: 0.15, Description: "How directly the feedback can be acted on"},
		{Name: "human_likeness", Weight: 0.10, Description: "Whether the code reads like an experienced human wrote it"},
	}
}

// Load reads a rubric from a YAML file. An empty path returns the default
// rubric.
func Load(path string) ([]review.RubricDimension, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewValidationError("rubric file could not be read").
			WithField("rubric_file").
			WithValue(path).
			WithCause(err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewValidationError("rubric file is not valid YAML").
			WithField("rubric_file").
			WithValue(path).
			WithCause(err)
	}

	if err := Check(f.Dimensions); err != nil {
		return nil, err
	}
	return f.Dimensions, nil
}

// Check validates a rubric: at least one dimension, unique non-empty names,
// non-negative weights.
func Check(dims []review.RubricDimension) error {
	if len(dims) == 0 {
		return errors.NewValidationError("rubric must contain at least one dimension").
			WithField("dimensions")
	}
	seen := make(map[string]bool, len(dims))
	for i, d := range dims {
		if d.Name == "" {
			return errors.NewValidationError(fmt.Sprintf("dimension %d has no name", i)).
				WithField("dimensions")
		}
		if seen[d.Name] {
			return errors.NewValidationError(fmt.Sprintf("duplicate dimension name %q", d.Name)).
				WithField("dimensions")
		}
		seen[d.Name] = true
		if d.Weight < 0 {
			return errors.NewValidationError(fmt.Sprintf("dimension %q has negative weight %v", d.Name, d.Weight)).
				WithField("dimensions")
		}
	}
	return nil
}
