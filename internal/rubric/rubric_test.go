package rubric

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audithq/ganaudit/internal/review"
)

func TestDefaultWeightsSumToOne(t *testing.T) {
	dims := Default()
	require.Len(t, dims, 5)

	var sum float64
	for _, d := range dims {
		sum += d.Weight
	}
	assert.InDelta(t, 1.0, sum, 0.001)
	assert.NoError(t, Check(dims))
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	dims, err := Load("")
	require.NoError(t, err)
	assert.Len(t, dims, len(Default()))
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rubric.yaml")
	content := `dimensions:
  - name: correctness
    weight: 0.7
    description: does it work
  - name: style
    weight: 0.3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	dims, err := Load(path)
	require.NoError(t, err)
	require.Len(t, dims, 2)
	assert.Equal(t, "correctness", dims[0].Name)
	assert.Equal(t, 0.7, dims[0].Weight)
	assert.Equal(t, "does it work", dims[0].Description)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("dimensions: [unclosed"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		dims    []review.RubricDimension
		wantErr bool
	}{
		{"empty", nil, true},
		{"unnamed", []review.RubricDimension{{Weight: 1}}, true},
		{"duplicate", []review.RubricDimension{{Name: "a", Weight: 0.5}, {Name: "a", Weight: 0.5}}, true},
		{"negative weight", []review.RubricDimension{{Name: "a", Weight: -0.1}}, true},
		{"valid", []review.RubricDimension{{Name: "a", Weight: 1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.dims)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
