package features

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "header.yaml")
	h := &Header{
		Features: []string{"Original", "Gaussian_blur_1.0", "Hessian_trace_2.0"},
		Classes:  []string{"background", "vessel"},
	}
	require.NoError(t, h.Save(path))

	loaded, err := LoadHeader(path)
	require.NoError(t, err)
	require.Equal(t, h, loaded)
}

func TestLoadHeaderMissingFile(t *testing.T) {
	_, err := LoadHeader(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
