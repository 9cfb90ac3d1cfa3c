package cluster

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	ScalerFile = "scaler.msgpack"
	KMeansFile = "kmeans.msgpack"
)

// ErrArtifactMissing is returned by Load when the model directory has no
// artifact.
var ErrArtifactMissing = errors.New("cluster: model artifact not found")

type kmeansArtifact struct {
	KMeans *KMeans        `msgpack:"kmeans"`
	Labels map[int]string `msgpack:"labels"`
}

// Save writes the scaler and k-means artifacts into dir.
func Save(dir string, m *Model) error {
	if err := m.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	scaler, err := msgpack.Marshal(m.Scaler)
	if err != nil {
		return fmt.Errorf("encode scaler: %w", err)
	}
	km, err := msgpack.Marshal(&kmeansArtifact{KMeans: m.KMeans, Labels: m.Labels})
	if err != nil {
		return fmt.Errorf("encode kmeans: %w", err)
	}

	if err := writeFile(filepath.Join(dir, ScalerFile), scaler); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, KMeansFile), km)
}

// Load reads the artifact pair from dir.
func Load(dir string) (*Model, error) {
	var scaler Scaler
	if err := readFile(filepath.Join(dir, ScalerFile), &scaler); err != nil {
		return nil, err
	}
	var km kmeansArtifact
	if err := readFile(filepath.Join(dir, KMeansFile), &km); err != nil {
		return nil, err
	}

	m := &Model{Scaler: &scaler, KMeans: km.KMeans, Labels: km.Labels}
	if m.Labels == nil {
		m.Labels = map[int]string{}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// writeFile replaces path through a temp file so readers never see a partial
// artifact.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
