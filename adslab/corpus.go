package adslab

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"

	"github.com/ocmodels/ocgraph/atomgraph"
)

// SaveSystems writes a generated corpus to filePath in Go's gob encoding.
// The file can be reloaded with LoadSystems.
func SaveSystems(filePath string, systems []*atomgraph.System) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		err = errors.Wrapf(err, "creating %q to save the corpus", filePath)
		return
	}
	enc := gob.NewEncoder(f)
	err = enc.Encode(systems)
	if err != nil {
		err = errors.WithMessagef(err, "encoding %d systems to save to %q", len(systems), filePath)
		return
	}
	err = f.Close()
	if err != nil {
		err = errors.Wrapf(err, "close file %q, where the corpus was saved", filePath)
		return
	}
	return
}

// LoadSystems reads a corpus previously saved with SaveSystems.
// If filePath doesn't exist, it returns an error that can be checked with
// [os.IsNotExist].
func LoadSystems(filePath string) (systems []*atomgraph.System, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		err = errors.Wrapf(err, "trying to load corpus from %q", filePath)
		return
	}
	dec := gob.NewDecoder(f)
	err = dec.Decode(&systems)
	if err != nil {
		systems = nil
		err = errors.Wrapf(err, "trying to decode corpus from %q", filePath)
		return
	}
	_ = f.Close()
	return
}
