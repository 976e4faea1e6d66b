package atomgraph

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
)

// Save the batch to filePath in Go's gob encoding. The file can be reloaded
// with Load.
func (b *Batch) Save(filePath string) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		err = errors.Wrapf(err, "creating %q to save the batch", filePath)
		return
	}
	enc := gob.NewEncoder(f)
	err = enc.Encode(b)
	if err != nil {
		err = errors.WithMessagef(err, "encoding batch to save to %q", filePath)
		return
	}
	err = f.Close()
	if err != nil {
		err = errors.Wrapf(err, "close file %q, where batch was saved", filePath)
		return
	}
	return
}

// Load a batch previously saved with Save.
// If filePath doesn't exist, it returns an error that can be checked with
// [os.IsNotExist].
func Load(filePath string) (b *Batch, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		err = errors.Wrapf(err, "trying to load batch from %q", filePath)
		return
	}
	dec := gob.NewDecoder(f)
	b = &Batch{}
	err = dec.Decode(b)
	if err != nil {
		b = nil
		err = errors.Wrapf(err, "trying to decode batch from %q", filePath)
		return
	}
	_ = f.Close()
	return
}
