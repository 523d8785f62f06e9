package dscale

import (
	"encoding/gob"
	"fmt"
	"os"
)

// SaveGob persists the built cube so training reruns skip the join.
func (c *Cube) SaveGob(fp string) error {
	f, err := os.Create(fp)
	if err != nil {
		return fmt.Errorf(" cube.saveGob %v", err)
	}
	if err := gob.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf(" cube.saveGob %v", err)
	}
	f.Close()
	return nil
}

// LoadGobCube reads a persisted cube.
func LoadGobCube(fp string) (*Cube, error) {
	var c Cube
	f, err := os.Open(fp)
	if err != nil {
		return nil, err
	}
	err = gob.NewDecoder(f).Decode(&c)
	f.Close()
	if err != nil {
		return nil, err
	}
	return &c, nil
}
