package dscale

import (
	"encoding/gob"
	"fmt"
	"os"
	"time"

	"github.com/Rqbln/dscale/rf"
)

// TrainedModel is the published artifact: the forest plus everything the
// inference engine and offline evaluators need to reproduce the feature
// assembly. Immutable once built; retraining produces a new value, so
// in-flight readers of the old one stay valid.
type TrainedModel struct {
	Forest       *rf.Forest
	FeatureNames []string
	StationIDs   []int // training partition, for provenance
	Start, End   time.Time
	Variable     string
	TrainedAt    time.Time
}

// Importances pairs the persisted feature order with the forest's
// normalized importance shares.
func (m *TrainedModel) Importances() map[string]float64 {
	o := make(map[string]float64, len(m.FeatureNames))
	for i, n := range m.FeatureNames {
		o[n] = m.Forest.Importance[i]
	}
	return o
}

// SaveGob writes the model artifact.
func (m *TrainedModel) SaveGob(fp string) error {
	f, err := os.Create(fp)
	if err != nil {
		return fmt.Errorf(" model.saveGob %v", err)
	}
	if err := gob.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		return fmt.Errorf(" model.saveGob %v", err)
	}
	f.Close()
	return nil
}

// LoadGobModel reads a model artifact and checks it against the feature
// order compiled into this binary.
func LoadGobModel(fp string) (*TrainedModel, error) {
	var m TrainedModel
	f, err := os.Open(fp)
	if err != nil {
		return nil, err
	}
	err = gob.NewDecoder(f).Decode(&m)
	f.Close()
	if err != nil {
		return nil, err
	}
	if len(m.FeatureNames) != NFeatures {
		return nil, fmt.Errorf("dscale.LoadGobModel: %s carries %d features, this build wants %d", fp, len(m.FeatureNames), NFeatures)
	}
	for i, n := range m.FeatureNames {
		if n != FeatureNames[i] {
			return nil, fmt.Errorf("dscale.LoadGobModel: feature order mismatch at %d: %s != %s", i, n, FeatureNames[i])
		}
	}
	return &m, nil
}
