package dscale_test

import (
	"math/rand"
	"testing"

	mrg63k3a "github.com/maseology/goRNG/MRG63k3a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dscale "github.com/Rqbln/dscale"
)

// synthCube builds ndays records per station; the residual target is a
// pure function of the ndvi feature so a forest can recover it.
func synthCube(nsta, ndays int, seed int64) *dscale.Cube {
	rng := rand.New(mrg63k3a.New())
	rng.Seed(seed)
	c := &dscale.Cube{}
	for s := 1; s <= nsta; s++ {
		lat := float64(s) // one station per degree
		lon := 10 + rng.Float64()
		elev := 50 + 400*rng.Float64()
		for d := 0; d < ndays; d++ {
			ndvi := rng.Float64()*2 - 1
			baseline := 15 + 2*rng.Float64()
			target := 2 * ndvi
			c.Recs = append(c.Recs, dscale.TrainingRecord{
				Date:   day(2018, 7, 1).AddDate(0, 0, d),
				StaID:  s,
				Feat:   [dscale.NFeatures]float64{baseline, ndvi, elev, lat, lon, float64(182 + d)},
				Obs:    baseline + target,
				Target: target,
			})
		}
	}
	return c
}

func TestSplitByStation(t *testing.T) {
	c := synthCube(10, 5, 1)

	sp := dscale.SplitByStation(c, 0.2, 42)
	assert.Len(t, sp.Test, 2)
	assert.Len(t, sp.Train, 8)

	// every station lands on exactly one side
	for _, id := range c.Stations() {
		assert.NotEqual(t, sp.Train[id], sp.Test[id], "station %d", id)
	}

	// same seed, same partition
	sp2 := dscale.SplitByStation(c, 0.2, 42)
	assert.Equal(t, sp.Test, sp2.Test)
	assert.Equal(t, sp.Train, sp2.Train)
}

func TestSplitGeographic(t *testing.T) {
	c := synthCube(10, 3, 1)

	sp := dscale.SplitGeographic(c, dscale.ByLatitude)
	require.NotEmpty(t, sp.Train)
	require.NotEmpty(t, sp.Test)

	// stations at latitudes 1..10: every training latitude sits south of
	// every test latitude
	maxTrain, minTest := 0, 11
	for id := range sp.Train {
		if id > maxTrain {
			maxTrain = id
		}
	}
	for id := range sp.Test {
		if id < minTest {
			minTest = id
		}
	}
	assert.Less(t, maxTrain, minTest)
}

func TestTrainRefusesFewStations(t *testing.T) {
	c := synthCube(5, 10, 1)
	cfg := testConfig()
	sp := dscale.SplitByStation(c, 0.2, cfg.Seed)

	_, _, err := dscale.Train(c, sp, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "distinct stations")
}

func TestTrainRefusesDegenerateSplit(t *testing.T) {
	c := synthCube(12, 5, 1)
	sp := dscale.SplitByStation(c, 0, 42) // nothing held out
	_, _, err := dscale.Train(c, sp, testConfig())
	assert.Error(t, err)
}

func TestTrainEndToEnd(t *testing.T) {
	c := synthCube(12, 40, 1)
	cfg := testConfig()
	sp := dscale.SplitByStation(c, 0.2, cfg.Seed)

	m, mets, err := dscale.Train(c, sp, cfg)
	require.NoError(t, err)

	// the residual is 2*ndvi; held-out stations should be close
	assert.Less(t, mets.ResidualRMSE, 0.5)
	assert.Greater(t, mets.ResidualR2, 0.7)
	// correcting the baseline must beat leaving it alone
	assert.Less(t, mets.ReconRMSE, mets.BaselineRMSE)
	assert.Greater(t, mets.Improvement, 0.)

	// ndvi carries the signal
	imp := m.Importances()
	for _, n := range dscale.FeatureNames {
		assert.Contains(t, imp, n)
	}
	assert.Greater(t, imp["ndvi"], 0.5)

	assert.Len(t, m.StationIDs, len(sp.Train))
	assert.Equal(t, day(2018, 7, 1), m.Start)
}

func TestModelGobRoundTrip(t *testing.T) {
	c := synthCube(12, 10, 1)
	cfg := testConfig()
	sp := dscale.SplitByStation(c, 0.2, cfg.Seed)
	m, _, err := dscale.Train(c, sp, cfg)
	require.NoError(t, err)

	fp := t.TempDir() + "/model.gob"
	require.NoError(t, m.SaveGob(fp))
	m2, err := dscale.LoadGobModel(fp)
	require.NoError(t, err)

	x := []float64{16, 0.4, 200, 5, 10.5, 190}
	assert.Equal(t, m.Forest.Predict(x), m2.Forest.Predict(x))
	assert.Equal(t, m.StationIDs, m2.StationIDs)
}

func testConfig() dscale.Config {
	cfg := dscale.DefaultConfig()
	cfg.NTrees = 30
	cfg.MaxDepth = 8
	cfg.MinSplit = 4
	cfg.MinLeaf = 2
	return cfg
}
