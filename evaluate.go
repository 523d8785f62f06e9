package dscale

import (
	"fmt"
	"math"
	"sort"

	"github.com/maseology/mmio"
	"github.com/maseology/objfunc"
)

// Metrics reports held-out skill two ways: on the residual the forest
// predicts, and on the reconstructed value against the observation. The
// baseline-only row is the score of doing nothing; Improvement is the
// fraction of its RMSE the correction removes.
type Metrics struct {
	NTest int

	ResidualRMSE float64
	ResidualMAE  float64
	ResidualR2   float64

	ReconRMSE    float64
	ReconMAE     float64
	BaselineRMSE float64
	BaselineMAE  float64
	Improvement  float64

	Importance map[string]float64
}

// EvaluateHoldout scores a model on records from stations it never saw.
func EvaluateHoldout(m *TrainedModel, tst []TrainingRecord) *Metrics {
	obsRes := make([]float64, len(tst))
	simRes := make([]float64, len(tst))
	obs := make([]float64, len(tst))
	recon := make([]float64, len(tst))
	base := make([]float64, len(tst))
	for i, r := range tst {
		obsRes[i] = r.Target
		simRes[i] = m.Forest.Predict(r.Feat[:])
		obs[i] = r.Obs
		base[i] = r.Feat[fBaseline]
		recon[i] = base[i] + simRes[i]
	}

	mets := &Metrics{
		NTest:        len(tst),
		ResidualRMSE: objfunc.RMSE(obsRes, simRes),
		ResidualMAE:  mae(obsRes, simRes),
		ResidualR2:   objfunc.NSE(obsRes, simRes),
		ReconRMSE:    objfunc.RMSE(obs, recon),
		ReconMAE:     mae(obs, recon),
		BaselineRMSE: objfunc.RMSE(obs, base),
		BaselineMAE:  mae(obs, base),
		Importance:   m.Importances(),
	}
	if mets.BaselineRMSE > 0 {
		mets.Improvement = 1 - mets.ReconRMSE/mets.BaselineRMSE
	}
	return mets
}

func mae(obs, sim []float64) float64 {
	if len(obs) == 0 {
		return math.NaN()
	}
	s := 0.
	for i := range obs {
		s += math.Abs(obs[i] - sim[i])
	}
	return s / float64(len(obs))
}

// Print writes the evaluation block.
func (m *Metrics) Print() {
	fmt.Printf("Held-out evaluation (%d records):\n", m.NTest)
	fmt.Printf(" residual  rmse %.3f  mae %.3f  r2 %.3f\n", m.ResidualRMSE, m.ResidualMAE, m.ResidualR2)
	fmt.Printf(" value     rmse %.3f  mae %.3f  (baseline-only rmse %.3f mae %.3f, improvement %.1f%%)\n",
		m.ReconRMSE, m.ReconMAE, m.BaselineRMSE, m.BaselineMAE, m.Improvement*100)
	fmt.Println(" feature importance:")
	for _, n := range FeatureNames {
		fmt.Printf("  %-10s %.3f\n", n, m.Importance[n])
	}
}

// WritePredictionsCSV dumps per-record held-out predictions for offline
// plotting.
func WritePredictionsCSV(fp string, m *TrainedModel, tst []TrainingRecord) error {
	n := len(tst)
	dates := make([]interface{}, n)
	ids := make([]interface{}, n)
	obs := make([]interface{}, n)
	base := make([]interface{}, n)
	pred := make([]interface{}, n)
	for i, r := range tst {
		dates[i] = r.Date.Format("2006-01-02")
		ids[i] = r.StaID
		obs[i] = r.Obs
		base[i] = r.Feat[fBaseline]
		pred[i] = r.Feat[fBaseline] + m.Forest.Predict(r.Feat[:])
	}
	mmio.WriteCSV(fp, "date,staid,obs,baseline,predicted", dates, ids, obs, base, pred)
	return nil
}

// WriteStationBiasCSV aggregates held-out error per station: how far the
// corrected value sits from the observation at each location, which maps
// directly onto where the model is trustworthy.
func WriteStationBiasCSV(fp string, m *TrainedModel, tst []TrainingRecord) error {
	byID := map[int][][2]float64{} // (obs, recon) pairs
	for _, r := range tst {
		recon := r.Feat[fBaseline] + m.Forest.Predict(r.Feat[:])
		byID[r.StaID] = append(byID[r.StaID], [2]float64{r.Obs, recon})
	}
	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	n := len(ids)
	cid := make([]interface{}, n)
	cn := make([]interface{}, n)
	cbias := make([]interface{}, n)
	crmse := make([]interface{}, n)
	for i, id := range ids {
		ps := byID[id]
		obs, recon := make([]float64, len(ps)), make([]float64, len(ps))
		for j, p := range ps {
			obs[j], recon[j] = p[0], p[1]
		}
		cid[i] = id
		cn[i] = len(ps)
		cbias[i] = objfunc.Bias(obs, recon)
		crmse[i] = objfunc.RMSE(obs, recon)
	}
	mmio.WriteCSV(fp, "staid,n,bias,rmse", cid, cn, cbias, crmse)
	return nil
}

// WriteImportanceCSV dumps the normalized feature importances.
func WriteImportanceCSV(fp string, m *TrainedModel) error {
	names := make([]interface{}, len(m.FeatureNames))
	vals := make([]interface{}, len(m.FeatureNames))
	for i, n := range m.FeatureNames {
		names[i] = n
		vals[i] = m.Forest.Importance[i]
	}
	mmio.WriteCSV(fp, "feature,importance", names, vals)
	return nil
}
