package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/maseology/mmio"

	dscale "github.com/Rqbln/dscale"
	"github.com/Rqbln/dscale/field"
	"github.com/Rqbln/dscale/raster"
	"github.com/Rqbln/dscale/station"
)

func main() {
	fmt.Println("")
	tt := mmio.NewTimer()
	defer tt.Lap(fmt.Sprintf("\nRun complete. n processes: %v", runtime.GOMAXPROCS(0)))

	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "build":
		err = cmdBuild(os.Args[2:])
	case "train":
		err = cmdTrain(os.Args[2:])
	case "infer":
		err = cmdInfer(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dscale: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dscale <build|train|infer> [flags]")
	os.Exit(2)
}

func cmdBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	staDir := fs.String("stations", "", "station archive directory (metadata + series)")
	metaFP := fs.String("meta", "", "station metadata file (default <stations>/stations.txt)")
	eraDir := fs.String("era", "", "coarse reanalysis directory, one nc per year")
	longName := fs.String("eravar", "2m_temperature_daily_maximum", "reanalysis file-name variable")
	varName := fs.String("ncvar", "tx", "in-file variable name")
	ndviDir := fs.String("ndvi", "", "ndvi raster directory")
	country := fs.String("country", "", "restrict stations to one country code")
	startS := fs.String("start", "2000-01-01", "period start yyyy-mm-dd")
	endS := fs.String("end", "2020-12-31", "period end yyyy-mm-dd")
	out := fs.String("o", "cube.gob", "output cube path")
	fs.Parse(args)
	if *staDir == "" || *eraDir == "" || *ndviDir == "" {
		return fmt.Errorf("build: -stations, -era and -ndvi are required")
	}
	t0, err := time.Parse("2006-01-02", *startS)
	if err != nil {
		return err
	}
	t1, err := time.Parse("2006-01-02", *endS)
	if err != nil {
		return err
	}
	if *metaFP == "" {
		*metaFP = *staDir + "/stations.txt"
	}
	cfg := dscale.DefaultConfig()

	metas, nskip, err := station.LoadMeta(*metaFP)
	if err != nil {
		return err
	}
	fmt.Printf(" %d stations loaded (%d header/malformed lines skipped)\n", len(metas), nskip)
	if *country != "" {
		metas = station.ByCountry(metas, *country)
		fmt.Printf(" %d stations in %s\n", len(metas), *country)
	}
	obs, cleaned, err := station.LoadAll(*staDir, metas, t0, t1)
	if err != nil {
		return err
	}

	// K -> degC at load
	arc, err := field.OpenArchive(*eraDir, *longName, *varName, 1, -273.15, cfg.CacheSize)
	if err != nil {
		return err
	}
	defer arc.Close()
	ndvi, err := raster.OpenSet(*ndviDir, "ndvi", raster.NDVIEncoding)
	if err != nil {
		return err
	}

	b := dscale.CubeBuilder{Baseline: arc, NDVI: ndvi, Cfg: cfg}
	cube, sum, err := b.BuildCube(metas, obs, cleaned)
	if err != nil {
		return err
	}
	sum.CheckAndPrint()
	return cube.SaveGob(*out)
}

func cmdTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	cubeFP := fs.String("cube", "cube.gob", "built cube path")
	out := fs.String("o", "model.gob", "output model path")
	geo := fs.String("geo", "", "geographic split instead of random: lat or lon")
	csvDir := fs.String("csv", "", "also write prediction/importance csvs here")
	fs.Parse(args)
	cfg := dscale.DefaultConfig()

	cube, err := dscale.LoadGobCube(*cubeFP)
	if err != nil {
		return err
	}
	var sp dscale.Split
	switch *geo {
	case "":
		sp = dscale.SplitByStation(cube, cfg.TestFraction, cfg.Seed)
	case "lat":
		sp = dscale.SplitGeographic(cube, dscale.ByLatitude)
	case "lon":
		sp = dscale.SplitGeographic(cube, dscale.ByLongitude)
	default:
		return fmt.Errorf("train: -geo must be lat or lon")
	}

	m, mets, err := dscale.Train(cube, sp, cfg)
	if err != nil {
		return err
	}
	mets.Print()
	if *csvDir != "" {
		mmio.MakeDir(*csvDir)
		var tst []dscale.TrainingRecord
		for _, r := range cube.Recs {
			if sp.Test[r.StaID] {
				tst = append(tst, r)
			}
		}
		if err := dscale.WritePredictionsCSV(*csvDir+"/predictions.csv", m, tst); err != nil {
			return err
		}
		if err := dscale.WriteImportanceCSV(*csvDir+"/importance.csv", m); err != nil {
			return err
		}
		if err := dscale.WriteStationBiasCSV(*csvDir+"/station_bias.csv", m, tst); err != nil {
			return err
		}
	}
	return m.SaveGob(*out)
}

func cmdInfer(args []string) error {
	fs := flag.NewFlagSet("infer", flag.ExitOnError)
	modelFP := fs.String("model", "model.gob", "trained model path")
	eraDir := fs.String("era", "", "coarse reanalysis directory")
	longName := fs.String("eravar", "2m_temperature_daily_maximum", "reanalysis file-name variable")
	varName := fs.String("ncvar", "tx", "in-file variable name")
	ndviDir := fs.String("ndvi", "", "ndvi raster directory")
	elevFP := fs.String("elev", "", "elevation raster (.bil)")
	region := fs.String("region", "", "named region (SE, DE, FR, NO, FI or from -regions csv)")
	regionsFP := fs.String("regions", "", "extra regions csv")
	dateS := fs.String("date", "", "single date yyyy-mm-dd")
	startS := fs.String("start", "", "range start yyyy-mm-dd")
	endS := fs.String("end", "", "range end yyyy-mm-dd")
	outDir := fs.String("o", "out", "output directory")
	fs.Parse(args)
	if *eraDir == "" || *ndviDir == "" || *elevFP == "" || *region == "" {
		return fmt.Errorf("infer: -era, -ndvi, -elev and -region are required")
	}
	if *regionsFP != "" {
		if err := dscale.LoadRegions(*regionsFP); err != nil {
			return err
		}
	}
	reg, err := dscale.RegionByName(*region)
	if err != nil {
		return err
	}
	cfg := dscale.DefaultConfig()

	m, err := dscale.LoadGobModel(*modelFP)
	if err != nil {
		return err
	}
	arc, err := field.OpenArchive(*eraDir, *longName, *varName, 1, -273.15, cfg.CacheSize)
	if err != nil {
		return err
	}
	defer arc.Close()
	ndvi, err := raster.OpenSet(*ndviDir, "ndvi", raster.NDVIEncoding)
	if err != nil {
		return err
	}
	elev, err := raster.Open(*elevFP, raster.ElevationEncoding)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	eng := dscale.Engine{Model: m, Baseline: arc, NDVI: ndvi, Elev: elev, Cfg: cfg}

	switch {
	case *dateS != "":
		d, err := time.Parse("2006-01-02", *dateS)
		if err != nil {
			return err
		}
		hr, err := eng.Infer(ctx, d, reg.MinLon, reg.MinLat, reg.MaxLon, reg.MaxLat)
		if err != nil {
			return err
		}
		mmio.MakeDir(*outDir)
		return hr.WriteBIL(*outDir)
	case *startS != "" && *endS != "":
		t0, err := time.Parse("2006-01-02", *startS)
		if err != nil {
			return err
		}
		t1, err := time.Parse("2006-01-02", *endS)
		if err != nil {
			return err
		}
		return eng.InferRange(ctx, t0, t1, reg.MinLon, reg.MinLat, reg.MaxLon, reg.MaxLat, *outDir)
	default:
		return fmt.Errorf("infer: give -date or -start/-end")
	}
}
