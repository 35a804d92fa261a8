package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sokoyetu-ai/internal/cfg"
	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/dataset"
	"sokoyetu-ai/internal/features"
	"sokoyetu-ai/internal/ml"
	"sokoyetu-ai/internal/model"
	"sokoyetu-ai/internal/service"
	"sokoyetu-ai/internal/storage"
	"sokoyetu-ai/internal/tracking"
)

func main() {
	var (
		modelName  = flag.String("model", "", "Model to train: "+common.ModelPricePredictor+", "+common.ModelYieldForecaster+", "+common.ModelCropAnalyzer+", "+common.ModelCropTypeClassifier+", "+common.ModelProduceGrader)
		dataPath   = flag.String("data", "", "Training data: a CSV file for regressors, a folder of label directories for classifiers")
		valSplit   = flag.Float64("val-split", 0.2, "Fraction of the data held out for validation")
		epochs     = flag.Int("epochs", 0, "Maximum epochs (0 uses the default)")
		lr         = flag.Float64("lr", 0, "Learning rate (0 uses the default)")
		batch      = flag.Int("batch", 0, "Batch size (0 uses the default)")
		patience   = flag.Int("patience", 0, "Epochs without improvement before stopping (0 uses the default)")
		seed       = flag.Uint64("seed", 42, "Shuffle and initialisation seed")
		stage      = flag.String("stage", common.DefaultStage, "Stage tag written on the training run")
		importHist = flag.Bool("import-history", false, "Also store CSV rows as market history in the local data store")
		rollback   = flag.Bool("rollback", false, "Reactivate the previously published artifact of -model and exit")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	// Setup logging
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	svcCfg := service.DefaultConfig()
	svcCfg.CropImageSize = config.CropImageSize
	svcCfg.GradeImageSize = config.GradeImageSize
	spec, ok := findSpec(service.ModelSpecs(svcCfg), *modelName)
	if !ok {
		log.Fatal().Str("model", *modelName).Msg("Unknown model")
	}

	artifacts, err := ml.NewArtifactManager(config.ModelDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open model directory")
	}
	if *rollback {
		v, err := artifacts.Rollback(spec.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("Rollback failed")
		}
		log.Info().Str("model", spec.Name).Str("version", v.Version).Msg("Rolled back")
		return
	}
	if *dataPath == "" {
		log.Fatal().Msg("-data is required")
	}

	hp := model.DefaultHyperparameters(spec.Kind)
	hp.Seed = *seed
	if *epochs > 0 {
		hp.Epochs = *epochs
	}
	if *lr > 0 {
		hp.LearningRate = *lr
	}
	if *batch > 0 {
		hp.BatchSize = *batch
	}
	if *patience > 0 {
		hp.Patience = *patience
	}

	ctx := context.Background()
	store, err := storage.New(config.DataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open data store")
	}
	defer store.Close()

	start := time.Now()
	backend, report, err := train(ctx, spec, *dataPath, *valSplit, hp, *importHist, store)
	if err != nil {
		log.Fatal().Err(err).Str("model", spec.Name).Msg("Training failed")
	}

	data, err := backend.MarshalArtifact()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to serialise model")
	}

	var runs tracking.Store = store
	if config.TrackingURI != "" {
		runs = tracking.NewRESTStore(config.TrackingURI, config.TrackingTimeout)
	}
	tracker := tracking.New(runs, tracking.Config{Experiment: config.ExperimentName})
	runID, logged := tracker.LogTraining(ctx, tracking.TrainingEntry{
		Model:   backend,
		Params:  params(hp, *valSplit, *dataPath),
		Metrics: report.Metrics(spec.Kind),
		Tags:    map[string]string{common.TagStage: *stage},
	})
	if !logged {
		log.Warn().Str("model", spec.Name).Msg("Training run was not tracked")
	}

	version, err := artifacts.Publish(spec.Name, data, report.Metrics(spec.Kind), runID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to publish artifact")
	}

	printSummary(spec, report, version, time.Since(start))
}

func findSpec(specs []model.Spec, name string) (model.Spec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return model.Spec{}, false
}

func train(ctx context.Context, spec model.Spec, path string, frac float64, hp model.Hyperparameters, importHistory bool, store *storage.Store) (model.Backend, model.TrainingReport, error) {
	switch spec.Kind {
	case model.KindRegressor:
		samples, err := regressorSamples(ctx, spec.Name, path, importHistory, store)
		if err != nil {
			return nil, model.TrainingReport{}, err
		}
		trainSet, valSet, err := dataset.Split(samples, frac, hp.Seed)
		if err != nil {
			return nil, model.TrainingReport{}, err
		}
		r, err := model.NewRegressor(spec)
		if err != nil {
			return nil, model.TrainingReport{}, err
		}
		report, err := r.Train(trainSet, valSet, hp)
		return r, report, err

	case model.KindClassifier:
		size := spec.Height
		prepare := func(img model.Image) (model.Image, error) { return features.PrepareCropImage(img, size) }
		if spec.Name == common.ModelProduceGrader {
			prepare = func(img model.Image) (model.Image, error) { return features.PrepareProduceImage(img, size) }
		}
		images, err := dataset.LoadImageFolder(path, spec.Labels, prepare)
		if err != nil {
			return nil, model.TrainingReport{}, err
		}
		trainSet, valSet, err := dataset.Split(images, frac, hp.Seed)
		if err != nil {
			return nil, model.TrainingReport{}, err
		}
		c, err := model.NewClassifier(spec)
		if err != nil {
			return nil, model.TrainingReport{}, err
		}
		report, err := c.Train(trainSet, valSet, hp)
		return c, report, err
	}
	return nil, model.TrainingReport{}, fmt.Errorf("unsupported model kind %q", spec.Kind)
}

func regressorSamples(ctx context.Context, name, path string, importHistory bool, store *storage.Store) ([]model.Sample, error) {
	switch name {
	case common.ModelPricePredictor:
		rows, err := dataset.LoadPriceCSV(path)
		if err != nil {
			return nil, err
		}
		if importHistory {
			for _, rec := range dataset.PriceRecords(rows) {
				if err := store.StorePrice(ctx, rec); err != nil {
					return nil, fmt.Errorf("import price history: %w", err)
				}
			}
			log.Info().Int("records", len(rows)).Msg("Price history imported")
		}
		return dataset.PriceSamples(rows), nil

	case common.ModelYieldForecaster:
		rows, err := dataset.LoadYieldCSV(path)
		if err != nil {
			return nil, err
		}
		if importHistory {
			for _, rec := range dataset.YieldRecords(rows) {
				if err := store.StoreYield(ctx, rec); err != nil {
					return nil, fmt.Errorf("import yield history: %w", err)
				}
			}
			log.Info().Int("records", len(rows)).Msg("Yield history imported")
		}
		return dataset.YieldSamples(rows), nil
	}
	return nil, fmt.Errorf("no tabular loader for %s", name)
}

func params(hp model.Hyperparameters, frac float64, path string) map[string]string {
	return map[string]string{
		"epochs":        strconv.Itoa(hp.Epochs),
		"batch_size":    strconv.Itoa(hp.BatchSize),
		"learning_rate": strconv.FormatFloat(hp.LearningRate, 'g', -1, 64),
		"l2":            strconv.FormatFloat(hp.L2, 'g', -1, 64),
		"patience":      strconv.Itoa(hp.Patience),
		"seed":          strconv.FormatUint(hp.Seed, 10),
		"val_split":     strconv.FormatFloat(frac, 'g', -1, 64),
		"data":          path,
	}
}

func printSummary(spec model.Spec, report model.TrainingReport, version ml.ArtifactVersion, elapsed time.Duration) {
	score := "Validation R²"
	if spec.Kind == model.KindClassifier {
		score = "Validation accuracy"
	}
	fmt.Println("=== Training Summary ===")
	fmt.Printf("Model:          %s (%s)\n", spec.Name, spec.Kind)
	fmt.Printf("Samples:        %d\n", report.Samples)
	fmt.Printf("Epochs run:     %d (best %d)\n", report.EpochsRun, report.BestEpoch)
	fmt.Printf("%-15s %.4f\n", score+":", report.BestScore)
	fmt.Printf("Validation loss: %.4f\n", report.BestLoss)
	fmt.Printf("Version:        %s\n", version.Version)
	fmt.Printf("Artifact:       %s\n", version.Path)
	fmt.Printf("Elapsed:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Println("========================")
}
