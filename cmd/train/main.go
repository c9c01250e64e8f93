package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/shanhuhaifeng/confidentseg/checkpoints"
	"github.com/shanhuhaifeng/confidentseg/cleanlab"
	"github.com/shanhuhaifeng/confidentseg/log"
	"github.com/shanhuhaifeng/confidentseg/training"
	"github.com/shanhuhaifeng/confidentseg/vision/dataset"
)

func main() {
	var (
		dataRoot    = flag.String("data", "data/all", "dataset root holding training/ and validation/ subsets")
		savingDir   = flag.String("saving-dir", "runs/default", "directory for checkpoints and logs")
		networkName = flag.String("network", "vnet2d", "network name: vnet2d | pick_and_learn")
		optimName   = flag.String("optimizer", "sgd", "optimizer name: sgd | adam")
		lossName    = flag.String("loss", "CrossEntropyLoss", "loss name: CrossEntropyLoss | SLSRLoss | WeightedCrossEntropyLoss")
		className   = flag.String("class", "lung", "segmentation class name")
		confMapDir  = flag.String("conf-maps", "", "confidence map subdirectory to train against, empty to disable")
		epochs      = flag.Int("epochs", 120, "number of train/eval epoch pairs")
		batchSize   = flag.Int("batch-size", 4, "batch size")
		numClasses  = flag.Int("num-classes", 2, "number of segmentation classes")
		lr          = flag.Float64("lr", 0.01, "base learning rate")
		lrStep      = flag.Int("lr-step", 30, "epochs between learning rate reductions")
		lrGamma     = flag.Float64("lr-gamma", 0.1, "learning rate decay factor")
		slsrEps     = flag.Float64("slsr-epsilon", 0.2, "label softening epsilon for SLSRLoss")
		saveEpochs  = flag.Int("save-epochs", 10, "periodic checkpoint interval, 0 disables")
		plotServer  = flag.String("plot-server", "", "plot sink base URL, empty to disable")
		seed        = flag.Int64("seed", 1, "random seed")
		logLevel    = flag.String("log-level", log.LevelInfo, "log level: debug | info | warn | error")
	)
	flag.Parse()

	log.SetLevel(*logLevel)
	logger, closeLog, err := log.NewRunLogger(*savingDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open run logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	training.SetRandomSeed(*seed)

	network, err := training.NewNetwork(*networkName, *numClasses)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	optimizer, err := buildOptimizer(*optimName, network, *lr)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	criterion, err := buildCriterion(*lossName, *slsrEps)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	trainSet, err := dataset.NewSegmentationDataset(dataset.Config{
		Root:       *dataRoot,
		Subset:     dataset.SubsetTraining,
		Class:      *className,
		ConfMapDir: *confMapDir,
	})
	if err != nil {
		logger.Errorf("failed to open training set: %v", err)
		os.Exit(1)
	}
	validSet, err := dataset.NewSegmentationDataset(dataset.Config{
		Root:   *dataRoot,
		Subset: dataset.SubsetValidation,
		Class:  *className,
	})
	if err != nil {
		logger.Errorf("failed to open validation set: %v", err)
		os.Exit(1)
	}
	logger.Infof("dataset %s: %d training samples, %d validation samples",
		*dataRoot, trainSet.Len(), validSet.Len())

	rng := rand.New(rand.NewSource(*seed))
	trainLoader := training.NewDataLoader(trainSet, *batchSize, true, rng)
	validLoader := training.NewDataLoader(validSet, *batchSize, false, nil)

	manager, err := checkpoints.NewManager(checkpoints.Config{Dir: *savingDir, SaveEpochs: *saveEpochs})
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	// Resume from the latest periodic snapshot when the saving dir
	// already holds one.
	if latest, err := checkpoints.LatestEpoch(*savingDir); err == nil {
		path := filepath.Join(*savingDir, checkpoints.EpochCheckpointFile(latest))
		checkpoint, err := checkpoints.Load(path)
		if err != nil {
			logger.Errorf("failed to resume from %s: %v", path, err)
			os.Exit(1)
		}
		if err := training.RestoreWeights(network, checkpoint.Weights); err != nil {
			logger.Errorf("failed to restore weights from %s: %v", path, err)
			os.Exit(1)
		}
		optimizer.SetLearningRate(checkpoint.State.LearningRate)
		logger.Infof("resumed from epoch %d checkpoint, learning rate %.6f",
			latest, checkpoint.State.LearningRate)
	}

	trainer, err := training.NewTrainer(network, criterion, optimizer,
		training.NewSegmentationMetrics(*numClasses), training.TrainerConfig{
			NumEpochs:  *epochs,
			BaseLR:     *lr,
			LRStepSize: *lrStep,
			LRGamma:    *lrGamma,
		})
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	trainer.SetLogger(logger)
	if *plotServer != "" {
		config := training.DefaultPlotSinkConfig()
		config.BaseURL = *plotServer
		trainer.SetPlotSink(training.NewHTTPPlotSink(config))
	}

	if err := trainer.Fit(trainLoader, validLoader, manager); err != nil {
		logger.Errorf("training failed: %v", err)
		os.Exit(1)
	}
}

func buildOptimizer(name string, network training.Network, lr float64) (training.Optimizer, error) {
	params := training.NetworkParameters(network)
	grads := training.NetworkGradients(network)
	switch name {
	case "sgd":
		return training.NewSGD(params, grads, lr)
	case "adam":
		config := training.DefaultAdamConfig()
		config.LearningRate = lr
		return training.NewAdam(params, grads, config)
	default:
		return nil, cleanlab.Configurationf("unknown optimizer %q", name)
	}
}

func buildCriterion(name string, slsrEps float64) (training.Criterion, error) {
	switch name {
	case "CrossEntropyLoss":
		return training.CrossEntropy{}, nil
	case "SLSRLoss":
		return training.SLSR{Epsilon: slsrEps}, nil
	case "WeightedCrossEntropyLoss":
		return training.WeightedCrossEntropy{}, nil
	default:
		return nil, cleanlab.Configurationf("unknown loss %q", name)
	}
}
