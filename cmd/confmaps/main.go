package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/shanhuhaifeng/confidentseg/checkpoints"
	"github.com/shanhuhaifeng/confidentseg/cleanlab"
	"github.com/shanhuhaifeng/confidentseg/log"
	"github.com/shanhuhaifeng/confidentseg/tensor"
	"github.com/shanhuhaifeng/confidentseg/training"
	"github.com/shanhuhaifeng/confidentseg/vision/confmap"
	"github.com/shanhuhaifeng/confidentseg/vision/dataset"
)

func main() {
	var (
		dataRoot    = flag.String("data", "data", "dataset root holding sub-1/, sub-2/ and all/ splits")
		modelDir    = flag.String("model-dir", "", "checkpoint dir of the model trained on sub-1 (the sub-2 dir is derived)")
		networkName = flag.String("network", "vnet2d", "network name: vnet2d | pick_and_learn")
		className   = flag.String("class", "lung", "segmentation class name")
		methodsCSV  = flag.String("methods", strings.Join(cleanlab.Methods(), ","), "comma-separated pruning methods")
		subset      = flag.String("subset", dataset.SubsetTraining, "dataset subset: training | validation")
		batchSize   = flag.Int("batch-size", 4, "batch size")
		numClasses  = flag.Int("num-classes", 2, "number of segmentation classes")
		epoch       = flag.Int("epoch", -1, "checkpoint epoch to load, -1 for best on validation set")
		logLevel    = flag.String("log-level", log.LevelInfo, "log level: debug | info | warn | error")
	)
	flag.Parse()

	log.SetLevel(*logLevel)

	if !strings.Contains(*modelDir, "sub-1") {
		log.Errorf("model dir %q must point at the sub-1 run so the sub-2 dir can be derived", *modelDir)
		os.Exit(1)
	}

	methods := strings.Split(*methodsCSV, ",")
	for i := range methods {
		methods[i] = strings.TrimSpace(methods[i])
	}

	// Cross pairing: the model trained on sub-1 scores sub-2's data and
	// vice versa, so no sample is ever scored by the model that saw it.
	pairs := []struct {
		modelDir string
		dataSub  string
	}{
		{*modelDir, "sub-2"},
		{strings.ReplaceAll(*modelDir, "sub-1", "sub-2"), "sub-1"},
	}

	outRoot := filepath.Join(*dataRoot, "all", *subset)
	for _, pair := range pairs {
		if err := detectNoise(pair.modelDir, filepath.Join(*dataRoot, pair.dataSub),
			outRoot, *networkName, *className, *subset, methods, *batchSize, *numClasses, *epoch); err != nil {
			log.Errorf("noise detection with model %s over %s failed: %v", pair.modelDir, pair.dataSub, err)
			os.Exit(1)
		}
	}
}

// detectNoise scores one data split with one trained model and writes a
// confidence map directory per requested method under outRoot.
func detectNoise(modelDir, dataRoot, outRoot, networkName, className, subset string, methods []string, batchSize, numClasses, epoch int) error {
	network, err := training.NewNetwork(networkName, numClasses)
	if err != nil {
		return err
	}
	path, err := checkpoints.Select(modelDir, epoch)
	if err != nil {
		return err
	}
	checkpoint, err := checkpoints.Load(path)
	if err != nil {
		return err
	}
	if err := training.RestoreWeights(network, checkpoint.Weights); err != nil {
		return err
	}
	log.Infof("loaded checkpoint %s (epoch %d, best dice %.4f)",
		path, checkpoint.State.Epoch, checkpoint.State.BestDice)

	ds, err := dataset.NewSegmentationDataset(dataset.Config{
		Root:   dataRoot,
		Subset: subset,
		Class:  className,
	})
	if err != nil {
		return err
	}

	labels, probsQ, probsC, height, width, err := accumulateProbabilities(network, ds, batchSize, numClasses)
	if err != nil {
		return err
	}
	log.Infof("accumulated %d pixel predictions over %d samples", len(labels), ds.Len())

	filenames := ds.Filenames()
	for _, method := range methods {
		mask, err := cleanlab.Prune(labels, probsQ, probsC, method)
		if err != nil {
			return err
		}
		maps, err := confmap.Assemble(mask, height, width, filenames)
		if err != nil {
			return err
		}

		dir := filepath.Join(outRoot, confMapDirName(className, method))
		if err := confmap.WriteMaps(maps, dir); err != nil {
			return err
		}

		flagged := 0
		for _, noisy := range mask {
			if noisy {
				flagged++
			}
		}
		log.Infof("method %s: flagged %d of %d pixels, maps written to %s",
			method, flagged, len(mask), dir)
	}
	return nil
}

// accumulateProbabilities runs one strictly ordered pass over the dataset,
// collecting the flattened labels plus a softmax and a raw score row per
// pixel.
func accumulateProbabilities(network training.Network, ds *dataset.SegmentationDataset, batchSize, numClasses int) (labels []int32, probsQ, probsC *mat.Dense, height, width int, err error) {
	loader := training.NewDataLoader(ds, batchSize, false, nil)

	var qData, cData []float64
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return nil, nil, nil, 0, 0, err
		}

		h, w := batch.Images.Dim(2), batch.Images.Dim(3)
		if height == 0 {
			height, width = h, w
		} else if h != height || w != width {
			return nil, nil, nil, 0, 0, cleanlab.DataShapef("sample size %dx%d differs from first sample %dx%d",
				w, h, width, height)
		}

		preds, err := training.Predict(network, batch.Images, batch.Labels)
		if err != nil {
			return nil, nil, nil, 0, 0, err
		}
		softmax, err := training.SoftmaxChannels(preds)
		if err != nil {
			return nil, nil, nil, 0, 0, err
		}

		qData, err = appendPixelRows(qData, softmax)
		if err != nil {
			return nil, nil, nil, 0, 0, err
		}
		cData, err = appendPixelRows(cData, preds)
		if err != nil {
			return nil, nil, nil, 0, 0, err
		}

		labelData, err := batch.Labels.Int32Data()
		if err != nil {
			return nil, nil, nil, 0, 0, err
		}
		labels = append(labels, labelData...)
	}

	if len(labels) == 0 {
		return nil, nil, nil, 0, 0, cleanlab.DataShapef("dataset produced no pixels")
	}
	rows := len(labels)
	if len(qData) != rows*numClasses {
		return nil, nil, nil, 0, 0, cleanlab.DataShapef("accumulated %d probabilities for %d pixels of %d classes",
			len(qData), rows, numClasses)
	}
	return labels, mat.NewDense(rows, numClasses, qData), mat.NewDense(rows, numClasses, cData), height, width, nil
}

// appendPixelRows flattens a (B, K, H, W) tensor into per-pixel rows of K
// values, preserving pixel order.
func appendPixelRows(dst []float64, scores *tensor.Tensor) ([]float64, error) {
	data, err := scores.Float32Data()
	if err != nil {
		return nil, err
	}
	batch, classes := scores.Dim(0), scores.Dim(1)
	plane := scores.Dim(2) * scores.Dim(3)

	for n := 0; n < batch; n++ {
		for p := 0; p < plane; p++ {
			for k := 0; k < classes; k++ {
				dst = append(dst, float64(data[(n*classes+k)*plane+p]))
			}
		}
	}
	return dst, nil
}

// confMapDirName builds the output directory name for one pruning method,
// e.g. lung-confident-maps-prune-by-class.
func confMapDirName(class, method string) string {
	return fmt.Sprintf("%s-confident-maps-%s", class, strings.ReplaceAll(method, "_", "-"))
}
