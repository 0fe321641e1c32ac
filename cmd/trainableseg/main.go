package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"trainableseg/pkg/classify"
	"trainableseg/pkg/config"
	"trainableseg/pkg/features"
	"trainableseg/pkg/filter"
	"trainableseg/pkg/imgio"
	"trainableseg/pkg/segmentation"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing 2D image slices")
	annotationsFile := flag.String("annotations", "", "YAML file with labeled training pixels")
	outputDir := flag.String("output", "segmentation_results", "Directory for result images")
	configPath := flag.String("config", "trainableseg.yaml", "Configuration file")
	headerOut := flag.String("model-header", "model_header.yaml", "Path to save the trained model header")
	headerIn := flag.String("apply-header", "", "Existing model header to enforce the feature schema")
	numWorkers := flag.Int("workers", 0, "Number of workers (default: configuration value)")
	probMaps := flag.Bool("prob", false, "Write per-class probability maps instead of a label image")
	flag.Parse()

	if *inputDir == "" || *annotationsFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	// Cancel cleanly on interrupt; in-flight classification stops at the
	// next polling interval
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *numWorkers > 0 {
		cfg.Processing.NumWorkers = *numWorkers
	}

	filters, err := filter.ByNames(cfg.Features.Enabled)
	if err != nil {
		log.Fatalf("Invalid filter configuration: %v", err)
	}

	var classifier classify.Classifier
	switch cfg.Training.Classifier {
	case "centroid":
		classifier = classify.NewNearestCentroid()
	case "knn":
		classifier = classify.NewKNN(cfg.Training.Neighbors)
	default:
		log.Fatalf("Unknown classifier %q (want \"centroid\" or \"knn\")", cfg.Training.Classifier)
	}

	fmt.Println("================================")
	fmt.Println("TRAINABLE PIXEL SEGMENTATION")
	fmt.Println("================================")

	// Step 1: Load input slices
	fmt.Println("Step 1: Loading input slices...")
	stack, err := imgio.LoadStack(*inputDir)
	if err != nil {
		log.Fatalf("Failed to load slices: %v", err)
	}
	fmt.Printf("Loaded %d slices with dimensions %dx%d\n", stack.Depth(), stack.Width(), stack.Height())

	params := &segmentation.Params{
		NumWorkers:        cfg.Processing.NumWorkers,
		SigmaMin:          cfg.Features.SigmaMin,
		SigmaMax:          cfg.Features.SigmaMax,
		Filters:           filters,
		MemoryBudgetBytes: cfg.Processing.MemoryBudgetMB * 1024 * 1024,
		BalanceClasses:    cfg.Training.BalanceClasses,
	}
	seg := segmentation.NewSegmenter(stack, cfg.Training.Classes, classifier, params)

	if *headerIn != "" {
		header, err := features.LoadHeader(*headerIn)
		if err != nil {
			log.Fatalf("Failed to load model header: %v", err)
		}
		seg.SetHeader(header)
		fmt.Printf("Enforcing schema of %s (%d features, %d classes)\n",
			*headerIn, len(header.Features), len(header.Classes))
	}

	// Step 2: Load annotations
	fmt.Println("Step 2: Loading annotations...")
	annotations, err := imgio.LoadAnnotations(*annotationsFile)
	if err != nil {
		log.Fatalf("Failed to load annotations: %v", err)
	}
	for _, a := range annotations {
		if err := seg.AddAnnotation(a); err != nil {
			log.Fatalf("Invalid annotation: %v", err)
		}
	}
	fmt.Printf("Loaded %d annotations\n", len(annotations))

	// Step 3: Train the classifier
	fmt.Println("Step 3: Training classifier...")
	startTime := time.Now()
	if err := seg.Train(ctx); err != nil {
		log.Fatalf("Training failed: %v", err)
	}
	fmt.Printf("Training completed in %.2f seconds\n", time.Since(startTime).Seconds())

	if err := seg.Header().Save(*headerOut); err != nil {
		log.Fatalf("Failed to save model header: %v", err)
	}
	fmt.Printf("Model header saved to: %s\n", *headerOut)

	// Step 4: Classify the image
	wantProbs := *probMaps || cfg.Output.ProbabilityMaps
	fmt.Printf("Step 4: Classifying %d slice(s) in %d worker(s)...\n",
		stack.Depth(), cfg.Processing.NumWorkers)
	startTime = time.Now()
	result, err := seg.ClassifyCurrentImage(ctx, cfg.Processing.NumWorkers, wantProbs)
	if err != nil {
		log.Fatalf("Classification failed: %v", err)
	}
	fmt.Printf("Classification completed in %.2f seconds\n", time.Since(startTime).Seconds())

	// Step 5: Write result images
	fmt.Println("Step 5: Writing results...")
	if wantProbs {
		if err := imgio.SaveProbabilityMaps(*outputDir, result.Probabilities, cfg.Training.Classes); err != nil {
			log.Fatalf("Failed to save probability maps: %v", err)
		}
	} else {
		if err := imgio.SaveLabelImage(*outputDir, result.Labels); err != nil {
			log.Fatalf("Failed to save label image: %v", err)
		}
	}
	fmt.Printf("Results saved to: %s\n", *outputDir)

	if cfg.Output.Verbose {
		fmt.Println("\nConfiguration used:")
		fmt.Printf("- Filters: %v\n", cfg.Features.Enabled)
		fmt.Printf("- Scale range: %.1f to %.1f\n", cfg.Features.SigmaMin, cfg.Features.SigmaMax)
		fmt.Printf("- Classifier: %s\n", cfg.Training.Classifier)
		fmt.Printf("- Classes: %v\n", cfg.Training.Classes)
		fmt.Printf("- Model header: %s\n", filepath.Clean(*headerOut))
	}
}
