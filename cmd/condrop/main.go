package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/kevinykuo/condrop/internal/dataset"
	"github.com/kevinykuo/condrop/pkg/autodiff"
	"github.com/kevinykuo/condrop/pkg/model"
	"github.com/kevinykuo/condrop/pkg/uncertainty"
)

// Main entry point for the concrete-dropout uncertainty demo.
func main() {
	mode := "default"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "default":
		if err := runDemo(200, 200, ""); err != nil {
			log.Fatalf("demo failed: %v", err)
		}
	case "train":
		if err := runDemo(500, 1000, "condrop_checkpoint.json"); err != nil {
			log.Fatalf("training failed: %v", err)
		}
	case "help":
		printHelp()
	default:
		fmt.Printf("Unknown mode: %s\n", mode)
		printHelp()
	}
}

func runDemo(points, epochs int, checkpointPath string) error {
	fmt.Println("Concrete Dropout Uncertainty Estimation")
	fmt.Println("=======================================")

	xData, yData, err := dataset.Heteroscedastic(points, 7)
	if err != nil {
		return fmt.Errorf("generating data: %w", err)
	}

	x, err := autodiff.NewTensor(xData, &autodiff.TensorConfig{Name: "x"})
	if err != nil {
		return err
	}
	y, err := autodiff.NewTensor(yData, &autodiff.TensorConfig{Name: "y"})
	if err != nil {
		return err
	}

	cfg := model.NewConfig()
	m, err := model.New(cfg, rand.New(rand.NewSource(42)))
	if err != nil {
		return fmt.Errorf("building model: %w", err)
	}

	trainCfg := model.NewTrainConfig()
	trainCfg.Epochs = epochs
	trainer, err := model.NewTrainer(m, trainCfg)
	if err != nil {
		return err
	}
	if err := trainer.Fit(x, y); err != nil {
		return fmt.Errorf("training: %w", err)
	}

	// Probe the learned uncertainty on a small grid.
	grid := []float64{-4, -2, 0, 2, 4}
	probe, err := autodiff.NewMatrixFrom(len(grid), 1, grid)
	if err != nil {
		return err
	}

	estimator, err := uncertainty.NewEstimator(m, uncertainty.NewConfig())
	if err != nil {
		return err
	}
	report, err := estimator.Estimate(probe)
	if err != nil {
		return fmt.Errorf("estimating uncertainty: %w", err)
	}

	fmt.Println("\n     x    true mean   predicted    epi std   alea std       band")
	for i, xi := range grid {
		fmt.Printf("%6.2f   %10.4f  %10.4f %10.4f %10.4f %10.4f\n",
			xi, dataset.Mean(xi), report.PredictiveMean[i],
			report.EpistemicStd(i), report.AleatoricStd(i), report.TotalBand(i))
	}
	for _, w := range report.Warnings {
		fmt.Println("warning:", w)
	}

	if checkpointPath != "" {
		if err := model.SaveCheckpoint(m, checkpointPath); err != nil {
			return fmt.Errorf("saving checkpoint: %w", err)
		}
		fmt.Printf("\nCheckpoint saved to %s\n", checkpointPath)
	}

	return nil
}

func printHelp() {
	fmt.Println("Usage: condrop [mode]")
	fmt.Println()
	fmt.Println("Modes:")
	fmt.Println("  default  Quick demo: train on 200 synthetic points, print uncertainty bands")
	fmt.Println("  train    Longer run on 500 points; saves condrop_checkpoint.json")
	fmt.Println("  help     Show this message")
}
