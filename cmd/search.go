package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vanyalzr/nncf/tune"
	"github.com/vanyalzr/nncf/tune/checkpoint"
	"github.com/vanyalzr/nncf/tune/synthetic"
	"github.com/vanyalzr/nncf/tune/telemetry"
)

var (
	// Search parameters (ignored when --config is given)
	maxAccuracyDrop       float64 // Tolerable accuracy drop relative to baseline, in percent
	initialEpochs         int     // Training epochs before the search starts
	patienceEpochs        int     // Epochs trained per target rate before re-evaluating
	validateEvery         int     // Periodic validation cadence during the initial phase
	minRateStep           float64 // Step size below which the search terminates
	maxTotalEpochs        int     // Cap on total training epochs
	initialRateStep       float64 // Starting step size for the uniform policy
	stepReduction         float64 // Step shrink factor on oscillation
	minCompressionRate    float64 // Lowest rate worth compressing for
	maxCompressionRate    float64 // Highest permitted rate
	higherIsBetter        bool    // Metric direction
	steppingMode          string  // Step policy: interpolate or uniform_decrease
	fullCompressionFactor float64 // Budget overshoot assumed at full compression
	curveSamples          int     // Samples over [0,1] for the interpolate policy

	// Synthetic testbed parameters
	baselineAccuracy float64 // Uncompressed validation accuracy (percent scale)
	fragility        float64 // Fraction of accuracy lost at full compression
	sharpness        float64 // Exponent of the accuracy-vs-rate response
	recovery         float64 // Per-epoch recovery toward converged accuracy
	disruption       float64 // Immediate accuracy hit per unit of rate change
	noise            float64 // Measurement noise stddev on validation
	seed             int64   // Seed for measurement noise
	initialRate      float64 // Sparsity applied to the model up front
	rampEpochs       int     // Epochs the controller's own ramp schedule takes

	// Infrastructure
	configPath    string // YAML compression spec; overrides the search flags
	checkpointDir string // Directory for checkpoint files (default: temp dir)
	telemetryPath string // JSONL telemetry output; empty disables
)

// searchCmd runs the adaptive compression-rate search on the synthetic testbed
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run the adaptive compression-rate search on a synthetic model",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		spec := searchSpec()
		if err := spec.Validate(); err != nil {
			logrus.Fatalf("Invalid compression spec: %v", err)
		}

		testbed := synthetic.NewTestbed(
			synthetic.ModelParams{
				BaselineAccuracy: baselineAccuracy,
				Fragility:        fragility,
				Sharpness:        sharpness,
				Recovery:         recovery,
				Disruption:       disruption,
				Noise:            noise,
				Seed:             seed,
			},
			synthetic.ControllerParams{
				InitialRate: initialRate,
				TargetRate:  initialRate,
				RampEpochs:  rampEpochs,
			},
		)

		dir := checkpointDir
		if dir == "" {
			tmp, err := os.MkdirTemp("", "nncf-search-")
			if err != nil {
				logrus.Fatalf("Cannot create checkpoint directory: %v", err)
			}
			dir = tmp
		}

		var sink telemetry.Sink
		if telemetryPath != "" {
			jsonl, err := telemetry.NewJSONL(telemetryPath)
			if err != nil {
				logrus.Fatalf("Cannot open telemetry output: %v", err)
			}
			defer jsonl.Close()
			sink = jsonl
		}

		loop, err := tune.NewAdaptiveLoop(spec, testbed.Controller, tune.LoopOptions{
			CheckpointDir: dir,
			Checkpoints:   checkpoint.NewFileStore(),
			Telemetry:     sink,
		})
		if err != nil {
			logrus.Fatalf("Cannot build the adaptive loop: %v", err)
		}

		result, err := loop.Run(testbed.Model, testbed.Funcs())
		if err != nil {
			logrus.Fatalf("Search failed: %v", err)
		}
		final := result.(*synthetic.Model)
		state := loop.Runner().State()

		fmt.Printf("\n=== Search summary ===\n")
		fmt.Printf("baseline accuracy:          %.4f\n", state.BaselineAccuracy)
		fmt.Printf("minimal tolerable accuracy: %.4f\n", state.MinimalTolerableAccuracy)
		fmt.Printf("final compression rate:     %.4f\n", final.CompressionRate())
		fmt.Printf("final accuracy:             %.4f\n", final.Accuracy())
		fmt.Printf("final accuracy budget:      %+.4f\n", final.Accuracy()-state.MinimalTolerableAccuracy)
		fmt.Printf("training epochs spent:      %d\n", state.CumulativeEpochCount)
		fmt.Printf("rate history:               %s\n", loop.Runner().TrainingHistory())
		fmt.Printf("checkpoints:                %s\n", dir)
	},
}

// searchSpec assembles the compression spec from --config or from the flags
func searchSpec() *tune.CompressionSpec {
	if configPath != "" {
		spec, err := tune.LoadCompressionSpec(configPath)
		if err != nil {
			logrus.Fatalf("Cannot load compression spec: %v", err)
		}
		return spec
	}
	cfg := tune.SearchConfig{
		MaximalAccuracyDrop:        maxAccuracyDrop,
		InitialTrainingPhaseEpochs: initialEpochs,
		PatienceEpochs:             patienceEpochs,
		ValidateEveryNEpochs:       validateEvery,
		MinimalCompressionRateStep: minRateStep,
		MaximalTotalEpochs:         maxTotalEpochs,
		InitialCompressionRateStep: initialRateStep,
		StepReductionFactor:        stepReduction,
		MinimalCompressionRate:     minCompressionRate,
		MaximalCompressionRate:     maxCompressionRate,
		HigherIsBetter:             higherIsBetter,
		SteppingMode:               steppingMode,
		FullCompressionFactor:      fullCompressionFactor,
		CurveSamples:               curveSamples,
	}
	return &tune.CompressionSpec{
		Compression: []tune.AlgorithmSpec{
			{Algorithm: "magnitude_sparsity", AccuracyAware: &cfg},
		},
	}
}

// init sets up `search` flags and attaches the subcommand
func init() {
	defaults := tune.DefaultSearchConfig()
	searchCmd.Flags().Float64Var(&maxAccuracyDrop, "max-accuracy-drop", defaults.MaximalAccuracyDrop, "Tolerable accuracy drop relative to baseline, in percent")
	searchCmd.Flags().IntVar(&initialEpochs, "initial-epochs", defaults.InitialTrainingPhaseEpochs, "Training epochs before the search starts")
	searchCmd.Flags().IntVar(&patienceEpochs, "patience", defaults.PatienceEpochs, "Epochs trained per target rate before re-evaluating it")
	searchCmd.Flags().IntVar(&validateEvery, "validate-every", defaults.ValidateEveryNEpochs, "Validate every N epochs during the initial phase (0 = only at phase end)")
	searchCmd.Flags().Float64Var(&minRateStep, "min-rate-step", defaults.MinimalCompressionRateStep, "Rate step below which the search terminates")
	searchCmd.Flags().IntVar(&maxTotalEpochs, "max-epochs", defaults.MaximalTotalEpochs, "Cap on total training epochs")
	searchCmd.Flags().Float64Var(&initialRateStep, "initial-rate-step", defaults.InitialCompressionRateStep, "Starting rate step for the uniform_decrease policy")
	searchCmd.Flags().Float64Var(&stepReduction, "step-reduction", defaults.StepReductionFactor, "Step shrink factor applied on oscillation")
	searchCmd.Flags().Float64Var(&minCompressionRate, "min-rate", defaults.MinimalCompressionRate, "Lowest compression rate worth compressing for")
	searchCmd.Flags().Float64Var(&maxCompressionRate, "max-rate", defaults.MaximalCompressionRate, "Highest permitted compression rate")
	searchCmd.Flags().BoolVar(&higherIsBetter, "higher-is-better", defaults.HigherIsBetter, "Whether larger metric values are better")
	searchCmd.Flags().StringVar(&steppingMode, "mode", defaults.SteppingMode, "Step policy (interpolate, uniform_decrease)")
	searchCmd.Flags().Float64Var(&fullCompressionFactor, "full-compression-factor", defaults.FullCompressionFactor, "Budget overshoot assumed at full compression")
	searchCmd.Flags().IntVar(&curveSamples, "curve-samples", defaults.CurveSamples, "Samples over [0,1] for the interpolate policy")

	searchCmd.Flags().Float64Var(&baselineAccuracy, "baseline", 85.2, "Uncompressed validation accuracy of the synthetic model")
	searchCmd.Flags().Float64Var(&fragility, "fragility", 0.25, "Fraction of accuracy the synthetic model loses at full compression")
	searchCmd.Flags().Float64Var(&sharpness, "sharpness", 4, "Exponent of the synthetic accuracy-vs-rate response")
	searchCmd.Flags().Float64Var(&recovery, "recovery", 0.6, "Per-epoch recovery toward the converged accuracy")
	searchCmd.Flags().Float64Var(&disruption, "disruption", 8, "Immediate accuracy hit per unit of rate change")
	searchCmd.Flags().Float64Var(&noise, "noise", 0, "Stddev of measurement noise on validation")
	searchCmd.Flags().Int64Var(&seed, "seed", 1, "Seed for measurement noise")
	searchCmd.Flags().Float64Var(&initialRate, "initial-compression", 0.35, "Sparsity level applied to the model up front")
	searchCmd.Flags().IntVar(&rampEpochs, "ramp-epochs", 5, "Epochs the controller's own ramp schedule takes")

	searchCmd.Flags().StringVar(&configPath, "config", "", "YAML compression spec; overrides the search flags")
	searchCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Directory for checkpoint files (default: a fresh temp dir)")
	searchCmd.Flags().StringVar(&telemetryPath, "telemetry", "", "Write JSONL telemetry to this file")

	rootCmd.AddCommand(searchCmd)
}
