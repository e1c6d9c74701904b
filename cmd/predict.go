package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vanyalzr/nncf/tune"
)

var (
	predictHistory string  // rate:budget pairs, comma separated
	predictRate    float64 // Compression rate the model currently holds
	predictDrop    float64 // Tolerable accuracy drop, in percent
	predictMode    string  // Step policy
	predictStep    float64 // Current rate step (uniform_decrease)
	predictFactor  float64 // Budget overshoot assumed at full compression
	predictSamples int     // Samples over [0,1] for the interpolate policy
	predictShrink  float64 // Step shrink factor on oscillation
)

// predictCmd computes the next target rate from a recorded history, without
// running any training
var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the next target compression rate from a rate:budget history",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		hist, err := parseHistory(predictHistory)
		if err != nil {
			logrus.Fatalf("Invalid history: %v", err)
		}

		cfg := tune.DefaultSearchConfig()
		cfg.MaximalAccuracyDrop = predictDrop
		cfg.SteppingMode = predictMode
		cfg.InitialCompressionRateStep = predictStep
		cfg.FullCompressionFactor = predictFactor
		cfg.CurveSamples = predictSamples
		cfg.StepReductionFactor = predictShrink
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid parameters: %v", err)
		}

		// One-shot state: the best budget comes from the most recent
		// history entry, with the tolerable floor folded in at zero.
		state := &tune.SearchState{RateStep: predictStep}
		if rates := hist.Rates(); len(rates) > 0 {
			budget, _ := hist.Get(rates[len(rates)-1])
			state.BestMetric = budget
		}

		predictor := tune.NewStepPredictor(cfg)
		delta := predictor.NextStep(state, hist, predictRate)

		fmt.Printf("next target compression rate: %.4f\n", predictRate+delta)
		fmt.Printf("rate delta:                   %+.4f\n", delta)
		fmt.Printf("resulting rate step:          %.4f\n", state.RateStep)
	},
}

// parseHistory decodes "rate:budget,rate:budget,..." pairs
func parseHistory(s string) (*tune.History, error) {
	hist := tune.NewHistory()
	if strings.TrimSpace(s) == "" {
		return hist, nil
	}
	for _, part := range strings.Split(s, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(pair) != 2 {
			return nil, fmt.Errorf("malformed entry %q (want rate:budget)", part)
		}
		rate, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed rate in %q: %w", part, err)
		}
		budget, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed budget in %q: %w", part, err)
		}
		hist.Set(rate, budget)
	}
	return hist, nil
}

// init sets up `predict` flags and attaches the subcommand
func init() {
	defaults := tune.DefaultSearchConfig()
	predictCmd.Flags().StringVar(&predictHistory, "history", "", "Comma-separated rate:budget pairs, oldest first")
	predictCmd.Flags().Float64Var(&predictRate, "current-rate", 0, "Compression rate the model currently holds")
	predictCmd.Flags().Float64Var(&predictDrop, "max-accuracy-drop", defaults.MaximalAccuracyDrop, "Tolerable accuracy drop, in percent")
	predictCmd.Flags().StringVar(&predictMode, "mode", defaults.SteppingMode, "Step policy (interpolate, uniform_decrease)")
	predictCmd.Flags().Float64Var(&predictStep, "rate-step", defaults.InitialCompressionRateStep, "Current rate step (used by uniform_decrease)")
	predictCmd.Flags().Float64Var(&predictFactor, "full-compression-factor", defaults.FullCompressionFactor, "Budget overshoot assumed at full compression")
	predictCmd.Flags().IntVar(&predictSamples, "curve-samples", defaults.CurveSamples, "Samples over [0,1] for the interpolate policy")
	predictCmd.Flags().Float64Var(&predictShrink, "step-reduction", defaults.StepReductionFactor, "Step shrink factor applied on oscillation")

	rootCmd.AddCommand(predictCmd)
}
