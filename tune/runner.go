package tune

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vanyalzr/nncf/tune/telemetry"
)

// RunnerConfig configures the standard Runner.
type RunnerConfig struct {
	// Search holds the accuracy-aware search parameters.
	Search SearchConfig

	// CheckpointDir is the directory checkpoint files go to.
	CheckpointDir string
	// CheckpointTag prefixes checkpoint file names. Empty means "acc_aware".
	CheckpointTag string
	// Checkpoints persists model state. Nil disables checkpoint dumping;
	// rollback to the best rate then becomes unavailable.
	Checkpoints CheckpointIO

	// Telemetry receives scalar observations. Nil means discard.
	Telemetry telemetry.Sink
}

// Runner is the standard TrainingRunner. It owns the search state and the
// rate-to-budget history, invokes the user callables, and keeps the last and
// per-rate best checkpoints on disk.
type Runner struct {
	cfg            RunnerConfig
	funcs          TrainingFuncs
	state          SearchState
	history        *History
	validateEveryN int
	phaseBestFile  string // best checkpoint file the current phase has written, if any
}

var (
	_ TrainingRunner       = (*Runner)(nil)
	_ BestCheckpointDumper = (*Runner)(nil)
)

// NewRunner builds a Runner. The search state starts with the configured
// initial rate step and a best metric that loses to any real validation.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.CheckpointTag == "" {
		cfg.CheckpointTag = defaultCheckpointTag
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Nop{}
	}
	r := &Runner{
		cfg:            cfg,
		history:        NewHistory(),
		validateEveryN: cfg.Search.ValidateEveryNEpochs,
	}
	r.state.RateStep = cfg.Search.InitialCompressionRateStep
	r.state.ResetBest(cfg.Search.HigherIsBetter)
	return r
}

// SetTrainingFuncs installs the user callables.
func (r *Runner) SetTrainingFuncs(funcs TrainingFuncs) {
	r.funcs = funcs
}

// RetrieveBaseline establishes the uncompressed reference metric and derives
// the minimal tolerable accuracy from it. The model must carry the metric,
// measured before any compression was applied.
func (r *Runner) RetrieveBaseline(model Model) error {
	if carrier, ok := model.(BaselineCarrier); ok {
		if baseline, ok := carrier.BaselineAccuracy(); ok {
			r.setBaseline(baseline)
			return nil
		}
	}
	return fmt.Errorf("%w: model does not carry the pre-computed reference metric value", ErrMissingBaseline)
}

func (r *Runner) setBaseline(baseline float64) {
	r.state.BaselineAccuracy = baseline
	r.state.MinimalTolerableAccuracy = baseline * (1 - 0.01*r.cfg.Search.MaximalAccuracyDrop)
	logrus.Infof("baseline accuracy %.4f, minimal tolerable accuracy %.4f (maximal drop %.2f%%)",
		baseline, r.state.MinimalTolerableAccuracy, r.cfg.Search.MaximalAccuracyDrop)
}

// ConfigureOptimizers invokes the optional optimizer setup callable.
func (r *Runner) ConfigureOptimizers() error {
	if r.funcs.ConfigureOptimizers == nil {
		return nil
	}
	if err := r.funcs.ConfigureOptimizers(); err != nil {
		return fmt.Errorf("configuring optimizers: %w", err)
	}
	return nil
}

// TrainEpoch runs one epoch: scheduler step, training callable, periodic
// validation, checkpoint dump and statistics telemetry. Both epoch counters
// increment last, so everything inside an epoch is stamped with the epoch's
// own index.
func (r *Runner) TrainEpoch(model Model, ctrl CompressionController) (float64, bool, error) {
	if sched := ctrl.Scheduler(); sched != nil {
		sched.EpochStep()
	}
	loss, err := r.funcs.TrainEpoch(ctrl, model, r.state.CumulativeEpochCount)
	if err != nil {
		return 0, false, fmt.Errorf("training epoch %d: %w", r.state.CumulativeEpochCount, err)
	}

	statistics := ctrl.Statistics()

	// The current metric only lives until the next epoch: an epoch that skips
	// validation must not dump a best checkpoint off a stale measurement.
	r.state.CurrentMetricValid = false

	var metric float64
	validated := false
	if r.validateEveryN > 0 && r.state.TrainingEpochCount%r.validateEveryN == 0 {
		metric, err = r.Validate(model)
		if err != nil {
			return 0, false, err
		}
		validated = true
	}

	logrus.Debugf("epoch %d: loss %.4f, %s", r.state.CumulativeEpochCount, loss, formatStatistics(statistics))

	if err := r.DumpCheckpoint(model, ctrl); err != nil {
		return 0, false, err
	}
	for _, key := range sortedKeys(statistics) {
		r.EmitScalar(ScalarStatisticsPrefix+key, statistics[key], r.state.CumulativeEpochCount)
	}

	r.state.TrainingEpochCount++
	r.state.CumulativeEpochCount++
	return metric, validated, nil
}

// Validate runs the validation callable, folds the result into the
// phase-best metric and records it as the current metric.
func (r *Runner) Validate(model Model) (float64, error) {
	metric, err := r.funcs.Validate(model, r.state.CumulativeEpochCount)
	if err != nil {
		return 0, fmt.Errorf("validating: %w", err)
	}
	isBest := metric > r.state.BestMetric
	if !r.cfg.Search.HigherIsBetter {
		isBest = !isBest
	}
	if isBest {
		r.state.BestMetric = metric
	}
	r.state.CurrentMetric = metric
	r.state.CurrentMetricValid = true
	r.EmitScalar(ScalarMetricValue, metric, r.state.CumulativeEpochCount)
	return metric, nil
}

// DumpCheckpoint writes the last-state checkpoint, and a per-rate best
// checkpoint when the current metric is the phase best. The best file is
// named after the rate target, falling back to the controller's current rate
// while no target has been set yet.
func (r *Runner) DumpCheckpoint(model Model, ctrl CompressionController) error {
	if r.cfg.Checkpoints == nil {
		return nil
	}
	last := filepath.Join(r.cfg.CheckpointDir, lastCheckpointName(r.cfg.CheckpointTag, r.cfg.Checkpoints.Ext()))
	if err := r.cfg.Checkpoints.Save(model, last); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	if !r.state.CurrentMetricValid || r.state.CurrentMetric != r.state.BestMetric {
		return nil
	}
	return r.saveBest(model, r.bestFileName(ctrl))
}

// DumpBestCheckpoint writes the per-rate best checkpoint for the current
// naming rate regardless of the metric bookkeeping. A best file the phase
// already wrote under the same rate is kept as is.
func (r *Runner) DumpBestCheckpoint(model Model, ctrl CompressionController) error {
	if r.cfg.Checkpoints == nil {
		return nil
	}
	name := r.bestFileName(ctrl)
	if name == r.phaseBestFile {
		return nil
	}
	return r.saveBest(model, name)
}

// namingRate is the rate best checkpoints are filed under: the target rate
// once the search set one, otherwise the controller's live rate.
func (r *Runner) namingRate(ctrl CompressionController) float64 {
	if r.state.RateTargetSet {
		return r.state.RateTarget
	}
	return currentControllerRate(ctrl)
}

func (r *Runner) bestFileName(ctrl CompressionController) string {
	return bestCheckpointName(r.cfg.CheckpointTag, r.namingRate(ctrl), r.cfg.Checkpoints.Ext())
}

func (r *Runner) saveBest(model Model, name string) error {
	if err := r.cfg.Checkpoints.Save(model, filepath.Join(r.cfg.CheckpointDir, name)); err != nil {
		return fmt.Errorf("saving best checkpoint: %w", err)
	}
	r.phaseBestFile = name
	return nil
}

// currentControllerRate reads the compression rate off the controller,
// resolving through a composite if needed.
func currentControllerRate(ctrl CompressionController) float64 {
	if rc, ok := ctrl.(RateController); ok {
		return rc.CompressionRate()
	}
	if rc, err := ResolveRateController(ctrl); err == nil {
		return rc.CompressionRate()
	}
	return 0
}

// UpdateTrainingHistory records the accuracy budget the given best metric
// implies for the given compression rate. Re-recording a rate overwrites its
// budget.
func (r *Runner) UpdateTrainingHistory(rate, bestMetric float64) {
	r.history.Set(rate, bestMetric-r.state.MinimalTolerableAccuracy)
}

// TrainingHistory returns the recorded rate-to-budget mapping.
func (r *Runner) TrainingHistory() *History {
	return r.history
}

// LoadBestCheckpoint restores the checkpoint of the highest recorded rate
// with a non-negative budget and returns that rate.
func (r *Runner) LoadBestCheckpoint(model Model) (float64, error) {
	if r.cfg.Checkpoints == nil {
		return 0, fmt.Errorf("loading best checkpoint: no checkpoint store configured")
	}
	bestRate := math.Inf(-1)
	found := false
	for _, rate := range r.history.Rates() {
		budget, _ := r.history.Get(rate)
		if budget >= 0 && rate > bestRate {
			bestRate = rate
			found = true
		}
	}
	if !found {
		return 0, ErrNoFeasibleCheckpoint
	}
	path := filepath.Join(r.cfg.CheckpointDir,
		bestCheckpointName(r.cfg.CheckpointTag, bestRate, r.cfg.Checkpoints.Ext()))
	logrus.Infof("loading the best checkpoint found during training: %s", path)
	if err := r.cfg.Checkpoints.Restore(model, path); err != nil {
		return 0, fmt.Errorf("restoring best checkpoint: %w", err)
	}
	return bestRate, nil
}

// ResetTraining starts a new search phase.
func (r *Runner) ResetTraining() {
	r.state.TrainingEpochCount = 0
	r.state.ResetBest(r.cfg.Search.HigherIsBetter)
	r.phaseBestFile = ""
}

// EmitScalar forwards one observation to the telemetry sink.
func (r *Runner) EmitScalar(key string, value float64, step int) {
	r.cfg.Telemetry.Record(key, value, step)
}

// SetValidateEveryN changes the periodic validation cadence.
func (r *Runner) SetValidateEveryN(n int) {
	r.validateEveryN = n
}

// State exposes the runner's mutable search state.
func (r *Runner) State() *SearchState {
	return &r.state
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatStatistics(stats map[string]float64) string {
	if len(stats) == 0 {
		return "no statistics"
	}
	parts := make([]string, 0, len(stats))
	for _, key := range sortedKeys(stats) {
		parts = append(parts, fmt.Sprintf("%s=%.4f", key, stats[key]))
	}
	return strings.Join(parts, " ")
}
