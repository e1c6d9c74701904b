// Package tune implements accuracy-aware training for neural-network
// compression: a feedback loop that searches for the maximal compression
// rate a model can hold while staying within a tolerable accuracy drop.
//
// # Reading Guide
//
// Start with these three files to understand the search:
//   - loop.go: AdaptiveLoop, the orchestrator alternating training, validation and rate updates
//   - runner.go: Runner, the per-epoch mechanics (schedulers, callables, checkpoints, telemetry)
//   - predictor.go: the step policies proposing the next target compression rate
//
// # Architecture
//
// The tune package defines the controller and model contracts and the search
// machinery; implementations live in sub-packages:
//   - tune/synthetic/: deterministic model + sparsity controller for end-to-end runs without real training
//   - tune/checkpoint/: file-backed model state store
//   - tune/telemetry/: scalar sinks (memory, JSON lines, Prometheus)
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - CompressionController: algorithm identity, schedule, statistics
//   - RateController: the adaptive capability (readable/settable rate, schedule takeover)
//   - TrainingRunner: per-epoch execution, replaceable by host-framework bridges
//   - StepPredictor: next-target-rate proposal
//   - CheckpointIO: model state persistence
//   - telemetry.Sink: scalar observation export
//
// The model itself stays opaque: training and validation enter as callables
// (TrainingFuncs), and optional capabilities (BaselineCarrier,
// checkpoint.StateCodec) are discovered by type assertion.
package tune
