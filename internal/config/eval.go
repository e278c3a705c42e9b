package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical evaluation defaults file.
const DefaultConfigPath = "config/eval.defaults.json"

// EvalConfig is the on-disk configuration of an evaluation run. Every field
// is optional; the Get* methods supply defaults for omitted fields so
// partial configs are safe.
type EvalConfig struct {
	// Pose perturbation
	NoisyPose   *bool    `json:"noisy_pose,omitempty"`
	NoiseLevel  *float64 `json:"noise_level,omitempty"`
	AnchorCount *int     `json:"anchor_count,omitempty"`
	Seed        *uint64  `json:"seed,omitempty"`

	// Scoring
	ComputeScores     *bool `json:"compute_scores,omitempty"`
	RelativePoseEval  *bool `json:"relative_pose_eval,omitempty"`
	EvalTimeSkipSteps *int  `json:"eval_time_skip_steps,omitempty"`

	// Output
	OutputPath *string `json:"output_path,omitempty"`
	RunName    *string `json:"run_name,omitempty"`

	Workers *int `json:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyEvalConfig returns an EvalConfig with all fields unset.
func EmptyEvalConfig() *EvalConfig {
	return &EvalConfig{}
}

// DefaultEvalConfig returns a config with every field set to its default.
func DefaultEvalConfig() *EvalConfig {
	c := EmptyEvalConfig()
	return &EvalConfig{
		NoisyPose:         ptrBool(c.GetNoisyPose()),
		NoiseLevel:        ptrFloat64(c.GetNoiseLevel()),
		AnchorCount:       ptrInt(c.GetAnchorCount()),
		Seed:              ptrUint64(c.GetSeed()),
		ComputeScores:     ptrBool(c.GetComputeScores()),
		RelativePoseEval:  ptrBool(c.GetRelativePoseEval()),
		EvalTimeSkipSteps: ptrInt(c.GetEvalTimeSkipSteps()),
		OutputPath:        ptrString(c.GetOutputPath()),
		RunName:           ptrString(c.GetRunName()),
		Workers:           ptrInt(c.GetWorkers()),
	}
}

// LoadEvalConfig loads an EvalConfig from a JSON file. The file must have a
// .json extension and be at most 1MB.
func LoadEvalConfig(path string) (*EvalConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEvalConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. It panics if the
// file cannot be loaded and is intended for test setup.
func MustLoadDefaultConfig() *EvalConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/<tool>/ subpackages
	}
	for _, path := range candidates {
		if cfg, err := LoadEvalConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *EvalConfig) Validate() error {
	if c.NoiseLevel != nil && *c.NoiseLevel < 0 {
		return fmt.Errorf("noise_level must be non-negative, got %f", *c.NoiseLevel)
	}
	if c.AnchorCount != nil && *c.AnchorCount < 0 {
		return fmt.Errorf("anchor_count must be non-negative, got %d", *c.AnchorCount)
	}
	if c.EvalTimeSkipSteps != nil && *c.EvalTimeSkipSteps < 0 {
		return fmt.Errorf("eval_time_skip_steps must be non-negative, got %d", *c.EvalTimeSkipSteps)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.RunName != nil && filepath.Base(*c.RunName) != *c.RunName {
		return fmt.Errorf("run_name must not contain path separators, got %q", *c.RunName)
	}
	return nil
}

// GetNoisyPose returns the noisy_pose value or the default.
func (c *EvalConfig) GetNoisyPose() bool {
	if c.NoisyPose == nil {
		return false
	}
	return *c.NoisyPose
}

// GetNoiseLevel returns the noise_level value or the default.
func (c *EvalConfig) GetNoiseLevel() float64 {
	if c.NoiseLevel == nil {
		return 0.05
	}
	return *c.NoiseLevel
}

// GetAnchorCount returns the anchor_count value or the default.
func (c *EvalConfig) GetAnchorCount() int {
	if c.AnchorCount == nil {
		return 0
	}
	return *c.AnchorCount
}

// GetSeed returns the seed value or the default.
func (c *EvalConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetComputeScores returns the compute_scores value or the default.
func (c *EvalConfig) GetComputeScores() bool {
	if c.ComputeScores == nil {
		return true
	}
	return *c.ComputeScores
}

// GetRelativePoseEval returns the relative_pose_eval value or the default.
func (c *EvalConfig) GetRelativePoseEval() bool {
	if c.RelativePoseEval == nil {
		return false
	}
	return *c.RelativePoseEval
}

// GetEvalTimeSkipSteps returns the eval_time_skip_steps value or the default.
func (c *EvalConfig) GetEvalTimeSkipSteps() int {
	if c.EvalTimeSkipSteps == nil {
		return 0
	}
	return *c.EvalTimeSkipSteps
}

// GetOutputPath returns the output_path value or the default.
func (c *EvalConfig) GetOutputPath() string {
	if c.OutputPath == nil || *c.OutputPath == "" {
		return "outputs/test"
	}
	return *c.OutputPath
}

// GetRunName returns the run_name value or the default.
func (c *EvalConfig) GetRunName() string {
	if c.RunName == nil || *c.RunName == "" {
		return "pose-eval"
	}
	return *c.RunName
}

// GetWorkers returns the workers value or the default.
func (c *EvalConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}
