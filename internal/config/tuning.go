package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical estimator defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/estimator.defaults.json"

// Dt policies accepted by the dt_policy field.
const (
	DtPolicyTimestamps = "timestamps"
	DtPolicyFixed      = "fixed"
)

// Power encodings accepted by the power_encoding field.
const (
	PowerEncodingFloat32 = "float32"
	PowerEncodingInt32   = "int32"
)

// TuningConfig represents the root configuration for the estimator, the
// session that drives it and the telemetry decoder. The schema matches the
// /api/params endpoint so the same JSON can be used for startup configuration
// and runtime inspection.
type TuningConfig struct {
	// Vehicle parameters (tunable at runtime)
	B1            *float64 `json:"b1,omitempty"` // linear drag on water
	B2            *float64 `json:"b2,omitempty"` // rotational drag
	GPSNoise      *float64 `json:"gps_noise,omitempty"`
	GPSAngleNoise *float64 `json:"gps_angle_noise,omitempty"`
	GyroNoise     *float64 `json:"gyro_noise,omitempty"`
	MotorForce    *float64 `json:"motor_force,omitempty"`
	MotorTorque   *float64 `json:"motor_torque,omitempty"`

	// Vehicle geometry and measurement model
	BoatWidth           *float64 `json:"boat_width,omitempty"`            // metres
	CourseNoiseDistance *float64 `json:"course_noise_distance,omitempty"` // metres of travel beyond which course is trusted
	CourseNoiseFloor    *float64 `json:"course_noise_floor,omitempty"`
	InvertGyro          *bool    `json:"invert_gyro,omitempty"`

	// Filter priors
	InitialCovariance []float64 `json:"initial_covariance,omitempty"` // 6 diagonal entries
	ProcessNoise      []float64 `json:"process_noise,omitempty"`      // 6 diagonal entries, per second

	// Session params
	DtPolicy  *string  `json:"dt_policy,omitempty"`  // "timestamps" or "fixed"
	NominalDt *float64 `json:"nominal_dt,omitempty"` // seconds

	// Ingest params
	PowerEncoding *string `json:"power_encoding,omitempty"` // "float32" or "int32"
	QueueSize     *int    `json:"queue_size,omitempty"`
	FlushInterval *string `json:"flush_interval,omitempty"` // duration string like "60s", "0" disables
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

var (
	defaultInitialCovariance = []float64{30, 30, 5, 5, 180, 0}
	defaultProcessNoise      = []float64{0.5, 0.5, 5, 5, 0.1, 0.1}
)

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		B1:                  ptrFloat64(0.8),
		B2:                  ptrFloat64(3),
		GPSNoise:            ptrFloat64(4),
		GPSAngleNoise:       ptrFloat64(10),
		GyroNoise:           ptrFloat64(0.1),
		MotorForce:          ptrFloat64(0.6),
		MotorTorque:         ptrFloat64(100),
		BoatWidth:           ptrFloat64(0.8),
		CourseNoiseDistance: ptrFloat64(0.5),
		CourseNoiseFloor:    ptrFloat64(1e-9),
		InvertGyro:          ptrBool(false),
		InitialCovariance:   append([]float64(nil), defaultInitialCovariance...),
		ProcessNoise:        append([]float64(nil), defaultProcessNoise...),
		DtPolicy:            ptrString(DtPolicyTimestamps),
		NominalDt:           ptrFloat64(0.1),
		PowerEncoding:       ptrString(PowerEncodingFloat32),
		QueueSize:           ptrInt(256),
		FlushInterval:       ptrString("0"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The Get* methods provide fallback defaults for any fields not
	// specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	nonNegative := map[string]*float64{
		"b1":                    c.B1,
		"b2":                    c.B2,
		"gps_noise":             c.GPSNoise,
		"gps_angle_noise":       c.GPSAngleNoise,
		"gyro_noise":            c.GyroNoise,
		"boat_width":            c.BoatWidth,
		"course_noise_distance": c.CourseNoiseDistance,
	}
	for name, v := range nonNegative {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
			return fmt.Errorf("%s must be a finite non-negative number, got %f", name, *v)
		}
	}

	for name, v := range map[string]*float64{"motor_force": c.MotorForce, "motor_torque": c.MotorTorque} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s must be finite, got %f", name, *v)
		}
	}

	if c.CourseNoiseFloor != nil && !(*c.CourseNoiseFloor > 0) {
		return fmt.Errorf("course_noise_floor must be positive, got %g", *c.CourseNoiseFloor)
	}

	if c.InitialCovariance != nil {
		if err := validateDiagonal("initial_covariance", c.InitialCovariance); err != nil {
			return err
		}
	}
	if c.ProcessNoise != nil {
		if err := validateDiagonal("process_noise", c.ProcessNoise); err != nil {
			return err
		}
	}

	if c.DtPolicy != nil {
		switch *c.DtPolicy {
		case DtPolicyTimestamps, DtPolicyFixed:
		default:
			return fmt.Errorf("dt_policy must be %q or %q, got %q", DtPolicyTimestamps, DtPolicyFixed, *c.DtPolicy)
		}
	}

	if c.NominalDt != nil && !(*c.NominalDt > 0) {
		return fmt.Errorf("nominal_dt must be positive, got %f", *c.NominalDt)
	}

	if c.PowerEncoding != nil {
		switch *c.PowerEncoding {
		case PowerEncodingFloat32, PowerEncodingInt32:
		default:
			return fmt.Errorf("power_encoding must be %q or %q, got %q", PowerEncodingFloat32, PowerEncodingInt32, *c.PowerEncoding)
		}
	}

	if c.QueueSize != nil && *c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", *c.QueueSize)
	}

	if c.FlushInterval != nil && *c.FlushInterval != "" {
		if _, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
	}

	return nil
}

func validateDiagonal(name string, diag []float64) error {
	if len(diag) != 6 {
		return fmt.Errorf("%s must have 6 entries, got %d", name, len(diag))
	}
	for i, v := range diag {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%s[%d] must be a finite non-negative number, got %f", name, i, v)
		}
	}
	return nil
}

// GetB1 returns the b1 value or the default.
func (c *TuningConfig) GetB1() float64 {
	if c.B1 == nil {
		return 0.8
	}
	return *c.B1
}

// GetB2 returns the b2 value or the default.
func (c *TuningConfig) GetB2() float64 {
	if c.B2 == nil {
		return 3
	}
	return *c.B2
}

// GetGPSNoise returns the gps_noise value or the default.
func (c *TuningConfig) GetGPSNoise() float64 {
	if c.GPSNoise == nil {
		return 4
	}
	return *c.GPSNoise
}

// GetGPSAngleNoise returns the gps_angle_noise value or the default.
func (c *TuningConfig) GetGPSAngleNoise() float64 {
	if c.GPSAngleNoise == nil {
		return 10
	}
	return *c.GPSAngleNoise
}

// GetGyroNoise returns the gyro_noise value or the default.
func (c *TuningConfig) GetGyroNoise() float64 {
	if c.GyroNoise == nil {
		return 0.1
	}
	return *c.GyroNoise
}

// GetMotorForce returns the motor_force value or the default.
func (c *TuningConfig) GetMotorForce() float64 {
	if c.MotorForce == nil {
		return 0.6
	}
	return *c.MotorForce
}

// GetMotorTorque returns the motor_torque value or the default.
func (c *TuningConfig) GetMotorTorque() float64 {
	if c.MotorTorque == nil {
		return 100
	}
	return *c.MotorTorque
}

// GetBoatWidth returns the boat_width value or the default.
func (c *TuningConfig) GetBoatWidth() float64 {
	if c.BoatWidth == nil {
		return 0.8
	}
	return *c.BoatWidth
}

// GetCourseNoiseDistance returns the course_noise_distance value or the default.
func (c *TuningConfig) GetCourseNoiseDistance() float64 {
	if c.CourseNoiseDistance == nil {
		return 0.5
	}
	return *c.CourseNoiseDistance
}

// GetCourseNoiseFloor returns the course_noise_floor value or the default.
func (c *TuningConfig) GetCourseNoiseFloor() float64 {
	if c.CourseNoiseFloor == nil {
		return 1e-9
	}
	return *c.CourseNoiseFloor
}

// GetInvertGyro returns the invert_gyro value or the default.
func (c *TuningConfig) GetInvertGyro() bool {
	if c.InvertGyro == nil {
		return false
	}
	return *c.InvertGyro
}

// GetInitialCovariance returns the initial_covariance diagonal or the default.
func (c *TuningConfig) GetInitialCovariance() [6]float64 {
	return diagOrDefault(c.InitialCovariance, defaultInitialCovariance)
}

// GetProcessNoise returns the process_noise diagonal or the default.
func (c *TuningConfig) GetProcessNoise() [6]float64 {
	return diagOrDefault(c.ProcessNoise, defaultProcessNoise)
}

func diagOrDefault(v, def []float64) [6]float64 {
	var out [6]float64
	if len(v) == 6 {
		copy(out[:], v)
	} else {
		copy(out[:], def)
	}
	return out
}

// GetDtPolicy returns the dt_policy value or the default.
func (c *TuningConfig) GetDtPolicy() string {
	if c.DtPolicy == nil || *c.DtPolicy == "" {
		return DtPolicyTimestamps
	}
	return *c.DtPolicy
}

// GetNominalDt returns the nominal_dt value or the default.
func (c *TuningConfig) GetNominalDt() float64 {
	if c.NominalDt == nil {
		return 0.1
	}
	return *c.NominalDt
}

// GetPowerEncoding returns the power_encoding value or the default.
func (c *TuningConfig) GetPowerEncoding() string {
	if c.PowerEncoding == nil || *c.PowerEncoding == "" {
		return PowerEncodingFloat32
	}
	return *c.PowerEncoding
}

// GetQueueSize returns the queue_size value or the default.
func (c *TuningConfig) GetQueueSize() int {
	if c.QueueSize == nil {
		return 256
	}
	return *c.QueueSize
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
// Zero disables periodic flushing.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return 0
	}
	return d
}
