package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.B1 == nil || *cfg.B1 != 0.8 {
		t.Errorf("Expected B1 0.8, got %v", cfg.B1)
	}
	if cfg.DtPolicy == nil || *cfg.DtPolicy != DtPolicyTimestamps {
		t.Errorf("Expected DtPolicy %q, got %v", DtPolicyTimestamps, cfg.DtPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	if cfg.GetMotorTorque() != 100 {
		t.Errorf("GetMotorTorque() = %f, want 100", cfg.GetMotorTorque())
	}
	if got := cfg.GetInitialCovariance(); got != [6]float64{30, 30, 5, 5, 180, 0} {
		t.Errorf("GetInitialCovariance() = %v", got)
	}
}

func TestEmptyConfigGettersMatchDefaults(t *testing.T) {
	empty := EmptyTuningConfig()
	def := DefaultTuningConfig()

	if empty.GetB1() != def.GetB1() || empty.GetB2() != def.GetB2() {
		t.Errorf("drag defaults differ")
	}
	if empty.GetGPSNoise() != def.GetGPSNoise() || empty.GetGPSAngleNoise() != def.GetGPSAngleNoise() {
		t.Errorf("gps noise defaults differ")
	}
	if empty.GetGyroNoise() != def.GetGyroNoise() {
		t.Errorf("gyro noise defaults differ")
	}
	if empty.GetMotorForce() != def.GetMotorForce() || empty.GetMotorTorque() != def.GetMotorTorque() {
		t.Errorf("motor defaults differ")
	}
	if empty.GetProcessNoise() != def.GetProcessNoise() {
		t.Errorf("process noise defaults differ")
	}
	if empty.GetNominalDt() != def.GetNominalDt() || empty.GetDtPolicy() != def.GetDtPolicy() {
		t.Errorf("session defaults differ")
	}
	if empty.GetPowerEncoding() != def.GetPowerEncoding() || empty.GetQueueSize() != def.GetQueueSize() {
		t.Errorf("ingest defaults differ")
	}
	if empty.GetFlushInterval() != 0 {
		t.Errorf("GetFlushInterval() = %v, want 0", empty.GetFlushInterval())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "b1": 2.0,
  "gps_noise": 2.0,
  "invert_gyro": true,
  "dt_policy": "fixed",
  "nominal_dt": 0.05,
  "flush_interval": "30s"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetB1() != 2.0 {
		t.Errorf("GetB1() = %f, want 2.0", cfg.GetB1())
	}
	if cfg.GetGPSNoise() != 2.0 {
		t.Errorf("GetGPSNoise() = %f, want 2.0", cfg.GetGPSNoise())
	}
	if !cfg.GetInvertGyro() {
		t.Errorf("GetInvertGyro() = false, want true")
	}
	if cfg.GetDtPolicy() != DtPolicyFixed {
		t.Errorf("GetDtPolicy() = %q, want %q", cfg.GetDtPolicy(), DtPolicyFixed)
	}
	if cfg.GetNominalDt() != 0.05 {
		t.Errorf("GetNominalDt() = %f, want 0.05", cfg.GetNominalDt())
	}
	if cfg.GetFlushInterval() != 30*time.Second {
		t.Errorf("GetFlushInterval() = %v, want 30s", cfg.GetFlushInterval())
	}
	// omitted fields fall back to defaults
	if cfg.GetB2() != 3 {
		t.Errorf("GetB2() = %f, want 3", cfg.GetB2())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	_, err := LoadTuningConfig("/tmp/config.yaml")
	if err == nil {
		t.Error("Expected error for non-json extension, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "b1": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{"empty", EmptyTuningConfig(), false},
		{"defaults", DefaultTuningConfig(), false},
		{"negative drag", &TuningConfig{B1: ptrFloat64(-1)}, true},
		{"negative gyro noise", &TuningConfig{GyroNoise: ptrFloat64(-0.1)}, true},
		{"zero course floor", &TuningConfig{CourseNoiseFloor: ptrFloat64(0)}, true},
		{"negative motor force allowed", &TuningConfig{MotorForce: ptrFloat64(-0.6)}, false},
		{"short covariance", &TuningConfig{InitialCovariance: []float64{1, 2, 3}}, true},
		{"negative process noise", &TuningConfig{ProcessNoise: []float64{1, 1, 1, 1, -1, 1}}, true},
		{"bad dt policy", &TuningConfig{DtPolicy: ptrString("wallclock")}, true},
		{"zero nominal dt", &TuningConfig{NominalDt: ptrFloat64(0)}, true},
		{"bad power encoding", &TuningConfig{PowerEncoding: ptrString("int16")}, true},
		{"zero queue", &TuningConfig{QueueSize: ptrInt(0)}, true},
		{"bad flush interval", &TuningConfig{FlushInterval: ptrString("soon")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	def := DefaultTuningConfig()
	if cfg.GetB1() != def.GetB1() || cfg.GetMotorTorque() != def.GetMotorTorque() {
		t.Errorf("defaults file disagrees with built-in defaults")
	}
	if cfg.GetProcessNoise() != def.GetProcessNoise() {
		t.Errorf("process noise: file %v, built-in %v", cfg.GetProcessNoise(), def.GetProcessNoise())
	}
}
