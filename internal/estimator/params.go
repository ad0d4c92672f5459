package estimator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownParam is returned when a tunable parameter name is not recognised.
	ErrUnknownParam = errors.New("unknown parameter")
	// ErrInvalidParamValue is returned when a parameter value is out of range.
	ErrInvalidParamValue = errors.New("invalid parameter value")
)

// Params are the vehicle and noise parameters of the filter.
type Params struct {
	B1            float64 `json:"b1"`              // linear drag (1/s)
	B2            float64 `json:"b2"`              // rotational drag (1/s)
	GPSNoise      float64 `json:"gps_noise"`       // position measurement variance
	GPSAngleNoise float64 `json:"gps_angle_noise"` // course noise scale
	GyroNoise     float64 `json:"gyro_noise"`      // turn-rate measurement variance
	MotorForce    float64 `json:"motor_force"`     // acceleration per unit motor power
	MotorTorque   float64 `json:"motor_torque"`    // angular acceleration per unit differential power

	Width               float64 `json:"boat_width"`
	CourseNoiseDistance float64 `json:"course_noise_distance"`
	CourseNoiseFloor    float64 `json:"course_noise_floor"`
	InvertGyro          bool    `json:"invert_gyro"`
}

// Validate checks every numeric field is finite and non-negative.
func (p Params) Validate() error {
	for _, param := range AllParams() {
		if err := checkParamValue(param, p.Get(param)); err != nil {
			return err
		}
	}
	extra := []struct {
		name  string
		value float64
	}{
		{"boat_width", p.Width},
		{"course_noise_distance", p.CourseNoiseDistance},
		{"course_noise_floor", p.CourseNoiseFloor},
	}
	for _, f := range extra {
		if !isFinite(f.value) || f.value < 0 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidParamValue, f.name, f.value)
		}
	}
	return nil
}

// Param enumerates the parameters that may be changed at run time.
type Param int

const (
	ParamB1 Param = iota
	ParamB2
	ParamGPSNoise
	ParamGPSAngleNoise
	ParamGyroNoise
	ParamMotorForce
	ParamMotorTorque
	numParams
)

type paramInfo struct {
	name  string
	alias string // config-file spelling
	field func(*Params) *float64
}

var paramTable = [numParams]paramInfo{
	ParamB1:            {"b1", "b1", func(p *Params) *float64 { return &p.B1 }},
	ParamB2:            {"b2", "b2", func(p *Params) *float64 { return &p.B2 }},
	ParamGPSNoise:      {"gpsNoise", "gps_noise", func(p *Params) *float64 { return &p.GPSNoise }},
	ParamGPSAngleNoise: {"gpsAngleNoise", "gps_angle_noise", func(p *Params) *float64 { return &p.GPSAngleNoise }},
	ParamGyroNoise:     {"gyroNoise", "gyro_noise", func(p *Params) *float64 { return &p.GyroNoise }},
	ParamMotorForce:    {"motorForce", "motor_force", func(p *Params) *float64 { return &p.MotorForce }},
	ParamMotorTorque:   {"motorTorque", "motor_torque", func(p *Params) *float64 { return &p.MotorTorque }},
}

// AllParams lists every tunable parameter in declaration order.
func AllParams() []Param {
	out := make([]Param, 0, numParams)
	for p := Param(0); p < numParams; p++ {
		out = append(out, p)
	}
	return out
}

// ParamNames lists the canonical names accepted by ParseParam.
func ParamNames() []string {
	out := make([]string, 0, numParams)
	for _, info := range paramTable {
		out = append(out, info.name)
	}
	return out
}

// ParseParam resolves a parameter name. Both the canonical camelCase name and
// the snake_case config spelling are accepted, case-insensitively.
func ParseParam(name string) (Param, error) {
	n := strings.TrimSpace(name)
	for i, info := range paramTable {
		if strings.EqualFold(n, info.name) || strings.EqualFold(n, info.alias) {
			return Param(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownParam, name, strings.Join(ParamNames(), ", "))
}

func (p Param) String() string {
	if p < 0 || p >= numParams {
		return fmt.Sprintf("Param(%d)", int(p))
	}
	return paramTable[p].name
}

// Get returns the current value of a tunable parameter.
func (ps Params) Get(p Param) float64 {
	if p < 0 || p >= numParams {
		return 0
	}
	return *paramTable[p].field(&ps)
}

// Set assigns a tunable parameter after range-checking it.
func (ps *Params) Set(p Param, value float64) error {
	if p < 0 || p >= numParams {
		return fmt.Errorf("%w: %v", ErrUnknownParam, p)
	}
	if err := checkParamValue(p, value); err != nil {
		return err
	}
	*paramTable[p].field(ps) = value
	return nil
}

func checkParamValue(p Param, value float64) error {
	if !isFinite(value) || value < 0 {
		return fmt.Errorf("%w: %s=%v", ErrInvalidParamValue, p, value)
	}
	return nil
}
