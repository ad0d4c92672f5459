package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/boatnav/internal/geo"
	"github.com/banshee-data/boatnav/internal/units"
)

// Mode identifies which measurement model an update used.
type Mode int

const (
	// ModeNoGPS corrects heading rate from the gyro only.
	ModeNoGPS Mode = iota
	// ModeGPSFix corrects position, heading (course over ground) and heading rate.
	ModeGPSFix
)

func (m Mode) String() string {
	switch m {
	case ModeNoGPS:
		return "no_gps"
	case ModeGPSFix:
		return "gps_fix"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Measurement is one sensor reading.
type Measurement struct {
	GPS  geo.Fix
	Gyro float64 // turn rate, deg/s
}

// UpdateResult describes how a measurement was applied.
type UpdateResult struct {
	Mode Mode
	// Distance and Course are the displacement from the previous fix. Only
	// meaningful in ModeGPSFix.
	Distance float64
	Course   float64
	// CourseNoise is the heading measurement variance used (ModeGPSFix).
	CourseNoise float64
}

// Predict propagates the state dt seconds forward under motor input u.
// On error the state is unchanged.
func (e *Estimator) Predict(u Control, dt float64) error {
	if !isFinite(dt) || !isFinite(u.Left) || !isFinite(u.Right) {
		return fmt.Errorf("predict dt=%v u=%+v: %w", dt, u, ErrNonFinite)
	}
	if dt < 0 {
		return fmt.Errorf("predict dt=%v: %w", dt, ErrNegativeDt)
	}

	F := e.transition(dt)
	B := e.controlMatrix(dt, e.x.AtVec(IdxHeading))

	var x, bu mat.VecDense
	x.MulVec(F, e.x)
	bu.MulVec(B, u.vec())
	x.AddVec(&x, &bu)

	// P = F P F' + Q dt
	var fp, p mat.Dense
	fp.Mul(F, e.p)
	p.Mul(&fp, F.T())
	for i, q := range e.cfg.ProcessNoise {
		p.Set(i, i, p.At(i, i)+q*dt)
	}

	if !isFiniteState(&x, &p) {
		return fmt.Errorf("predict dt=%v: %w", dt, ErrNonFinite)
	}
	e.x = &x
	e.p = &p
	e.wrapHeading()
	return nil
}

// transition builds F(dt). Linear velocity decay is clamped at zero so a
// large dt cannot reverse the direction of travel.
func (e *Estimator) transition(dt float64) *mat.Dense {
	prm := e.cfg.Params
	decay := math.Max(0, 1-dt*prm.B1)
	F := mat.NewDense(StateDim, StateDim, nil)
	F.Set(IdxX, IdxX, 1)
	F.Set(IdxX, IdxVX, dt)
	F.Set(IdxY, IdxY, 1)
	F.Set(IdxY, IdxVY, dt)
	F.Set(IdxVX, IdxVX, decay)
	F.Set(IdxVY, IdxVY, decay)
	F.Set(IdxHeading, IdxHeading, 1)
	F.Set(IdxHeading, IdxHeadingRate, dt)
	F.Set(IdxHeadingRate, IdxHeadingRate, 1-dt*prm.B2)
	return F
}

// controlMatrix builds B(dt, heading). Both motors push along the heading;
// their difference turns the boat about its centre.
func (e *Estimator) controlMatrix(dt, heading float64) *mat.Dense {
	prm := e.cfg.Params
	sin, cos := math.Sincos(units.DegToRad(heading))
	thrust := prm.MotorForce * dt
	torque := prm.MotorTorque * dt * prm.Width / 2
	B := mat.NewDense(StateDim, 2, nil)
	B.Set(IdxVX, 0, thrust*sin)
	B.Set(IdxVX, 1, thrust*sin)
	B.Set(IdxVY, 0, thrust*cos)
	B.Set(IdxVY, 1, thrust*cos)
	B.Set(IdxHeadingRate, 0, torque)
	B.Set(IdxHeadingRate, 1, -torque)
	return B
}

// Update corrects the state with a measurement. The last fix is always
// advanced to m.GPS when the measurement carries one, even if the correction
// itself fails. On ErrSingularInnovation or ErrNonFinite the predicted state
// and covariance are kept.
func (e *Estimator) Update(m Measurement) (UpdateResult, error) {
	if !isFinite(m.Gyro) || !m.GPS.IsFinite() {
		return UpdateResult{}, fmt.Errorf("update gyro=%v gps=%v: %w", m.Gyro, m.GPS, ErrNonFinite)
	}

	prev := e.lastFix
	if m.GPS.Valid {
		e.lastFix = m.GPS
	}

	prm := e.cfg.Params
	gyro := m.Gyro
	if prm.InvertGyro {
		gyro = -gyro
	}

	var (
		H   *mat.Dense
		z   *mat.VecDense
		R   *mat.Dense
		res = UpdateResult{Mode: ModeNoGPS}
	)
	if !m.GPS.Valid || !prev.Valid || m.GPS.Equal(prev) {
		H = mat.NewDense(1, StateDim, nil)
		H.Set(0, IdxHeadingRate, 1)
		z = mat.NewVecDense(1, []float64{gyro})
		R = diagDense([]float64{prm.GyroNoise})
	} else {
		res.Mode = ModeGPSFix
		res.Distance = geo.Distance(prev.Point, m.GPS.Point)
		res.Course = geo.Bearing(prev.Point, m.GPS.Point)
		res.CourseNoise = e.courseNoise(res.Distance)

		H = mat.NewDense(4, StateDim, nil)
		H.Set(0, IdxX, 1)
		H.Set(1, IdxY, 1)
		H.Set(2, IdxHeading, 1)
		H.Set(3, IdxHeadingRate, 1)
		z = mat.NewVecDense(4, []float64{m.GPS.Point.X(), m.GPS.Point.Y(), res.Course, gyro})
		R = diagDense([]float64{prm.GPSNoise, prm.GPSNoise, res.CourseNoise, prm.GyroNoise})
	}

	if err := e.correct(H, z, R, res.Mode == ModeGPSFix); err != nil {
		return res, err
	}
	return res, nil
}

// courseNoise is the heading variance for a course derived from two fixes
// dist metres apart. Short baselines give unreliable courses.
func (e *Estimator) courseNoise(dist float64) float64 {
	prm := e.cfg.Params
	return math.Max(prm.CourseNoiseFloor, prm.GPSAngleNoise*(prm.CourseNoiseDistance-dist))
}

// correct applies the standard Kalman correction. If wrapRow2 is set the
// third innovation component is a heading difference and is folded into
// (-180, 180].
func (e *Estimator) correct(H *mat.Dense, z *mat.VecDense, R *mat.Dense, wrapRow2 bool) error {
	n, _ := H.Dims()

	var hx, y mat.VecDense
	hx.MulVec(H, e.x)
	y.SubVec(z, &hx)
	if wrapRow2 {
		y.SetVec(2, units.Wrap180(y.AtVec(2)))
	}

	// S = H P H' + R
	var hp, s mat.Dense
	hp.Mul(H, e.p)
	s.Mul(&hp, H.T())
	s.Add(&s, R)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("update %dx%d: %w: %v", n, n, ErrSingularInnovation, err)
	}

	// K = P H' S^-1
	var pht, k mat.Dense
	pht.Mul(e.p, H.T())
	k.Mul(&pht, &sInv)

	var x, ky mat.VecDense
	ky.MulVec(&k, &y)
	x.AddVec(e.x, &ky)

	// P = (I - K H) P
	var kh, ikh, p mat.Dense
	kh.Mul(&k, H)
	ikh.Sub(identity(StateDim), &kh)
	p.Mul(&ikh, e.p)
	symmetrize(&p)

	if !isFiniteState(&x, &p) {
		return fmt.Errorf("update: %w", ErrNonFinite)
	}
	e.x = &x
	e.p = &p
	e.wrapHeading()
	return nil
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// symmetrize replaces m with (m + m')/2 to remove round-off asymmetry.
func symmetrize(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}

// wrapHeading folds any finite heading into [0, 360).
func wrapHeading(h float64) float64 {
	h = units.Wrap360(math.Mod(h, 360))
	if h >= 360 {
		h = 0
	}
	return h
}
