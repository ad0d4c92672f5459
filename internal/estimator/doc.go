// Package estimator implements the boat's six-state linear Kalman filter.
//
// State: [x, y, vx, vy, heading, heading_rate] in the local metric frame,
// heading in degrees [0, 360) measured clockwise from +y.
// Inputs: left/right motor power (predict), gyro turn rate and optional GPS
// position (update). A GPS fix that differs from the previous one also yields
// a course-over-ground measurement of heading whose noise shrinks with the
// distance travelled between the two fixes.
//
// An Estimator is not safe for concurrent use. The session package owns the
// single goroutine that drives it.
package estimator
