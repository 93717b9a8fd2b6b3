// Package dynamo provides the numerical primitives the built-in simulated
// robot is stepped with.
//
//   - [State]: vector representing system state
//   - [System]: interface for ODE systems (dX/dt = f(X, u, t))
//   - [Integrator]: numerical stepper interface
//
// # Example
//
//	snake := models.NewSnake(20)
//	integ := integrators.NewRK4()
//	x = integ.Step(snake, x, dynamo.Control{k}, t, dt)
//
// Integrators keep scratch buffers and are NOT safe for concurrent use.
package dynamo
