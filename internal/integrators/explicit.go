package integrators

import "github.com/san-kum/autosim/internal/dynamo"

// Tableau is the Butcher tableau of an explicit Runge-Kutta method. A is
// strictly lower triangular: row s holds the weights of stages 0..s-1.
type Tableau struct {
	A [][]float64
	B []float64
	C []float64
}

var (
	EulerTableau = Tableau{
		A: [][]float64{{}},
		B: []float64{1},
		C: []float64{0},
	}

	MidpointTableau = Tableau{
		A: [][]float64{{}, {0.5}},
		B: []float64{0, 1},
		C: []float64{0, 0.5},
	}

	RK4Tableau = Tableau{
		A: [][]float64{{}, {0.5}, {0, 0.5}, {0, 0, 1}},
		B: []float64{1.0 / 6.0, 1.0 / 3.0, 1.0 / 3.0, 1.0 / 6.0},
		C: []float64{0, 0.5, 0.5, 1},
	}
)

// Explicit steps any explicit Runge-Kutta method. Stage buffers are reused
// between steps, so an Explicit must not be shared across goroutines.
type Explicit struct {
	tab     Tableau
	k       []dynamo.State
	scratch dynamo.State
}

func NewExplicit(tab Tableau) *Explicit {
	return &Explicit{tab: tab}
}

func NewEuler() *Explicit    { return NewExplicit(EulerTableau) }
func NewMidpoint() *Explicit { return NewExplicit(MidpointTableau) }
func NewRK4() *Explicit      { return NewExplicit(RK4Tableau) }

func (e *Explicit) Stages() int { return len(e.tab.B) }

func (e *Explicit) ensureScratch(n int) {
	if len(e.scratch) == n {
		return
	}
	e.k = make([]dynamo.State, len(e.tab.B))
	for s := range e.k {
		e.k[s] = make(dynamo.State, n)
	}
	e.scratch = make(dynamo.State, n)
}

func (e *Explicit) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	n := len(x)
	e.ensureScratch(n)

	for s := range e.tab.B {
		copy(e.scratch, x)
		for j, a := range e.tab.A[s] {
			if a == 0 {
				continue
			}
			for i := 0; i < n; i++ {
				e.scratch[i] += dt * a * e.k[j][i]
			}
		}
		copy(e.k[s], dyn.Derive(e.scratch, u, t+e.tab.C[s]*dt))
	}

	result := x.Clone()
	for s, b := range e.tab.B {
		if b == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			result[i] += dt * b * e.k[s][i]
		}
	}
	return result
}
