package sweep

import "github.com/san-kum/autosim/internal/config"

// Parameter is the swept value k together with the trial round counter.
// k is kept as a step index so repeated advancing does not drift.
type Parameter struct {
	Min   float64
	Max   float64
	Step  float64
	Index int
	Count int
}

func NewParameter(cfg config.SweepConfig) Parameter {
	return Parameter{
		Min:   cfg.ParamMin,
		Max:   cfg.ParamMax,
		Step:  cfg.ParamStep,
		Index: cfg.StartStep,
		Count: cfg.StartCount,
	}
}

func (p Parameter) K() float64 {
	return p.Min + float64(p.Index)*p.Step
}

// Advance moves k one step up. When k passes Max it wraps to Min and Count
// increments; the return value reports the wrap.
func (p *Parameter) Advance() bool {
	p.Index++
	if p.K() > p.Max+p.Step*1e-6 {
		p.Index = 0
		p.Count++
		return true
	}
	return false
}

// Exhausted reports whether maxTrials rounds have completed.
func (p Parameter) Exhausted(maxTrials int) bool {
	return p.Count >= maxTrials
}
