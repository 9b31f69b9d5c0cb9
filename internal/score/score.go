package score

import (
	"github.com/shopspring/decimal"

	"github.com/tuanvm/timeright/internal/domain"
	"github.com/tuanvm/timeright/internal/errors"
)

type Config struct {
	// TargetMS is the elapsed time a perfect stop hits. Defaults to domain.TargetMS.
	TargetMS int64
	// CutoffMS is the deviation at or beyond which accuracy bottoms out at 0.
	// Defaults to TargetMS.
	CutoffMS int64
}

// Engine maps elapsed time to a deviation and an accuracy score. It is pure:
// the same elapsed value always yields the same result.
type Engine struct {
	targetMS int64
	cutoffMS int64
}

func NewEngine(c Config) *Engine {
	if c.TargetMS <= 0 {
		c.TargetMS = domain.TargetMS
	}
	if c.CutoffMS <= 0 {
		c.CutoffMS = c.TargetMS
	}

	return &Engine{
		targetMS: c.TargetMS,
		cutoffMS: c.CutoffMS,
	}
}

type Result struct {
	ElapsedMS   int64
	DeviationMS int64
	// Accuracy falls linearly from 100 at zero deviation to 0 at the cutoff,
	// rounded to 2 decimal places.
	Accuracy decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Score computes the deviation and accuracy for an elapsed time. Negative
// elapsed cannot happen with a monotonic clock; it is reported as an internal
// inconsistency, never clamped.
func (e *Engine) Score(elapsedMS int64) (Result, error) {
	if elapsedMS < 0 {
		return Result{}, errors.New(errors.CodeInternal,
			errors.WithMessagef("negative elapsed time: %dms", elapsedMS))
	}

	dev := elapsedMS - e.targetMS
	if dev < 0 {
		dev = -dev
	}

	acc := decimal.Zero
	if dev < e.cutoffMS {
		acc = hundred.
			Mul(decimal.NewFromInt(e.cutoffMS - dev)).
			Div(decimal.NewFromInt(e.cutoffMS)).
			Round(2)
	}

	return Result{
		ElapsedMS:   elapsedMS,
		DeviationMS: dev,
		Accuracy:    acc,
	}, nil
}

// Target returns the configured target elapsed time in milliseconds.
func (e *Engine) Target() int64 { return e.targetMS }
