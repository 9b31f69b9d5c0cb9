package score_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuanvm/timeright/internal/errors"
	"github.com/tuanvm/timeright/internal/score"
)

func TestEngine_Score(t *testing.T) {
	e := score.NewEngine(score.Config{})

	tests := map[string]struct {
		elapsedMS     int64
		wantDeviation int64
		wantAccuracy  string
	}{
		"perfect stop": {
			elapsedMS:     10000,
			wantDeviation: 0,
			wantAccuracy:  "100",
		},
		"instant stop is valid": {
			elapsedMS:     0,
			wantDeviation: 10000,
			wantAccuracy:  "0",
		},
		"5 seconds late": {
			elapsedMS:     15000,
			wantDeviation: 5000,
			wantAccuracy:  "50",
		},
		"2 seconds early": {
			elapsedMS:     8000,
			wantDeviation: 2000,
			wantAccuracy:  "80",
		},
		"just off target": {
			elapsedMS:     10123,
			wantDeviation: 123,
			wantAccuracy:  "98.77",
		},
		"far beyond cutoff": {
			elapsedMS:     100000,
			wantDeviation: 90000,
			wantAccuracy:  "0",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := e.Score(tt.elapsedMS)
			require.NoError(t, err)

			assert.Equal(t, tt.elapsedMS, res.ElapsedMS)
			assert.Equal(t, tt.wantDeviation, res.DeviationMS)
			assert.True(t, res.Accuracy.Equal(decimal.RequireFromString(tt.wantAccuracy)),
				"accuracy = %s, want %s", res.Accuracy, tt.wantAccuracy)
		})
	}
}

func TestEngine_ScoreIsPure(t *testing.T) {
	e := score.NewEngine(score.Config{})

	first, err := e.Score(9321)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		res, err := e.Score(9321)
		require.NoError(t, err)
		require.Equal(t, first, res)
	}
}

func TestEngine_AccuracyNonIncreasingInDeviation(t *testing.T) {
	e := score.NewEngine(score.Config{})

	prev, err := e.Score(10000)
	require.NoError(t, err)

	for elapsed := int64(10100); elapsed <= 25000; elapsed += 100 {
		res, err := e.Score(elapsed)
		require.NoError(t, err)

		assert.True(t, res.Accuracy.LessThanOrEqual(prev.Accuracy),
			"accuracy increased: deviation %d -> %s, deviation %d -> %s",
			prev.DeviationMS, prev.Accuracy, res.DeviationMS, res.Accuracy)
		prev = res
	}
}

func TestEngine_NegativeElapsedIsInternal(t *testing.T) {
	e := score.NewEngine(score.Config{})

	_, err := e.Score(-1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInternal))
}

func TestEngine_CustomTarget(t *testing.T) {
	e := score.NewEngine(score.Config{TargetMS: 5000})

	res, err := e.Score(5000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.DeviationMS)
	assert.True(t, res.Accuracy.Equal(decimal.NewFromInt(100)))
}
