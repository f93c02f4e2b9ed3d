package predictor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/crop-advisory-service/internal/models"
)

func TestInstrument_TrimsLabel(t *testing.T) {
	p := Instrument("crop", Func(func(context.Context, models.Features) (string, error) {
		return "  rice\n", nil
	}))

	got, err := p.Predict(context.Background(), models.Features{})
	require.NoError(t, err)
	assert.Equal(t, "rice", got)
	assert.Equal(t, "crop", p.Name())
}

func TestInstrument_EmptyLabelIsInvalid(t *testing.T) {
	p := Instrument("fertilizer", Func(func(context.Context, models.Features) (string, error) {
		return "   ", nil
	}))

	_, err := p.Predict(context.Background(), models.Features{})
	assert.ErrorIs(t, err, ErrInvalidPrediction)
}

func TestInstrument_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	p := Instrument("crop", Func(func(context.Context, models.Features) (string, error) {
		return "rice", want
	}))

	got, err := p.Predict(context.Background(), models.Features{})
	assert.ErrorIs(t, err, want)
	assert.Empty(t, got)
}

type pingingPredictor struct {
	Func
	pingErr error
}

func (p pingingPredictor) Ping(context.Context) error { return p.pingErr }

func TestInstrument_Ping(t *testing.T) {
	plain := Instrument("crop", Func(func(context.Context, models.Features) (string, error) { return "rice", nil }))
	assert.NoError(t, plain.Ping(context.Background()))

	down := errors.New("down")
	pinging := Instrument("crop", pingingPredictor{pingErr: down})
	assert.ErrorIs(t, pinging.Ping(context.Background()), down)
}
