package refine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Run("content string", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"content","content":"Recursion "}`))
		require.NoError(t, err)
		assert.Equal(t, KindContent, env.Kind)
		assert.Equal(t, "Recursion ", env.Text)
	})

	t.Run("content object kept verbatim", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"content","content":{"feedback":"X"}}`))
		require.NoError(t, err)
		assert.Equal(t, `{"feedback":"X"}`, env.Text)
		assert.Equal(t, "X", Demux(StageTechnical, env).Buffer.Text)
	})

	t.Run("ratings", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"ratings","content":{"clarity":8,"structure":7.4,"technical_accuracy":9}}`))
		require.NoError(t, err)
		require.NotNil(t, env.Ratings.Clarity)
		assert.Equal(t, 8, *env.Ratings.Clarity)
		assert.Equal(t, 7, *env.Ratings.Structure)
		assert.Nil(t, env.Ratings.Completeness)
	})

	t.Run("ratings with wrong shape", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"ratings","content":"eight"}`))
		require.NoError(t, err)
		assert.Equal(t, KindRatings, env.Kind)
		assert.Error(t, env.RatingsErr)
		assert.True(t, env.Ratings.Empty())
	})

	t.Run("ratings without content", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"ratings"}`))
		require.NoError(t, err)
		assert.True(t, errors.Is(env.RatingsErr, errMissingRatings))
	})

	t.Run("ratings keep readable fields", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"ratings","content":{"clarity":"8","structure":6,"mood":"x"}}`))
		require.NoError(t, err)
		require.Error(t, env.RatingsErr)
		assert.Contains(t, env.RatingsErr.Error(), "clarity")
		assert.Nil(t, env.Ratings.Clarity)
		require.NotNil(t, env.Ratings.Structure)
		assert.Equal(t, 6, *env.Ratings.Structure)
	})

	t.Run("error without reason", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"error"}`))
		require.NoError(t, err)
		assert.Equal(t, "unknown error", env.Reason)
	})

	t.Run("done", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"done","content":"completed"}`))
		require.NoError(t, err)
		assert.Equal(t, KindDone, env.Kind)
	})

	t.Run("unknown kind decodes", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"ping"}`))
		require.NoError(t, err)
		assert.Equal(t, Kind("ping"), env.Kind)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`<html>`))
		assert.True(t, errors.Is(err, ErrMalformedEnvelope))
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"content":"x"}`))
		assert.True(t, errors.Is(err, ErrMalformedEnvelope))
	})
}

func TestEnvelopeWireForm(t *testing.T) {
	fb, err := FeedbackEnvelope(`say "why"`)
	require.NoError(t, err)

	raw, err := json.Marshal(fb)
	require.NoError(t, err)

	back, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	d := Demux(StageCreative, back)
	require.NotNil(t, d.Buffer)
	assert.Equal(t, ModeReplace, d.Buffer.Mode)
	assert.Equal(t, `say "why"`, d.Buffer.Text)

	raw, err = json.Marshal(DoneEnvelope())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"done","content":"completed"}`, string(raw))
}
