package framework

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestNewScalar(t *testing.T) {
	assert.Equal(t, Bool, NewScalar(true).DType())
	assert.Equal(t, Int32, NewScalar(int32(3)).DType())
	assert.Equal(t, Int64, NewScalar(int64(3)).DType())
	assert.Equal(t, Float32, NewScalar(float32(3)).DType())
	assert.Equal(t, Float64, NewScalar(3.0).DType())
	assert.Equal(t, Float16, NewScalar(float16.Fromfloat32(3)).DType())
	assert.Equal(t, PString, NewScalar("three").DType())
	assert.False(t, Scalar{}.Ok())
}

func TestScalarAs(t *testing.T) {
	t.Run("MatchingType", func(t *testing.T) {
		v, err := ScalarAs[int64](NewScalar(int64(-3)))
		require.NoError(t, err)
		require.Equal(t, int64(-3), v)

		b, err := ScalarAs[bool](NewScalar(false))
		require.NoError(t, err)
		require.False(t, b)

		s, err := ScalarAs[string](NewScalar("hello"))
		require.NoError(t, err)
		require.Equal(t, "hello", s)

		h, err := ScalarAs[float16.Float16](NewScalar(float16.Fromfloat32(0.5)))
		require.NoError(t, err)
		require.Equal(t, float32(0.5), h.Float32())
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		_, err := ScalarAs[int32](NewScalar(int64(1)))
		require.ErrorIs(t, err, ErrTypeMismatch)
		require.Contains(t, err.Error(), "INT64")

		_, err = ScalarAs[float64](NewScalar(float32(1)))
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
}

func TestScalarTo(t *testing.T) {
	f, err := ScalarTo[float32](NewScalar(int64(7)))
	require.NoError(t, err)
	require.Equal(t, float32(7), f)

	i, err := ScalarTo[int32](NewScalar(-2.75))
	require.NoError(t, err)
	require.Equal(t, int32(-2), i)

	b, err := ScalarTo[bool](NewScalar(int32(0)))
	require.NoError(t, err)
	require.False(t, b)

	one, err := ScalarTo[float64](NewScalar(true))
	require.NoError(t, err)
	require.Equal(t, 1.0, one)

	h, err := ScalarTo[float16.Float16](NewScalar(float32(1.5)))
	require.NoError(t, err)
	require.Equal(t, float32(1.5), h.Float32())

	_, err = ScalarTo[float32](NewScalar("hello"))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestScalarRawString(t *testing.T) {
	testCases := []struct {
		scalar Scalar
		want   string
	}{
		{NewScalar(true), "true"},
		{NewScalar(int32(-12)), "-12"},
		{NewScalar(int64(1) << 40), "1099511627776"},
		{NewScalar(float32(0.1)), "0.1"},
		{NewScalar(3.0), "3"},
		{NewScalar(float16.Fromfloat32(0.25)), "0.25"},
		{NewScalar("hello"), "hello"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, tc.scalar.RawString(), "RawString of %s", tc.scalar)
	}
}

func TestScalarFromString(t *testing.T) {
	t.Run("Numeric", func(t *testing.T) {
		s := ScalarFromString("3.5")
		require.Equal(t, Float64, s.DType())
		v, err := ScalarAs[float64](s)
		require.NoError(t, err)
		require.Equal(t, 3.5, v)
	})

	t.Run("SpecialFloats", func(t *testing.T) {
		v, err := ScalarAs[float64](ScalarFromString("inf"))
		require.NoError(t, err)
		require.True(t, math.IsInf(v, 1))
		v, err = ScalarAs[float64](ScalarFromString("-inf"))
		require.NoError(t, err)
		require.True(t, math.IsInf(v, -1))
		v, err = ScalarAs[float64](ScalarFromString("nan"))
		require.NoError(t, err)
		require.True(t, math.IsNaN(v))
	})

	t.Run("Bool", func(t *testing.T) {
		require.Equal(t, NewScalar(true), ScalarFromString("true"))
		require.Equal(t, NewScalar(false), ScalarFromString("false"))
	})

	t.Run("NonNumeric", func(t *testing.T) {
		s := ScalarFromString("hello")
		require.Equal(t, PString, s.DType())
		require.Equal(t, "hello", s.RawString())
	})

	t.Run("RawStringRoundTrip", func(t *testing.T) {
		for _, v := range []float64{0.1, -1e-8, 123456789.125, math.MaxFloat64} {
			got, err := ScalarAs[float64](ScalarFromString(NewScalar(v).RawString()))
			require.NoError(t, err)
			require.Equal(t, v, got)
		}
	})
}
