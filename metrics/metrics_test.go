package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, "test")
	require.NoError(t, err)

	m.FreePages.Set(42)
	require.Equal(t, float64(42), testutil.ToFloat64(m.FreePages))
}

func TestObserveWatermarkLabelsSeparately(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, "test")
	require.NoError(t, err)

	m.ObserveWatermark("low")
	m.ObserveWatermark("low")
	m.ObserveWatermark("high")

	require.Equal(t, float64(2), testutil.ToFloat64(m.WatermarkCrossedTotal.WithLabelValues("low")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.WatermarkCrossedTotal.WithLabelValues("high")))
}

func TestDoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, "test")
	require.NoError(t, err)

	_, err = New(reg, "test")
	require.Error(t, err)
}
