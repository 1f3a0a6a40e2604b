package diag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledNeverDistinct(t *testing.T) {
	var dc DistinctCaller
	ok, _ := dc.Distinct()
	require.False(t, ok)
	require.Equal(t, 0, dc.Len())
}

func TestFirstCallFromSiteIsDistinct(t *testing.T) {
	dc := &DistinctCaller{Enabled: true}

	ok, trace := callSiteA(dc)
	require.True(t, ok)
	require.NotEmpty(t, trace)
	require.Equal(t, 1, dc.Len())
}

func TestRepeatedCallFromSameSiteIsNotDistinct(t *testing.T) {
	dc := &DistinctCaller{Enabled: true}

	var results []bool
	for i := 0; i < 2; i++ {
		ok, _ := callSiteA(dc)
		results = append(results, ok)
	}
	require.Equal(t, []bool{true, false}, results)
	require.Equal(t, 1, dc.Len())
}

func TestDifferentSitesAreBothDistinct(t *testing.T) {
	dc := &DistinctCaller{Enabled: true}

	okA, _ := callSiteA(dc)
	okB, _ := callSiteB(dc)
	require.True(t, okA)
	require.True(t, okB)
	require.Equal(t, 2, dc.Len())
}

func callSiteA(dc *DistinctCaller) (bool, string) {
	return dc.Distinct()
}

func callSiteB(dc *DistinctCaller) (bool, string) {
	return dc.Distinct()
}
