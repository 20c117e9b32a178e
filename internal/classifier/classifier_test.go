package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsInformationalFiltersKnownNoise(t *testing.T) {
	require.True(t, IsInformational("INFO: starting server"))
	require.True(t, IsInformational("Uvicorn running on http://0.0.0.0:4000"))
	require.True(t, IsInformational("Installed 12 packages in 400ms"))
	require.False(t, IsInformational("ERROR: connection refused"))
}

func TestExtractMessagePrefersFirstPattern(t *testing.T) {
	require.Equal(t, "connection refused", ExtractMessage("ERROR: connection refused"))
	require.Equal(t, "something bad happened", ExtractMessage("Exception: something bad happened"))
	require.Equal(t, "", ExtractMessage("just a normal line"))
}

func TestExtractMessageFallsBackToCriticalKeywordScan(t *testing.T) {
	line := "process was killed by the OS"
	require.Equal(t, line, ExtractMessage(line))
}

func TestClassifyOrdersFamiliesCorrectly(t *testing.T) {
	require.Equal(t, FamilyAuth, Classify("invalid API key provided"))
	require.Equal(t, FamilyConnection, Classify("connection refused by peer"))
	require.Equal(t, FamilyResource, Classify("process killed, out of memory"))
	require.Equal(t, FamilyDependency, Classify("failed to import module requests"))
	require.Equal(t, FamilyConfig, Classify("missing required field"))
	require.Equal(t, FamilyRuntime, Classify("something unexpected happened"))
}

func TestOverwritablePolicy(t *testing.T) {
	require.True(t, Overwritable(FamilyHealth, FamilyRuntime))
	require.True(t, Overwritable(FamilyRuntime, FamilyAuth))
	require.True(t, Overwritable(FamilyAuth, FamilyAuth))
	require.False(t, Overwritable(FamilyAuth, FamilyRuntime))
	require.False(t, Overwritable(FamilyAuth, FamilyConnection))
}

func TestTrackerRespectsOverwritePolicy(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	tr.Observe("ERROR: unauthorized, invalid API key", now)
	require.Equal(t, FamilyAuth, tr.Current().Family)

	tr.Observe("Error: connection refused", now.Add(time.Second))
	require.Equal(t, FamilyAuth, tr.Current().Family, "auth is overwritable only by auth")

	tr.Observe("Error: invalid token, unauthorized", now.Add(2*time.Second))
	require.Equal(t, FamilyAuth, tr.Current().Family)
}

func TestTrackerIgnoresInformationalLines(t *testing.T) {
	tr := NewTracker()
	tr.Observe("INFO: all good", time.Now())
	require.Nil(t, tr.Current())
}

func TestTrackerClear(t *testing.T) {
	tr := NewTracker()
	tr.Observe("Error: boom", time.Now())
	require.NotNil(t, tr.Current())
	tr.Clear()
	require.Nil(t, tr.Current())
}
