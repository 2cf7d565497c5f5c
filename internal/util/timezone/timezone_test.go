package timezone

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
)

func TestInitializeKnownZone(t *testing.T) {
	Initialize("Europe/Berlin")
	t.Cleanup(func() { Initialize("UTC") })

	assert.Equal(t, "Europe/Berlin", Location().String())
	assert.Equal(t, "Europe/Berlin", Now().Location().String())
}

func TestInitializeUnknownZoneFallsBackToUTC(t *testing.T) {
	Initialize("Mars/Olympus_Mons")
	assert.Equal(t, time.UTC, Location())
}

func TestRFC3339UsesConfiguredZone(t *testing.T) {
	Initialize("UTC")
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 2*3600))
	assert.Equal(t, "2024-05-01T10:00:00Z", RFC3339(ts))
}
