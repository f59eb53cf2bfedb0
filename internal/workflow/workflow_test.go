package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		input   string
		want    SourceKind
		wantErr bool
	}{
		{"Gmail", SourceGmail, false},
		{"Google", SourceGmail, false},
		{"Telegram", SourceTelegram, false},
		{"Maps", SourceMaps, false},
		{"Photos", SourcePhotos, false},
		{"  Gmail  ", SourceGmail, false},
		{"gmail", "", true},
		{"Slack", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSource(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseDestination(t *testing.T) {
	got, err := ParseDestination("Google")
	require.NoError(t, err)
	assert.Equal(t, DestinationGmail, got)

	got, err = ParseDestination("Telegram")
	require.NoError(t, err)
	assert.Equal(t, DestinationTelegram, got)

	_, err = ParseDestination("Maps")
	assert.Error(t, err)
}

func TestGateTs(t *testing.T) {
	wf := Workflow{PhotoBaselineTs: 100, PhotoLastProcessedTs: 50}
	assert.Equal(t, int64(100), wf.GateTs())

	wf.PhotoLastProcessedTs = 200
	assert.Equal(t, int64(200), wf.GateTs())

	assert.Equal(t, int64(0), Workflow{}.GateTs())
}

func TestGeofenceRoundTrip(t *testing.T) {
	var wf Workflow
	assert.False(t, wf.HasGeofence())
	_, ok := wf.Geofence()
	assert.False(t, ok)

	wf.SetGeofence(Geofence{Latitude: 52.5, Longitude: 13.4, RadiusMeters: 250})
	require.True(t, wf.HasGeofence())
	g, ok := wf.Geofence()
	require.True(t, ok)
	assert.Equal(t, 52.5, g.Latitude)
	assert.Equal(t, 13.4, g.Longitude)
	assert.Equal(t, 250.0, g.RadiusMeters)
}

func TestHasGeofenceRejectsZeroRadius(t *testing.T) {
	var wf Workflow
	wf.SetGeofence(Geofence{Latitude: 1, Longitude: 2, RadiusMeters: 0})
	assert.False(t, wf.HasGeofence())
}

func TestMatchesAccount(t *testing.T) {
	wf := Workflow{SourceAccount: "me@example.com"}
	assert.True(t, wf.MatchesAccount("Alice <me@example.com>"))
	assert.False(t, wf.MatchesAccount("other@example.com"))

	assert.True(t, Workflow{SourceAccount: AccountAny}.MatchesAccount("anything"))
	assert.True(t, Workflow{}.MatchesAccount("anything"))
}

func TestValidate(t *testing.T) {
	valid := Workflow{
		ID:          NewID(),
		Source:      SourceGmail,
		Destination: DestinationTelegram,
	}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.ID = ""
	assert.Error(t, missing.Validate())

	bogus := valid
	bogus.ID = "not-a-uuid"
	assert.Error(t, bogus.Validate())

	badSource := valid
	badSource.Source = "Slack"
	assert.Error(t, badSource.Validate())

	maps := valid
	maps.Source = SourceMaps
	assert.Error(t, maps.Validate(), "maps workflow without geofence")

	maps.SetGeofence(Geofence{Latitude: 52.5, Longitude: 13.4, RadiusMeters: 100})
	assert.NoError(t, maps.Validate())
}

func TestKeyDedupesOnTriple(t *testing.T) {
	a := Workflow{ID: NewID(), Source: SourceGmail, Destination: DestinationTelegram, Instructions: "summarize"}
	b := Workflow{ID: NewID(), Source: SourceGmail, Destination: DestinationTelegram, Instructions: "summarize"}
	c := Workflow{ID: NewID(), Source: SourceGmail, Destination: DestinationTelegram, Instructions: "translate"}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}
