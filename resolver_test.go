package teamsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastWriteWinsRemoteNewerWins(t *testing.T) {
	r := LastWriteWins{}

	local := Record{"id": "g1", "score": 1, "updated_at": "2024-01-01T00:00:00Z"}
	remote := Record{"id": "g1", "score": 2, "updated_at": "2024-01-02T00:00:00Z"}

	winner := r.Resolve(local, remote)
	assert.Equal(t, remote, winner)
	// Whole-record resolution: nothing from the loser survives.
	assert.Equal(t, 2, winner["score"])
}

func TestLastWriteWinsLocalNewerWins(t *testing.T) {
	r := LastWriteWins{}

	local := Record{"id": "g1", "updated_at": "2024-01-02T00:00:00Z"}
	remote := Record{"id": "g1", "updated_at": "2024-01-01T00:00:00Z"}

	assert.Equal(t, local, r.Resolve(local, remote))
}

func TestLastWriteWinsTieKeepsLocal(t *testing.T) {
	r := LastWriteWins{}

	local := Record{"id": "g1", "v": "local", "updated_at": "2024-06-15T12:00:00Z"}
	remote := Record{"id": "g1", "v": "remote", "updated_at": "2024-06-15T12:00:00Z"}

	assert.Equal(t, local, r.Resolve(local, remote))
}

func TestLastWriteWinsMissingTimestamps(t *testing.T) {
	r := LastWriteWins{}

	local := Record{"id": "g1", "v": "local"}
	remote := Record{"id": "g1", "v": "remote", "updated_at": "2024-01-01T00:00:00Z"}

	// A missing local timestamp reads as the zero instant, so any parseable
	// remote timestamp wins.
	assert.Equal(t, remote, r.Resolve(local, remote))

	// An unparseable remote timestamp keeps the local copy.
	remote["updated_at"] = "not-a-time"
	assert.Equal(t, local, r.Resolve(local, remote))

	// Neither side carries a timestamp: local wins.
	delete(remote, "updated_at")
	assert.Equal(t, local, r.Resolve(local, remote))
}

func TestLastWriteWinsMixedRepresentations(t *testing.T) {
	r := LastWriteWins{}
	instant := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	// Native time.Time locally vs. RFC 3339 string remotely must compare
	// identically regardless of representation.
	local := Record{"id": "g1", "updated_at": instant}
	remote := Record{"id": "g1", "updated_at": instant.Add(time.Second).Format(time.RFC3339)}
	assert.Equal(t, remote, r.Resolve(local, remote))

	remote["updated_at"] = instant.Add(-time.Second).Format(time.RFC3339)
	assert.Equal(t, local, r.Resolve(local, remote))

	// Epoch milliseconds on either side.
	remote["updated_at"] = instant.Add(time.Minute).UnixMilli()
	assert.Equal(t, remote, r.Resolve(local, remote))
}

func TestLastWriteWinsIsDeterministic(t *testing.T) {
	r := LastWriteWins{}

	local := Record{"id": "g1", "updated_at": "2024-01-01T00:00:00Z"}
	remote := Record{"id": "g1", "updated_at": "2024-01-02T00:00:00Z"}

	first := r.Resolve(local, remote)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Resolve(local, remote))
	}
}

func TestParseUpdatedAt(t *testing.T) {
	instant := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

	cases := []struct {
		name  string
		value any
		want  time.Time
		ok    bool
	}{
		{"time.Time", instant, instant, true},
		{"pointer", &instant, instant, true},
		{"nil pointer", (*time.Time)(nil), time.Time{}, false},
		{"rfc3339", "2024-02-03T04:05:06Z", instant, true},
		{"rfc3339 nano", "2024-02-03T04:05:06.000000000Z", instant, true},
		{"sql form", "2024-02-03 04:05:06", instant, true},
		{"no zone", "2024-02-03T04:05:06", instant, true},
		{"epoch millis int64", instant.UnixMilli(), instant, true},
		{"epoch millis float", float64(instant.UnixMilli()), instant, true},
		{"garbage string", "yesterday-ish", time.Time{}, false},
		{"nil", nil, time.Time{}, false},
		{"wrong type", []string{"x"}, time.Time{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseUpdatedAt(tc.value)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.True(t, got.Equal(tc.want), "got %v want %v", got, tc.want)
			}
		})
	}
}
