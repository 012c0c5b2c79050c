package timecodec_test

import (
	"testing"
	"time"

	"ReminderNotifier/internal/timecodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SupportedEncodings(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want time.Time
	}{
		{"fraction and zulu", "2025-03-14T09:26:53.589Z", time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)},
		{"fraction and offset", "2025-03-14T12:26:53.589+03:00", time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)},
		{"no fraction", "2025-03-14T09:26:53Z", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)},
		{"fraction no zone", "2025-03-14T09:26:53.589", time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)},
		{"no zone", "2025-03-14T09:26:53", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)},
		{"date only", "2025-03-14", time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"surrounding spaces", "  2025-03-14T09:26:53Z ", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := timecodec.Parse(tc.in)
			require.True(t, ok)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestParse_Unsupported(t *testing.T) {
	for _, in := range []string{"", "   ", "tomorrow", "14.03.2025", "2025-13-40", "2025-03-14 09:26", "null"} {
		assert.NotPanics(t, func() {
			_, ok := timecodec.Parse(in)
			assert.False(t, ok, in)
		})
		assert.Nil(t, timecodec.ParsePtr(in))
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	inputs := []string{
		"2025-03-14T09:26:53.589Z",
		"2025-03-14T09:26:53.123456Z",
		"2025-03-14T09:26:53.123456789+03:00",
		"2025-03-14T12:26:53.589+03:00",
		"2025-03-14T09:26:53Z",
		"2025-03-14T09:26:53.589",
		"2025-03-14T09:26:53",
		"2025-03-14",
	}
	for _, in := range inputs {
		first, ok := timecodec.Parse(in)
		require.True(t, ok, in)

		second, ok := timecodec.Parse(timecodec.Format(first))
		require.True(t, ok, in)
		assert.True(t, first.Equal(second), "%s: %s != %s", in, first, second)
	}
}

func TestFormat_Canonical(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	in := time.Date(2025, 3, 14, 12, 26, 53, 589_000_000, moscow)

	assert.Equal(t, "2025-03-14T09:26:53.589Z", timecodec.Format(in))
}

func TestFormat_KeepsSubMillisecond(t *testing.T) {
	in := time.Date(2025, 3, 14, 9, 0, 0, 123_456_000, time.UTC)

	assert.Equal(t, "2025-03-14T09:00:00.123456000Z", timecodec.Format(in))
	assert.Equal(t, "2025-03-14T09:00:00.123Z", timecodec.Format(in.Truncate(time.Millisecond)))
}
