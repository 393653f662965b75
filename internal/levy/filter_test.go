package levy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tassa-soggiorno/tassa/internal/booking"
)

func TestFilterSplitIsStableAndIdempotent(t *testing.T) {
	records, _, err := booking.NewNormalizer(nil).Normalize(booking.SampleRows())
	require.NoError(t, err)

	f := DefaultFilter()
	liable, excluded := f.Split(records)
	require.Len(t, liable, 19)
	require.Len(t, excluded, 3)
	for _, r := range liable {
		require.True(t, f.IsLiable(r))
	}

	again, _ := f.Split(records)
	require.Equal(t, liable, again)

	relisted, none := f.Split(liable)
	require.Equal(t, liable, relisted)
	require.Empty(t, none)
}

func TestFilterConfigurableNoShow(t *testing.T) {
	f := NewFilter(booking.StatusConfirmed, booking.StatusNoShow)
	require.True(t, f.IsLiable(booking.Record{Status: booking.StatusNoShow}))
	require.False(t, f.IsLiable(booking.Record{Status: booking.StatusCancelled}))
	require.False(t, f.IsLiable(booking.Record{Status: booking.StatusOther}))
	require.Equal(t, []booking.Status{booking.StatusConfirmed, booking.StatusNoShow}, f.Statuses())
}
