package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lakeflow/internal/model"
)

func TestAttrsRoundTrip_PreservesNumericTypes(t *testing.T) {
	raw, err := encodeAttrs(model.Row{
		"count":   int64(10),
		"revenue": 10.0,
		"ratio":   0.25,
		"big":     1.5e12,
		"name":    "acme",
		"active":  true,
		"note":    nil,
	})
	require.NoError(t, err)

	attrs, err := decodeAttrs(raw)
	require.NoError(t, err)

	assert.Equal(t, int64(10), attrs["count"])
	assert.Equal(t, 10.0, attrs["revenue"], "integral floats stay floats")
	assert.Equal(t, 0.25, attrs["ratio"])
	assert.Equal(t, 1.5e12, attrs["big"])
	assert.Equal(t, "acme", attrs["name"])
	assert.Equal(t, true, attrs["active"])
	assert.Nil(t, attrs["note"])
}

func TestDateRoundTrip(t *testing.T) {
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := decodeDate(encodeDate(d))
	require.NoError(t, err)
	assert.True(t, got.Equal(d))

	_, err = decodeDate("not-a-date")
	require.Error(t, err)
}
