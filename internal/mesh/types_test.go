package mesh

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEUI64(t *testing.T) {
	want := EUI64{0x00, 0x0d, 0x6f, 0x00, 0x0a, 0x90, 0x69, 0xe2}

	tests := []struct {
		name  string
		input string
	}{
		{"colon", "00:0d:6f:00:0a:90:69:e2"},
		{"dash", "00-0D-6F-00-0A-90-69-E2"},
		{"bare", "000d6f000a9069e2"},
		{"whitespace", "  00:0d:6f:00:0a:90:69:e2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEUI64(tt.input)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, "00:0d:6f:00:0a:90:69:e2", got.String())
		})
	}
}

func TestParseEUI64_Invalid(t *testing.T) {
	for _, input := range []string{"", "00:0d:6f", "zz:0d:6f:00:0a:90:69:e2", "00:0d:6f:00:0a:90:69:e2:ff"} {
		_, err := ParseEUI64(input)
		assert.ErrorIs(t, err, ErrInvalidEUI64, "input %q", input)
	}
}

func TestParseNWK(t *testing.T) {
	n, err := ParseNWK("0x1A2b")
	require.NoError(t, err)
	assert.Equal(t, NWK(0x1a2b), n)
	assert.Equal(t, "0x1a2b", n.String())

	n, err = ParseNWK("0")
	require.NoError(t, err)
	assert.Equal(t, CoordinatorNWK, n)

	_, err = ParseNWK("0x10000")
	assert.Error(t, err)
}

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusNew, StatusInitializing, StatusEndpointsInitialized} {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStatus("bogus")
	assert.Error(t, err)
}

func TestDeviceInfoJSON(t *testing.T) {
	info := DeviceInfo{
		IEEE:   EUI64{0, 1, 2, 3, 4, 5, 6, 7},
		NWK:    0x1234,
		Status: StatusEndpointsInitialized,
	}

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ieee":"00:01:02:03:04:05:06:07"`)
	assert.Contains(t, string(data), `"nwk":"0x1234"`)
	assert.Contains(t, string(data), `"status":"endpoints_initialized"`)
}

func TestLeavePayload(t *testing.T) {
	ieee := EUI64{0x00, 0x0d, 0x6f, 0x00, 0x0a, 0x90, 0x69, 0xe2}
	assert.Equal(t,
		[]byte{0xe2, 0x69, 0x90, 0x0a, 0x00, 0x6f, 0x0d, 0x00, 0x00},
		leavePayload(ieee))
}
