package hello

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	frame, err := Encode("00:00:00:00:00:00:00:01", 3, DefaultTTL)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(frame), 14)
	require.Equal(t, []byte{0x88, 0xcc}, frame[12:14])

	h, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, "00:00:00:00:00:00:00:01", h.SwitchID)
	require.Equal(t, uint32(3), h.Port)
	require.Equal(t, uint16(DefaultTTL), h.TTL)
	require.Equal(t, "00:00:00:00:00:00:00:01:3", h.InterfaceID())
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame func(t *testing.T) []byte
	}{
		{"empty", func(t *testing.T) []byte { return nil }},
		{"garbage", func(t *testing.T) []byte { return []byte{1, 2, 3, 4} }},
		{"bad chassis", func(t *testing.T) []byte {
			f, err := Encode("not-a-dpid", 1, DefaultTTL)
			require.NoError(t, err)
			return f
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame(t))
			require.Error(t, err)
		})
	}
}

func TestSourceMAC(t *testing.T) {
	require.Equal(t, "00:00:00:00:00:01", sourceMAC("00:00:00:00:00:00:00:01").String())
	require.Equal(t, "02:00:00:00:00:00", sourceMAC("bogus").String())
}
