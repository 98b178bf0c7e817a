package msg

import (
	"testing"

	"github.com/mousetraptech/productionhub/internal/value"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := New("/mixer/1/fader/level", float32(0.75), int32(3), "scene-a", true)

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, in.Address, out.Address)
	require.Len(t, out.Args, 4)
	f, ok := out.Args[0].AsFloat()
	require.True(t, ok)
	require.InDelta(t, 0.75, f, 1e-5)
	i, ok := out.Args[1].AsInt()
	require.True(t, ok)
	require.Equal(t, 3, i)
	s, ok := out.Args[2].AsString()
	require.True(t, ok)
	require.Equal(t, "scene-a", s)
	b, ok := out.Args[3].AsBool()
	require.True(t, ok)
	require.True(t, b)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not an osc packet"))
	require.Error(t, err)
}

func TestEncodeNoArgs(t *testing.T) {
	data, err := Encode(Message{Address: "/fade/stop"})
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, "/fade/stop", out.Address)
	require.Empty(t, out.Args)
}

func TestNewInfersArgKinds(t *testing.T) {
	m := New("/x", 1, 0.5, "s")
	require.Equal(t, value.KindInt, m.Args[0].Kind())
	require.Equal(t, value.KindFloat, m.Args[1].Kind())
	require.Equal(t, value.KindString, m.Args[2].Kind())
}
