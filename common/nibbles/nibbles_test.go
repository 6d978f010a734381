// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package nibbles

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPath_FromBytes_SplitsHighNibbleFirst(t *testing.T) {
	require.Equal(t, Path{0x1, 0x2, 0xa, 0xb}, FromBytes([]byte{0x12, 0xab}))
	require.Empty(t, FromBytes(nil))
}

func TestPath_Bytes_InvertsFromBytes(t *testing.T) {
	require := require.New(t)
	for _, in := range [][]byte{{}, {0x00}, {0xff, 0x01}, {0x12, 0x34, 0x56}} {
		require.Equal(in, FromBytes(in).Bytes())
	}
	require.Equal([]byte{0x12, 0x30}, Path{1, 2, 3}.Bytes())
}

func TestPath_FromNibbleBytes_RejectsOutOfRangeValues(t *testing.T) {
	require := require.New(t)
	p, err := FromNibbleBytes([]byte{0, 15, 7})
	require.NoError(err)
	require.Equal(Path{0, 15, 7}, p)
	require.Equal([]byte{0, 15, 7}, p.NibbleBytes())

	_, err = FromNibbleBytes([]byte{1, 16})
	require.Error(err)
}

func TestPath_CommonPrefixLength(t *testing.T) {
	tests := []struct {
		a, b Path
		want int
	}{
		{nil, nil, 0},
		{Path{1}, nil, 0},
		{Path{1, 2}, Path{1, 2}, 2},
		{Path{1, 2, 3}, Path{1, 2, 4}, 2},
		{Path{1, 2}, Path{1, 2, 3}, 2},
		{Path{5}, Path{6}, 0},
	}
	for _, test := range tests {
		require.Equal(t, test.want, test.a.CommonPrefixLength(test.b), "%v vs %v", test.a, test.b)
		require.Equal(t, test.want, test.b.CommonPrefixLength(test.a), "%v vs %v", test.b, test.a)
	}
}

func TestPath_Concat_DoesNotAliasInputs(t *testing.T) {
	require := require.New(t)
	a := make(Path, 2, 10)
	a[0], a[1] = 1, 2
	b := a.Concat(Path{3})
	c := a.Concat(Path{4})
	require.Equal(Path{1, 2, 3}, b)
	require.Equal(Path{1, 2, 4}, c)
	require.Equal(Path{1, 2, 7}, a.Append(7))
	require.True(b.HasPrefix(a))
	require.False(a.HasPrefix(b))
}

func TestPath_String_RendersHex(t *testing.T) {
	require.Equal(t, "0af", Path{0, 10, 15}.String())
}

func TestHP_EncodingMatchesKnownLayout(t *testing.T) {
	tests := []struct {
		path Path
		leaf bool
		want []byte
	}{
		{Path{}, false, []byte{0x00}},
		{Path{}, true, []byte{0x20}},
		{Path{1, 2, 3, 4, 5}, false, []byte{0x11, 0x23, 0x45}},
		{Path{0, 1, 2, 3, 4, 5}, false, []byte{0x00, 0x01, 0x23, 0x45}},
		{Path{0xf, 1, 0xc, 0xb, 8}, true, []byte{0x3f, 0x1c, 0xb8}},
		{Path{0, 0xf, 1, 0xc, 0xb, 8}, true, []byte{0x20, 0x0f, 0x1c, 0xb8}},
	}
	for _, test := range tests {
		require.Equal(t, test.want, EncodeHP(test.path, test.leaf))
		path, leaf, err := DecodeHP(test.want)
		require.NoError(t, err)
		require.Equal(t, test.leaf, leaf)
		require.True(t, test.path.Equal(path), "got %v, want %v", path, test.path)
	}
}

func TestHP_DecodeRejectsMalformedInput(t *testing.T) {
	for _, in := range [][]byte{nil, {0x40}, {0x01, 0x23}, {0xf0}} {
		_, _, err := DecodeHP(in)
		require.ErrorIs(t, err, ErrInvalidHP, "input %x", in)
	}
}
