package fragment

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/network"
)

func TestSplitKeyRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	rand.New(rand.NewSource(1)).Read(key)
	for size := 1; size <= 40; size++ {
		parts, err := SplitKey(key, Shape{Size: size})
		require.NoError(t, err)
		assert.Equal(t, key, Join(parts), "size %d", size)
		for i, p := range parts[:len(parts)-1] {
			assert.Len(t, p, size, "part %d", i)
		}
		assert.LessOrEqual(t, len(parts[len(parts)-1]), size)
	}
}

func TestSplitKeyShape(t *testing.T) {
	parts, err := SplitKey(make([]byte, 32), Shape{Size: 8})
	require.NoError(t, err)
	assert.Len(t, parts, 4)

	parts, err = SplitKey(make([]byte, 32), Shape{Size: 10})
	require.NoError(t, err)
	require.Len(t, parts, 4)
	assert.Len(t, parts[3], 2)
}

func TestSplitBlockRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		block := make([]byte, rng.Intn(300))
		rng.Read(block)
		size := 1 + rng.Intn(64)
		chunks, err := SplitBlock(block, size)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(block, Join(chunks)))
		assert.Len(t, chunks, (len(block)+size-1)/size)
	}
}

func TestSplitPartsDoNotAlias(t *testing.T) {
	block := []byte("abcdef")
	chunks, err := SplitBlock(block, 4)
	require.NoError(t, err)
	chunks[0][0] = 'X'
	assert.Equal(t, []byte("abcdef"), block)
}

func TestSplitRejectsBadSizes(t *testing.T) {
	_, err := SplitKey(make([]byte, 32), Shape{})
	assert.True(t, common.IsConfigError(err))
	_, err = SplitKey(nil, Shape{Size: 8})
	assert.True(t, common.IsConfigError(err))
	_, err = SplitBlock([]byte("x"), 0)
	assert.True(t, common.IsConfigError(err))
}

func TestIdentifierIsStable(t *testing.T) {
	a := Identifier("b", network.KindKeyFragment, 3, []byte("payload"))
	b := Identifier("b", network.KindKeyFragment, 3, []byte("payload"))
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "b/k/0003-"))
	assert.NotEqual(t, a, Identifier("b", network.KindKeyFragment, 3, []byte("other")))
	assert.True(t, strings.HasPrefix(Identifier("b", network.KindDataChunk, 0, nil), "b/d/0000-"))
}
