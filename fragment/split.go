package fragment

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/network"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

// Shape tells how the block key is cut: fragments of Size bytes, the last
// one possibly shorter.
type Shape struct {
	Size int
}

// SplitKey cuts key into fragments according to shape, preserving order.
func SplitKey(key []byte, shape Shape) ([][]byte, error) {
	if shape.Size <= 0 {
		return nil, common.NewConfigError("shape.size", "must be positive, got %d", shape.Size)
	}
	if len(key) == 0 {
		return nil, common.NewConfigError("key", "must not be empty")
	}
	return split(key, shape.Size), nil
}

// SplitBlock cuts content into chunks of chunkSize bytes, the last one
// possibly shorter. An empty block has no chunks.
func SplitBlock(content []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, common.NewConfigError("chunkSize", "must be positive, got %d", chunkSize)
	}
	return split(content, chunkSize), nil
}

// Join concatenates the parts in order. It reverses SplitKey and SplitBlock.
func Join(parts [][]byte) []byte {
	return bytes.Join(parts, nil)
}

func split(data []byte, size int) [][]byte {
	parts := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		parts = append(parts, bytes.Clone(data[start:end]))
	}
	return parts
}

// Identifier derives the stable identifier of a piece from its block, kind,
// position and content.
func Identifier(block registry.BlockID, kind network.Kind, index int, content []byte) string {
	tag := "d"
	if kind == network.KindKeyFragment {
		tag = "k"
	}
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%s/%s/%04d-%x", block, tag, index, sum[:4])
}
