package primitives

import (
	"encoding/binary"
	"hash/crc32"
)

// FoldIdentity is what an absent mip child contributes to FoldCommutative.
const FoldIdentity uint32 = 0

// FoldOrdered mixes v into seed. The result depends on the order values
// are folded in.
func FoldOrdered(seed, v uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return crc32.Update(seed, crc32.IEEETable, b[:])
}

// FoldCommutative combines child hashes so that arrival order does not matter.
func FoldCommutative(acc, v uint32) uint32 {
	return acc + v
}
