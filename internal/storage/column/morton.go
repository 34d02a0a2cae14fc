package column

// Morton interleaves a column's X/Z/dimension coordinates into one 64-bit
// key so nearby columns land near each other in the index, matching the
// reference provider's Z-order spatial layout.
func Morton(x, z, dim int32) uint64 {
	return interleave(zigzag(x))<<0 | interleave(zigzag(z))<<1 | uint64(uint32(dim))<<62
}

func zigzag(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

// interleave spreads the low 31 bits of v so each original bit lands two
// positions apart, leaving room for a second coordinate's bits to
// interleave in the gaps.
func interleave(v uint32) uint64 {
	x := uint64(v) & 0x7fffffff
	x = (x | (x << 16)) & 0x0000FFFF0000FFFF
	x = (x | (x << 8)) & 0x00FF00FF00FF00FF
	x = (x | (x << 4)) & 0x0F0F0F0F0F0F0F0F
	x = (x | (x << 2)) & 0x3333333333333333
	x = (x | (x << 1)) & 0x5555555555555555
	return x
}
