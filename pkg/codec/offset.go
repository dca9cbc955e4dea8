package codec

// WireOffset DL/T645 数据域在传输时每字节加上的偏移量
const WireOffset byte = 0x33

// StripOffset 按字节减33H，返回新切片
func StripOffset(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b - WireOffset
	}
	return out
}

// AddOffset 按字节加33H，返回新切片
func AddOffset(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b + WireOffset
	}
	return out
}

// MaybeStrip strip为true时去除偏移，否则返回原切片
func MaybeStrip(data []byte, strip bool) []byte {
	if strip {
		return StripOffset(data)
	}
	return data
}
