package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// BitRange 位定义，Start/End 按数据段整体从低位(D0)开始编号，包含两端
type BitRange struct {
	Start int
	End   int
}

// ParseBitRange 解析 "3" 或 "0-3" 形式的位编号
func ParseBitRange(id string) (BitRange, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return BitRange{}, fmt.Errorf("empty bit id")
	}
	if before, after, found := strings.Cut(id, "-"); found {
		start, err := strconv.Atoi(strings.TrimSpace(before))
		if err != nil {
			return BitRange{}, fmt.Errorf("invalid bit id %q: %w", id, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(after))
		if err != nil {
			return BitRange{}, fmt.Errorf("invalid bit id %q: %w", id, err)
		}
		if start > end {
			start, end = end, start
		}
		if start < 0 {
			return BitRange{}, fmt.Errorf("invalid bit id %q", id)
		}
		return BitRange{Start: start, End: end}, nil
	}
	bit, err := strconv.Atoi(id)
	if err != nil || bit < 0 {
		return BitRange{}, fmt.Errorf("invalid bit id %q", id)
	}
	return BitRange{Start: bit, End: bit}, nil
}

// Width 位宽
func (r BitRange) Width() int {
	return r.End - r.Start + 1
}

// Span 覆盖的字节区间 [start, end)
func (r BitRange) Span() (int, int) {
	return r.Start / 8, r.End/8 + 1
}

// ExtractBits 取出位段并以高位在前的二进制串返回，如 "010"
// 覆盖字节超出数据长度时 ok 为false
func ExtractBits(data []byte, r BitRange, strip bool) (string, bool) {
	spanStart, spanEnd := r.Span()
	if spanEnd > len(data) || r.Width() > 64 {
		return "", false
	}
	span := MaybeStrip(data[spanStart:spanEnd], strip)
	value := LittleEndianUint(span)
	shift := uint(r.Start - spanStart*8)
	width := uint(r.Width())

	var mask uint64 = ^uint64(0)
	if width < 64 {
		mask = (uint64(1) << width) - 1
	}
	bits := (value >> shift) & mask
	return fmt.Sprintf("%0*b", int(width), bits), true
}

// BitArray 按 D7..D0 顺序返回单字节各位
func BitArray(b byte) [8]byte {
	var out [8]byte
	for i := 0; i < 8; i++ {
		out[i] = (b >> (7 - i)) & 1
	}
	return out
}
