package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatHex 将字节序列格式化为以空格分隔的大写十六进制字符串，如 "68 11 22"
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(data) * 3)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// FormatHexCompact 将字节序列格式化为无空格的大写十六进制字符串
func FormatHexCompact(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// FormatHexReversed 逆序后格式化为无空格的大写十六进制字符串，用于小端数据的人工阅读
func FormatHexReversed(data []byte) string {
	return FormatHexCompact(Reverse(data))
}

// RenderHex 按需去除0x33偏移、逆序、加空格后输出十六进制字符串
func RenderHex(data []byte, strip, reverse, space bool) string {
	current := data
	if strip {
		current = StripOffset(current)
	}
	if reverse {
		current = Reverse(current)
	}
	if space {
		return FormatHex(current)
	}
	return FormatHexCompact(current)
}

// ParseHex 解析十六进制文本，忽略空白字符
func ParseHex(text string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, text)
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("hex length %d is odd", len(cleaned))
	}
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

// NormalizeHex 把输入的十六进制文本整理为 "68 11 22" 的格式
func NormalizeHex(text string) (string, error) {
	data, err := ParseHex(text)
	if err != nil {
		return "", err
	}
	return FormatHex(data), nil
}

// Reverse 返回逆序后的新切片，不修改入参
func Reverse(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[len(data)-1-i] = b
	}
	return out
}
