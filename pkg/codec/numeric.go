package codec

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

// InvalidData 全FF数据的显示文本
const InvalidData = "无效数据"

// AllFF 判断数据是否全部为0xFF
func AllFF(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// BCDToDecimal 小端BCD转十进制字符串
// decimals 为小数位数；sign 为true时最高字节的D7表示负号；strip 为true时先减33H
func BCDToDecimal(data []byte, decimals int, strip, sign bool) string {
	if len(data) == 0 {
		return ""
	}
	if AllFF(data) {
		return InvalidData
	}

	work := append([]byte(nil), MaybeStrip(data, strip)...)
	negative := false
	if sign && work[len(work)-1]&0x80 != 0 {
		negative = true
		work[len(work)-1] &= 0x7F
	}

	value := new(big.Int)
	hundred := big.NewInt(100)
	for i := len(work) - 1; i >= 0; i-- {
		digit := int64(work[i]>>4)*10 + int64(work[i]&0x0F)
		value.Mul(value, hundred)
		value.Add(value, big.NewInt(digit))
	}
	return formatScaled(value.String(), decimals, len(data), negative)
}

// BinToDecimal 小端二进制整数转十进制字符串
// judgeFF 为true时全FF数据返回 InvalidData
func BinToDecimal(data []byte, decimals int, strip, sign, judgeFF bool) string {
	if len(data) == 0 {
		return ""
	}
	if judgeFF && AllFF(data) {
		return InvalidData
	}

	work := append([]byte(nil), MaybeStrip(data, strip)...)
	negative := false
	if sign && work[len(work)-1]&0x80 != 0 {
		negative = true
		work[len(work)-1] &= 0x7F
	}

	value := new(big.Int).SetBytes(Reverse(work))
	return formatScaled(value.String(), decimals, len(data), negative)
}

// BinBEToDecimal 大端二进制整数转十进制字符串
func BinBEToDecimal(data []byte, decimals int, strip, sign bool) string {
	return BinToDecimal(Reverse(data), decimals, strip, sign, true)
}

// formatScaled 插入小数点并补齐前导零，宽度为字节数*2（有小数时再加1）
func formatScaled(digits string, decimals, byteLen int, negative bool) string {
	if decimals > 0 {
		if len(digits) <= decimals {
			digits = strings.Repeat("0", decimals-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-decimals] + "." + digits[len(digits)-decimals:]
	}

	width := byteLen * 2
	if decimals > 0 {
		width++
	}
	if len(digits) < width {
		digits = strings.Repeat("0", width-len(digits)) + digits
	}

	if negative {
		return "-" + digits
	}
	return digits
}

// ASCIIToString 截取到第一个0x00为止的ASCII文本
func ASCIIToString(data []byte) string {
	end := len(data)
	for i, b := range data {
		if b == 0 {
			end = i
			break
		}
	}
	text := string(data[:end])
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	return text
}

// Port 2字节小端端口号，长度不符时返回空串
func Port(data []byte) string {
	if len(data) != 2 {
		return ""
	}
	return strconv.FormatUint(uint64(data[0])|uint64(data[1])<<8, 10)
}

// IPv4 4字节逆序IP地址，长度不符时返回空串
func IPv4(data []byte) string {
	if len(data) != 4 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d", data[3], data[2], data[1], data[0])
}

// BinToBCD 每字节二进制数转为BCD编码
func BinToBCD(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = (b/10)<<4 + b%10
	}
	return out
}

// ToBCD 单字节十进制数(0~99)转BCD
func ToBCD(v int) byte {
	return byte((v/10)<<4 | v%10)
}

// BCDToInt 小端BCD转整数，strip 为true时先减33H
func BCDToInt(data []byte, strip bool) int {
	value := 0
	work := MaybeStrip(data, strip)
	for i := len(work) - 1; i >= 0; i-- {
		value = value*100 + int(work[i]>>4)*10 + int(work[i]&0x0F)
	}
	return value
}

// LittleEndianUint 小端无符号整数，超过8字节时只取低8字节
func LittleEndianUint(data []byte) uint64 {
	var value uint64
	n := len(data)
	if n > 8 {
		n = 8
	}
	for i := n - 1; i >= 0; i-- {
		value = value<<8 | uint64(data[i])
	}
	return value
}
