package codec

import (
	"math/bits"

	"github.com/sigurn/crc16"
)

// x25Table PPP 帧校验使用的 CRC-16/X-25 参数表
var x25Table = crc16.MakeTable(crc16.Params{
	Poly:   0x1021,
	Init:   0xFFFF,
	RefIn:  true,
	RefOut: true,
	XorOut: 0xFFFF,
	Check:  0x906E,
	Name:   "CRC-16/X-25",
})

// Sum 计算累加和校验（模256）
func Sum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs += b
	}
	return cs
}

// VerifySum 判断校验字节是否等于累加和
func VerifySum(data []byte, cs byte) bool {
	return Sum(data) == cs
}

// PPPFCS16 以反射形式累计 PPP FCS16（RFC1662），fcs 为上一次的结果
// 首次计算时传入 0xFFFF，最终结果需要再异或 0xFFFF
func PPPFCS16(fcs uint16, data []byte) uint16 {
	return bits.Reverse16(crc16.Update(bits.Reverse16(fcs), data, x25Table))
}

// FCS16 计算完整的 CRC-16/X-25 校验值
func FCS16(data []byte) uint16 {
	return crc16.Checksum(data, x25Table)
}
