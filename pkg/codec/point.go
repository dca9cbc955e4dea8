package codec

import (
	"sort"
	"strconv"
	"strings"
)

// AllPoints DA=FFFF 表示除终端以外的所有测量点
const AllPoints = 0xFFFF

// MeasurementPoints 根据信息点标识 DA1(位图) DA2(组号) 计算测量点号
// DA=0000 返回 [0]（终端），DA=FFFF 返回 [0xFFFF]
func MeasurementPoints(da1, da2 byte) []int {
	switch {
	case da1 == 0xFF && da2 == 0xFF:
		return []int{AllPoints}
	case da1 == 0 && da2 == 0:
		return []int{0}
	case da2 == 0:
		return nil
	}

	base := (int(da2) - 1) * 8
	points := make([]int, 0, 8)
	for bit := 0; bit < 8; bit++ {
		if da1>>bit&1 == 1 {
			points = append(points, base+bit+1)
		}
	}
	return points
}

// DescribePoints 信息点标识的文字描述
func DescribePoints(da []byte) string {
	if len(da) < 2 {
		return "Pn解析失败"
	}
	points := MeasurementPoints(da[0], da[1])
	switch {
	case len(points) == 0:
		return "Pn解析失败"
	case len(points) == 1 && points[0] == 0:
		return "Pn=测量点:0(终端)"
	case len(points) == 1 && points[0] == AllPoints:
		return "Pn=测量点:FFFF(除了终端信息点以外的所有测量点)"
	}

	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = strconv.Itoa(p)
	}
	return "Pn=第" + strings.Join(parts, ", ") + "测量点"
}

// ToDA 测量点号转信息点标识
func ToDA(point int) (byte, byte) {
	if point == 0 {
		return 0, 0
	}
	if point == AllPoints {
		return 0xFF, 0xFF
	}
	low := (point - 1) % 8
	high := (point - 1) / 8
	return byte(1 << low), byte(high + 1)
}

// ToDAGroups 将多个测量点按组合并，同一组的测量点共用一个DA
func ToDAGroups(points []int) [][2]byte {
	groups := make(map[byte]byte)
	order := make([]byte, 0)
	for _, p := range points {
		da1, da2 := ToDA(p)
		if _, ok := groups[da2]; !ok {
			order = append(order, da2)
		}
		groups[da2] |= da1
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([][2]byte, 0, len(order))
	for _, da2 := range order {
		out = append(out, [2]byte{groups[da2], da2})
	}
	return out
}
