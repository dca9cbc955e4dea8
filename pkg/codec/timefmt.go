package codec

import (
	"fmt"
	"strings"
)

// DefaultTimeFormat 未配置时间格式时使用的字节排列（低字节在前）
const DefaultTimeFormat = "ssmmhhWWDDMMYYCC"

// 输出顺序固定为 世纪 年 月 日 星期 时 分 秒 毫秒，与输入的字节排列无关
var timeTokens = []struct {
	token  string
	suffix string
}{
	{"CC", ""},
	{"YY", "年"},
	{"MM", "月"},
	{"DD", "日"},
	{"WW", ""},
	{"hh", "时"},
	{"mm", "分"},
	{"ss", "秒"},
	{"xxxx", "毫秒"},
}

var weekdays = []string{"天", "一", "二", "三", "四", "五", "六"}

// FormatTime 按格式串把BCD时间字节渲染为可读文本
// format 中每两个字符对应一个字节，如 "ssmmhhDDMMYY" 表示第0字节为秒
func FormatTime(data []byte, format string, strip bool) string {
	if format == "" {
		format = DefaultTimeFormat
	}
	work := MaybeStrip(data, strip)

	var sb strings.Builder
	for _, tk := range timeTokens {
		idx := tokenIndex(format, tk.token)
		if idx < 0 {
			continue
		}
		pos := idx / 2

		switch tk.token {
		case "xxxx":
			if pos+1 < len(work) {
				value := uint16(work[pos])<<8 | uint16(work[pos+1])
				fmt.Fprintf(&sb, "%04X%s", value, tk.suffix)
			}
		case "WW":
			if pos < len(work) {
				sb.WriteString(Weekday(work[pos]))
			}
		default:
			if pos < len(work) {
				fmt.Fprintf(&sb, "%02X%s", work[pos], tk.suffix)
			}
		}
	}
	return sb.String()
}

// Weekday 0~6 转为 星期天~星期六
func Weekday(v byte) string {
	if int(v) < len(weekdays) {
		return "星期" + weekdays[v]
	}
	return "未知"
}

// tokenIndex 只在偶数位置查找，避免跨字节误匹配
func tokenIndex(format, token string) int {
	for i := 0; i+len(token) <= len(format); i += 2 {
		if format[i:i+len(token)] == token {
			return i
		}
	}
	return -1
}
