package protocol

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// CSG13 下行报文控制域：DIR=0 PRM=1 功能码10(请求1级数据)
const csgDownControl byte = 0x4A

// CSG13Request 南网13规约下行报文参数
type CSG13Request struct {
	// Address 终端逻辑地址 A1+A2，12位十六进制，高字节在前
	Address string `json:"address"`
	// MSA 主站地址，取低4位
	MSA uint8 `json:"msa"`
	// AFN 应用层功能码，默认读当前数据
	AFN byte `json:"afn"`
	// Points 测量点号，0 为终端，0xFFFF 为全部测量点
	Points []int `json:"points"`
	// Items 数据标识编码，8位十六进制，高字节在前
	Items []string `json:"items"`
	// Values 写参数时各数据标识的数据内容
	Values map[string][]byte `json:"values,omitempty"`
}

// FrameBuilder 抄表报文构建器
// 南网报文的帧内序号由调用方提供的 SequenceGenerator 分配
type FrameBuilder struct {
	seq            *SequenceGenerator
	enableDebugLog bool
}

// NewFrameBuilder 创建报文构建器，seq 为nil时使用从0开始的独立序号
func NewFrameBuilder(seq *SequenceGenerator) *FrameBuilder {
	if seq == nil {
		seq = NewSequenceGenerator(0)
	}
	return &FrameBuilder{seq: seq}
}

// EnableDebugLog 打开构建日志
func (b *FrameBuilder) EnableDebugLog(on bool) {
	b.enableDebugLog = on
}

// BuildDLT645Read 构建645读数据报文
// 包结构：68 A0~A5 68 11 04 DI0~DI3 CS 16，数据域按字节加33H
func (b *FrameBuilder) BuildDLT645Read(address, item string) ([]byte, error) {
	// 1. 解析地址与数据标识
	addr, err := fixedHex(address, 6, "电表地址")
	if err != nil {
		return nil, err
	}
	di, err := fixedHex(item, 4, "数据标识")
	if err != nil {
		return nil, err
	}

	// 2. 报文头：地址低字节在前
	frame := make([]byte, 0, 16)
	frame = append(frame, dlt645StartByte)
	frame = append(frame, codec.Reverse(addr)...)
	frame = append(frame, dlt645StartByte, 0x11, 0x04)

	// 3. 数据域：数据标识低字节在前，加33H
	frame = append(frame, codec.AddOffset(codec.Reverse(di))...)

	// 4. 校验码与结束符
	frame = append(frame, codec.Sum(frame), dlt645EndByte)

	b.logFrame(ProtocolDLT645, frame)
	return frame, nil
}

// BuildCSG13 构建南网13规约下行报文，每个测量点与每个数据标识组成一个数据单元
func (b *FrameBuilder) BuildCSG13(req CSG13Request) ([]byte, error) {
	// 1. 参数校验
	addr, err := fixedHex(req.Address, 6, "终端地址")
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, errors.New(errors.ErrInvalidParameter, "数据标识不能为空")
	}
	afn := req.AFN
	if afn == 0 {
		afn = AFNReadCur
	}
	points := req.Points
	if len(points) == 0 {
		points = []int{0}
	}

	// 2. 报文头，长度域稍后回填
	frame := make([]byte, csgHeadLen, 64)
	frame[0], frame[5] = csgStartByte, csgStartByte
	frame[csgCtrlPos] = csgDownControl
	copy(frame[csgAddrPos:csgAddrPos+3], codec.Reverse(addr[:3]))
	copy(frame[csgAddrPos+3:csgAddrPos+6], codec.Reverse(addr[3:]))
	frame[csgAddrPos+6] = req.MSA & 0x0F
	frame[csgAFNPos] = afn

	// 3. 帧序号：单帧，写参数要求确认
	seq := 0x60 | b.seq.Next()
	if afn == AFNWrite {
		seq |= 0x10
	}
	frame[csgSeqPos] = seq

	// 4. 数据单元：同组测量点合并为一个DA
	for _, da := range daGroups(points) {
		for _, item := range req.Items {
			di, err := fixedHex(item, 4, "数据标识")
			if err != nil {
				return nil, err
			}
			frame = append(frame, da[0], da[1])
			frame = append(frame, codec.Reverse(di)...)
			if afn == AFNWrite {
				frame = append(frame, req.Values[strings.ToUpper(item)]...)
			}
		}
	}

	// 5. 写参数附带16字节消息验证码
	if afn == AFNWrite {
		frame = append(frame, make([]byte, csgPwLen)...)
	}

	// 6. 回填长度，追加校验码与结束符
	l := len(frame) - csgCtrlPos
	frame[1], frame[2] = byte(l), byte(l>>8)
	frame[3], frame[4] = frame[1], frame[2]
	frame = append(frame, codec.Sum(frame[csgCtrlPos:]), csgEndByte)

	b.logFrame(ProtocolCSG13, frame)
	return frame, nil
}

// ValidateFrame 校验报文结构与校验码
func (b *FrameBuilder) ValidateFrame(frame []byte) error {
	var from int
	switch Detect(frame) {
	case ProtocolCSG13:
		from = csgCtrlPos
	case ProtocolDLT645:
		from = preambleLen(frame)
	case ProtocolCSG16, ProtocolModule:
		from = ccoCtrlPos
	case ProtocolMS:
		// 采集任务内容没有校验和
		return nil
	default:
		return errors.New(errors.ErrFrameInvalid, "无法识别的报文结构")
	}

	cs := codec.Sum(frame[from : len(frame)-2])
	if cs != frame[len(frame)-2] {
		return errors.Newf(errors.ErrFrameInvalidChecksum, "校验码错误：期望0x%02X，实际0x%02X", cs, frame[len(frame)-2])
	}
	return nil
}

func (b *FrameBuilder) logFrame(protocol string, frame []byte) {
	if !b.enableDebugLog {
		return
	}
	logger.WithFields(logrus.Fields{
		"protocol": protocol,
		"length":   len(frame),
		"frame":    codec.FormatHex(frame),
	}).Debug("构建报文")
}

// daGroups 测量点转信息点标识，包含全部测量点时只生成一个 FFFF
func daGroups(points []int) [][2]byte {
	for _, p := range points {
		if p == codec.AllPoints {
			return [][2]byte{{0xFF, 0xFF}}
		}
	}
	var groups [][2]byte
	for _, p := range points {
		if p == 0 {
			groups = append(groups, [2]byte{0, 0})
			break
		}
	}
	var rest []int
	for _, p := range points {
		if p > 0 {
			rest = append(rest, p)
		}
	}
	return append(groups, codec.ToDAGroups(rest)...)
}

func fixedHex(text string, size int, what string) ([]byte, error) {
	data, err := codec.ParseHex(text)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidParameter, what+"格式错误", err)
	}
	if len(data) != size {
		return nil, errors.Newf(errors.ErrInvalidParameter, "%s长度错误：期望%d字节，实际%d字节", what, size, len(data))
	}
	return data, nil
}
