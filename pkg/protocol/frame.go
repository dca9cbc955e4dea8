package protocol

// MaxFrameLen 单帧报文最大长度，南网报文长度域为2字节
const MaxFrameLen = 0xFFFF + csgExtraLen

// SplitFrames 从字节流中切分出完整报文
// frames 为按到达顺序排列的完整报文(645报文保留唤醒符)，rest 为尚未收齐的剩余数据，
// 无法构成报文的字节被丢弃
func SplitFrames(buf []byte) (frames [][]byte, rest []byte) {
	i := 0
	for i < len(buf) {
		// 1. 定位起始：唤醒符或起始符
		if buf[i] != dlt645Preamble && buf[i] != csgStartByte {
			i++
			continue
		}
		start := i
		p := i + preambleLen(buf[i:])
		if p >= len(buf) {
			return frames, buf[start:]
		}
		if buf[p] != csgStartByte {
			i = p
			continue
		}

		// 2. 按报文头判断长度
		size, ok, wait := frameSize(buf[p:])
		if wait {
			return frames, buf[start:]
		}
		if !ok {
			i = p + 1
			continue
		}

		// 3. 南网报文不带唤醒符
		if p-start > 0 && IsCSG13(buf[p:p+size]) {
			start = p
		}
		frames = append(frames, buf[start:p+size])
		i = p + size
	}
	return frames, nil
}

// frameSize 以0x68开头的数据中第一帧的长度
// wait 为true表示数据不足以判断，ok 为false表示不是报文起始
func frameSize(b []byte) (size int, ok, wait bool) {
	if len(b) < 6 {
		return 0, false, true
	}
	if b[5] == csgStartByte && b[1] == b[3] && b[2] == b[4] {
		size = int(b[2])<<8 | int(b[1]) + csgExtraLen
		if size >= csgMinLen {
			if size > len(b) {
				return 0, false, true
			}
			if b[size-1] == csgEndByte {
				return size, true, false
			}
		}
	}
	if len(b) < 10 {
		return 0, false, true
	}
	if b[7] != dlt645StartByte {
		return 0, false, false
	}
	size = int(b[9]) + dlt645MinLen
	if size > len(b) {
		return 0, false, true
	}
	if b[size-1] != dlt645EndByte {
		return 0, false, false
	}
	return size, true, false
}
