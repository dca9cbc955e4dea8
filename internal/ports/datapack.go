package ports

import (
	"github.com/aceld/zinx/ziface"
	"github.com/aceld/zinx/zpack"
)

// RawDataPack 不加包头的封包器，回复内容原样写回连接
type RawDataPack struct{}

// NewRawDataPack 创建封包器
func NewRawDataPack() ziface.IDataPack {
	return &RawDataPack{}
}

// GetHeadLen 没有包头
func (dp *RawDataPack) GetHeadLen() uint32 {
	return 0
}

// Pack 直接返回消息数据
func (dp *RawDataPack) Pack(msg ziface.IMessage) ([]byte, error) {
	return msg.GetData(), nil
}

// Unpack 整段数据作为一条报文消息
func (dp *RawDataPack) Unpack(data []byte) (ziface.IMessage, error) {
	return zpack.NewMsgPackage(MsgIDFrame, data), nil
}
