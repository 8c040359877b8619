package wire

import "google.golang.org/protobuf/encoding/protowire"

const (
	// DefaultMTU 数据包上限，留出底层传输头部余量
	DefaultMTU = 1200

	// recordOverhead 单条记录的头部预估（通道 id + 长度前缀）
	recordOverhead = 6
)

// PacketBuilder 把多条通道记录装进一个受 MTU 约束的数据包
type PacketBuilder struct {
	mtu     int
	records []record
	size    int
}

type record struct {
	channelID uint8
	msg       []byte
}

// NewPacketBuilder 创建数据包构造器
func NewPacketBuilder(mtu int) *PacketBuilder {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &PacketBuilder{mtu: mtu}
}

// Fits 判断再装一条消息是否会超出 MTU
func (p *PacketBuilder) Fits(msg []byte) bool {
	return p.size+len(msg)+recordOverhead <= p.mtu
}

// Append 追加一条通道记录，超出 MTU 时返回 false 且不追加
func (p *PacketBuilder) Append(channelID uint8, msg []byte) bool {
	if !p.Fits(msg) {
		return false
	}
	p.records = append(p.records, record{channelID: channelID, msg: msg})
	p.size += len(msg) + recordOverhead
	return true
}

// Empty 判断当前数据包是否为空
func (p *PacketBuilder) Empty() bool {
	return len(p.records) == 0
}

// Bytes 编码当前数据包并清空构造器
// 记录头部 varint = 通道 id << 1 | 续传标志，续传标志为 1 表示后面还有记录
func (p *PacketBuilder) Bytes() []byte {
	if len(p.records) == 0 {
		return nil
	}

	buf := make([]byte, 0, p.size)
	for i, r := range p.records {
		header := uint64(r.channelID) << 1
		if i < len(p.records)-1 {
			header |= 1
		}
		buf = protowire.AppendVarint(buf, header)
		buf = protowire.AppendVarint(buf, uint64(len(r.msg)))
		buf = append(buf, r.msg...)
	}

	p.records = p.records[:0]
	p.size = 0
	return buf
}

// PacketReader 逐条读出数据包里的通道记录
type PacketReader struct {
	buf []byte
}

// NewPacketReader 创建数据包读取器
func NewPacketReader(buf []byte) *PacketReader {
	return &PacketReader{buf: buf}
}

// Next 读取下一条记录，读完返回 false
func (p *PacketReader) Next() (channelID uint8, msg []byte, ok bool, err error) {
	if len(p.buf) == 0 {
		return 0, nil, false, nil
	}

	header, n := protowire.ConsumeVarint(p.buf)
	if n < 0 {
		return 0, nil, false, ErrMalformed
	}
	p.buf = p.buf[n:]

	length, n := protowire.ConsumeVarint(p.buf)
	if n < 0 {
		return 0, nil, false, ErrMalformed
	}
	p.buf = p.buf[n:]

	if uint64(len(p.buf)) < length {
		return 0, nil, false, ErrMalformed
	}

	msg = p.buf[:length]
	p.buf = p.buf[length:]

	// 续传标志为 0 时忽略后续残留字节
	if header&1 == 0 {
		p.buf = nil
	}

	return uint8(header >> 1), msg, true, nil
}
