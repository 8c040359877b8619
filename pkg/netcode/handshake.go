package netcode

import (
	"errors"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedHandshake = errors.New("握手消息损坏")

// Hello 客户端的入场请求：令牌加本端协议校验和
type Hello struct {
	Token    string
	Checksum uint64
}

// Welcome 服务端的接纳回执
type Welcome struct {
	ClientID int32
	Checksum uint64
}

// EncodeHello 编码入场请求
func EncodeHello(h Hello) []byte {
	b := protowire.AppendVarint(nil, h.Checksum)
	b = protowire.AppendString(b, h.Token)
	return b
}

// DecodeHello 解码入场请求
func DecodeHello(b []byte) (Hello, error) {
	var h Hello
	sum, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return h, ErrMalformedHandshake
	}
	b = b[n:]
	token, n := protowire.ConsumeString(b)
	if n < 0 {
		return h, ErrMalformedHandshake
	}
	h.Checksum = sum
	h.Token = token
	return h, nil
}

// EncodeWelcome 编码接纳回执
func EncodeWelcome(w Welcome) []byte {
	b := protowire.AppendVarint(nil, uint64(uint32(w.ClientID)))
	b = protowire.AppendVarint(b, w.Checksum)
	return b
}

// DecodeWelcome 解码接纳回执
func DecodeWelcome(b []byte) (Welcome, error) {
	var w Welcome
	id, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return w, ErrMalformedHandshake
	}
	b = b[n:]
	sum, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return w, ErrMalformedHandshake
	}
	w.ClientID = int32(uint32(id))
	w.Checksum = sum
	return w, nil
}

// Accept 服务端处理入场请求
// 先验令牌再比校验和，两步任何一步失败都在复制开始前拒绝连接。
func Accept(h Hello, protocolID uint64, localChecksum uint64) (int32, time.Duration, error) {
	clientID, timeout, _, err := ValidateToken(h.Token, protocolID)
	if err != nil {
		return 0, 0, err
	}
	if h.Checksum != localChecksum {
		return 0, 0, &ProtocolMismatch{Local: localChecksum, Remote: h.Checksum}
	}
	return clientID, timeout, nil
}

// ========== 会话保活 ==========

// Session 跟踪一条已建立会话的静默超时与保活节奏
type Session struct {
	timeout  time.Duration
	lastRecv time.Time
	lastSent time.Time
}

// NewSession 创建会话计时器
func NewSession(timeout time.Duration, now time.Time) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{timeout: timeout, lastRecv: now, lastSent: now}
}

// Touch 收到任何对端数据时调用
func (s *Session) Touch(now time.Time) {
	s.lastRecv = now
}

// Sent 发出任何数据时调用
func (s *Session) Sent(now time.Time) {
	s.lastSent = now
}

// NeedKeepalive 距上次发送超过保活间隔时需要发一个保活包
func (s *Session) NeedKeepalive(now time.Time) bool {
	return now.Sub(s.lastSent) >= KeepaliveInterval
}

// Expired 对端静默超过超时窗口，会话作废
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.lastRecv) >= s.timeout
}
