// Package transport 网络收发边界
// 核心逻辑单线程、按 tick 驱动，传输层的后台 goroutine 只负责
// 把原始字节搬进线程安全的入站队列，核心在每 tick 开头同步排空。
package transport

import (
	"errors"
	"sync"
)

var (
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("传输已关闭")
	// ErrSendQueueFull 发送队列满
	ErrSendQueueFull = errors.New("发送队列满")
)

// 队列缓冲区大小
const queueDepth = 256

// Transport 核心需要的全部收发能力
// Send 入队即返回，Receive 非阻塞，队列空时第三个返回值为 false。
type Transport interface {
	Send(b []byte, dest string) error
	Receive() (b []byte, src string, ok bool)
	Close() error
}

// ========== 进程内通道对 ==========

// memoryEnd 进程内传输的一端，测试与单进程仿真使用
type memoryEnd struct {
	name      string
	out       chan []byte
	in        chan []byte
	closed    chan struct{}
	closeOnce *sync.Once
}

// NewMemoryPair 创建互联的进程内传输对
func NewMemoryPair() (Transport, Transport) {
	ab := make(chan []byte, queueDepth)
	ba := make(chan []byte, queueDepth)
	closed := make(chan struct{})
	once := &sync.Once{}
	a := &memoryEnd{name: "a", out: ab, in: ba, closed: closed, closeOnce: once}
	b := &memoryEnd{name: "b", out: ba, in: ab, closed: closed, closeOnce: once}
	return a, b
}

func (m *memoryEnd) Send(b []byte, dest string) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	select {
	case m.out <- buf:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (m *memoryEnd) Receive() ([]byte, string, bool) {
	select {
	case b := <-m.in:
		return b, m.peer(), true
	default:
		return nil, "", false
	}
}

func (m *memoryEnd) peer() string {
	if m.name == "a" {
		return "b"
	}
	return "a"
}

func (m *memoryEnd) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
