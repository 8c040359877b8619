package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

const (
	// MaxFrameSize 单帧上限，高于 MTU 留足余量
	MaxFrameSize = 4096

	writeTimeout = 1 * time.Second
)

// Conn 把一条 net.Conn 包成核心需要的 Transport
// 帧格式为 2 字节长度前缀加帧体；收发各一个后台 goroutine，
// 核心只接触非阻塞的入站/出站队列。
type Conn struct {
	conn net.Conn
	peer string

	sendChan chan []byte
	recvChan chan []byte
	closeCh  chan struct{}
	closed   bool
	closeMu  sync.Mutex
}

// NewConn 包装已建立的连接并启动收发循环
func NewConn(conn net.Conn) *Conn {
	c := &Conn{
		conn:     conn,
		peer:     conn.RemoteAddr().String(),
		sendChan: make(chan []byte, queueDepth),
		recvChan: make(chan []byte, queueDepth),
		closeCh:  make(chan struct{}),
	}
	go c.sendLoop()
	go c.receiveLoop()
	return c
}

func (c *Conn) Send(b []byte, dest string) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("帧过大: %d 字节", len(b))
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	select {
	case <-c.closeCh:
		return ErrClosed
	case c.sendChan <- buf:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) Receive() ([]byte, string, bool) {
	select {
	case b := <-c.recvChan:
		return b, c.peer, true
	default:
		return nil, "", false
	}
}

// Close 关闭连接，幂等
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)
	return c.conn.Close()
}

// Closed 连接是否已关闭（本端主动或对端断开）
func (c *Conn) Closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *Conn) sendLoop() {
	header := make([]byte, 2)
	for {
		select {
		case <-c.closeCh:
			return
		case b := <-c.sendChan:
			binary.BigEndian.PutUint16(header, uint16(len(b)))
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(header); err != nil {
				c.abort(err)
				return
			}
			if _, err := c.conn.Write(b); err != nil {
				c.abort(err)
				return
			}
		}
	}
}

func (c *Conn) receiveLoop() {
	header := make([]byte, 2)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			c.abort(err)
			return
		}
		size := binary.BigEndian.Uint16(header)
		if size > MaxFrameSize {
			c.abort(fmt.Errorf("帧长度非法: %d", size))
			return
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			c.abort(err)
			return
		}
		select {
		case <-c.closeCh:
			return
		case c.recvChan <- body:
		default:
			// 核心排空不及时，丢帧保活
			log.Printf("对端 %s: 入站队列满，丢弃一帧", c.peer)
		}
	}
}

func (c *Conn) abort(err error) {
	if !c.Closed() {
		log.Printf("对端 %s: 连接中断: %v", c.peer, err)
	}
	c.Close()
}
