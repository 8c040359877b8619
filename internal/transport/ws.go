package transport

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn 把一条 WebSocket 连接包成 Transport
// 每个数据包对应一条二进制消息，消息边界由 WebSocket 自带。
type WSConn struct {
	conn *websocket.Conn
	peer string

	sendChan chan []byte
	recvChan chan []byte
	closeCh  chan struct{}
	closed   bool
	closeMu  sync.Mutex
}

// NewWSConn 包装已升级的 WebSocket 连接并启动收发循环
func NewWSConn(conn *websocket.Conn) *WSConn {
	c := &WSConn{
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

// DialWS 连接 WebSocket 服务端，url 形如 ws://host:port/sync
func DialWS(url string) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(conn), nil
}

// WSHandler 把升级后的连接交给回调，可直接挂到 http 路由上
func WSHandler(accept func(*WSConn)) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket 升级失败: %v", err)
			return
		}
		accept(NewWSConn(conn))
	}
}

func (c *WSConn) Send(b []byte, dest string) error {
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

func (c *WSConn) Receive() ([]byte, string, bool) {
	select {
	case b := <-c.recvChan:
		return b, c.peer, true
	default:
		return nil, "", false
	}
}

// Close 关闭连接，幂等
func (c *WSConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)
	return c.conn.Close()
}

// Closed 连接是否已关闭
func (c *WSConn) Closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *WSConn) sendLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case b := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				c.abort(err)
				return
			}
		}
	}
}

func (c *WSConn) receiveLoop() {
	for {
		kind, b, err := c.conn.ReadMessage()
		if err != nil {
			c.abort(err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case <-c.closeCh:
			return
		case c.recvChan <- b:
		default:
			log.Printf("对端 %s: 入站队列满，丢弃一帧", c.peer)
		}
	}
}

func (c *WSConn) abort(err error) {
	if !c.Closed() {
		log.Printf("对端 %s: 连接中断: %v", c.peer, err)
	}
	c.Close()
}
