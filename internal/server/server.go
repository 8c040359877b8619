// Package server 权威端装配
// 单线程 tick 循环驱动全部协议逻辑：排空入站、处理握手与对时、
// 读取输入、推进仿真、下发复制、拼包发送。网络 I/O 留在传输层的
// 后台 goroutine 里，核心只接触队列。
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"netsync/internal/session"
	"netsync/internal/transport"
	"netsync/pkg/channel"
	"netsync/pkg/netcode"
	"netsync/pkg/replication"
	"netsync/pkg/tick"
	"netsync/pkg/world"
)

const (
	// DefaultTPS 每秒仿真 tick 数
	DefaultTPS = 30
)

// Config 服务端配置
type Config struct {
	Addr       string
	Proto      string // tcp 或 kcp，空则不监听（用 AttachTransport 注入连接）
	TPS        int
	ProtocolID uint64
	// BytesPerSecond 单对端复制流量预算，0 不限
	BytesPerSecond int
}

// Hooks 宿主应用的回调，全部在 tick 循环线程上执行
type Hooks struct {
	// OnConnect 对端通过握手后调用
	OnConnect func(peer replication.PeerID, clientID int32)
	// OnDisconnect 对端断开或超时后调用
	OnDisconnect func(peer replication.PeerID)
	// OnInput 收到某对端在当前 tick 的输入
	OnInput func(peer replication.PeerID, t tick.Tick, payload []byte)
	// Simulate 每 tick 推进一次权威仿真
	Simulate func(w world.World, t tick.Tick)
}

// peer 一条已接入的对端连接
type peer struct {
	id       replication.PeerID
	clientID int32
	ep       *session.Endpoint
	tr       transport.Transport
	sess     *netcode.Session
	accepted bool
}

// Server 权威端
type Server struct {
	cfg      Config
	hooks    Hooks
	comps    *world.Registry
	world    world.World
	sender   *replication.Sender
	template *channel.Registry
	checksum uint64

	timeline *tick.Timeline
	current  tick.Tick

	peers    map[replication.PeerID]*peer
	nextPeer replication.PeerID
	pending  chan transport.Transport

	listener transport.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New 创建服务端
func New(cfg Config, comps *world.Registry, w world.World, hooks Hooks) (*Server, error) {
	if cfg.TPS <= 0 {
		cfg.TPS = DefaultTPS
	}
	template := channel.NewRegistry()
	if err := session.RegisterChannels(template); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	src := w
	s := &Server{
		cfg:      cfg,
		hooks:    hooks,
		comps:    comps,
		world:    src,
		template: template,
		checksum: session.Checksum(template, comps),
		timeline: tick.NewTimeline(time.Second / time.Duration(cfg.TPS)),
		peers:    make(map[replication.PeerID]*peer),
		nextPeer: 1,
		pending:  make(chan transport.Transport, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.sender = replication.NewSender(comps, src, replication.SenderConfig{
		BytesPerSecond: cfg.BytesPerSecond,
	})
	return s, nil
}

// World 权威世界，只能在 Simulate 回调里改动
func (s *Server) World() world.World { return s.world }

// Sender 复制发送端，只能在 Simulate 回调里改动
func (s *Server) Sender() *replication.Sender { return s.sender }

// CurrentTick 当前权威 tick
func (s *Server) CurrentTick() tick.Tick { return s.current }

// Checksum 本端协议校验和
func (s *Server) Checksum() uint64 { return s.checksum }

// AttachTransport 把一条已建立的传输注入接入队列
// 进程内对端和 WebSocket 升级回调都走这里。
func (s *Server) AttachTransport(tr transport.Transport) {
	select {
	case s.pending <- tr:
	default:
		log.Println("接入队列满，拒绝新连接")
		tr.Close()
	}
}

// Start 启动监听与 tick 循环，阻塞到 ctx 取消
func (s *Server) Start() error {
	if s.cfg.Proto != "" {
		listener, err := transport.NewListener(s.cfg.Proto, s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("监听失败: %w", err)
		}
		s.listener = listener
		log.Printf("服务器监听中: %s/%s", s.cfg.Proto, s.cfg.Addr)

		s.wg.Add(1)
		go s.acceptLoop()
	}

	s.wg.Add(1)
	go s.run()
	return nil
}

// Shutdown 停止服务并等待全部 goroutine 退出
func (s *Server) Shutdown() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			log.Printf("接受连接失败: %v", err)
			continue
		}
		s.AttachTransport(transport.NewConn(conn))
	}
}

func (s *Server) run() {
	defer s.wg.Done()

	tickDuration := s.timeline.TickDuration()
	ticker := time.NewTicker(tickDuration)
	defer ticker.Stop()

	log.Printf("服务端循环启动: %d TPS", s.cfg.TPS)
	last := time.Now()

	for {
		select {
		case <-s.ctx.Done():
			s.closeAll()
			log.Println("服务端循环停止")
			return
		case now := <-ticker.C:
			s.Tick(now.Sub(last), now)
			last = now
		}
	}
}

// Tick 推进一个完整的服务端帧，测试可直接驱动
func (s *Server) Tick(dt time.Duration, now time.Time) {
	s.acceptPending(now)

	// 1. 排空入站
	for _, p := range s.peers {
		if p.ep.Drain() > 0 && p.sess != nil {
			p.sess.Touch(now)
		}
	}

	// 2. 会话层消息
	for id, p := range s.peers {
		s.handleHandshake(p, now)
		s.handlePings(p)
		s.handleAcks(p)
		if closed, ok := p.tr.(interface{ Closed() bool }); ok && closed.Closed() {
			s.disconnect(id, "传输关闭")
		}
	}

	// 3. 推进仿真
	crossed := s.timeline.Advance(dt)
	base := s.timeline.CurrentTick()
	for i := 0; i < crossed; i++ {
		s.stepSimulation(base.Add(i+1-crossed), now)
	}
	s.current = base

	// 4. 下发复制
	for _, p := range s.peers {
		if !p.accepted {
			continue
		}
		for _, payload := range s.sender.CollectActions(p.id) {
			if err := p.ep.SendOn(session.ChActions, payload, s.current); err != nil {
				log.Printf("对端 %d: 结构消息入队失败: %v", p.id, err)
			}
		}
		for _, payload := range s.sender.CollectUpdates(p.id, now) {
			if err := p.ep.SendOn(session.ChUpdates, payload, s.current); err != nil {
				log.Printf("对端 %d: 更新消息入队失败: %v", p.id, err)
			}
		}
	}

	// 5. 定时逻辑、保活与发送
	for id, p := range s.peers {
		p.ep.Update(now, s.current)
		if p.sess != nil && p.sess.NeedKeepalive(now) {
			p.ep.SendOn(session.ChPing, session.EncodePing(session.Ping{SentAt: now.UnixNano()}), s.current)
		}
		sent, err := p.ep.Flush()
		if err != nil {
			s.disconnect(id, fmt.Sprintf("发送失败: %v", err))
			continue
		}
		if sent && p.sess != nil {
			p.sess.Sent(now)
		}
		if p.sess != nil && p.sess.Expired(now) {
			s.disconnect(id, "会话静默超时")
		}
	}
}

func (s *Server) acceptPending(now time.Time) {
	for {
		select {
		case tr := <-s.pending:
			id := s.nextPeer
			s.nextPeer++
			s.peers[id] = &peer{
				id: id,
				ep: session.NewEndpoint(s.template.Clone(), tr),
				tr: tr,
				// 握手完成前先按默认超时计时，防止半开连接堆积
				sess: netcode.NewSession(netcode.DefaultTimeout, now),
			}
			log.Printf("对端 %d: 连接接入", id)
		default:
			return
		}
	}
}

// handleHandshake 处理入场请求：验令牌、比校验和，接纳后回执
func (s *Server) handleHandshake(p *peer, now time.Time) {
	for _, payload := range p.ep.ReadAll(session.ChHandshake) {
		if p.accepted {
			// 回执丢失导致的重发，幂等地再回一次
			s.sendWelcome(p)
			continue
		}
		hello, err := netcode.DecodeHello(payload)
		if err != nil {
			log.Printf("对端 %d: 入场请求损坏: %v", p.id, err)
			continue
		}
		clientID, timeout, err := netcode.Accept(hello, s.cfg.ProtocolID, s.checksum)
		if err != nil {
			log.Printf("对端 %d: 入场被拒: %v", p.id, err)
			var mismatch *netcode.ProtocolMismatch
			if errors.As(err, &mismatch) || errors.Is(err, netcode.ErrTokenExpired) ||
				errors.Is(err, netcode.ErrTokenForged) || errors.Is(err, netcode.ErrTokenScope) {
				s.disconnect(p.id, "认证失败")
				return
			}
			continue
		}

		p.accepted = true
		p.clientID = clientID
		p.sess = netcode.NewSession(timeout, now)
		s.sender.AddPeer(p.id)
		s.sendWelcome(p)
		log.Printf("对端 %d: 接纳客户端 %d", p.id, clientID)
		if s.hooks.OnConnect != nil {
			s.hooks.OnConnect(p.id, clientID)
		}
	}
}

func (s *Server) sendWelcome(p *peer) {
	payload := netcode.EncodeWelcome(netcode.Welcome{ClientID: p.clientID, Checksum: s.checksum})
	if err := p.ep.SendOn(session.ChHandshake, payload, s.current); err != nil {
		log.Printf("对端 %d: 回执入队失败: %v", p.id, err)
	}
}

// handlePings 应答对时探测
func (s *Server) handlePings(p *peer) {
	for _, payload := range p.ep.ReadAll(session.ChPing) {
		ping, err := session.DecodePing(payload)
		if err != nil {
			// 可能是对端发来的 pong（服务端保活探测的应答），忽略
			continue
		}
		pong := session.Pong{SentAt: ping.SentAt, Remote: s.timeline.Now()}
		p.ep.SendOn(session.ChPing, session.EncodePong(pong), s.current)
	}
}

// handleAcks 处理复制回执
func (s *Server) handleAcks(p *peer) {
	for _, payload := range p.ep.ReadAll(session.ChAcks) {
		m, err := replication.Decode(payload)
		if err != nil || m.Kind != replication.MsgAck {
			log.Printf("对端 %d: 回执损坏，丢弃", p.id)
			continue
		}
		s.sender.OnAck(p.id, m.Acks)
	}
}

// stepSimulation 推进一个权威 tick
func (s *Server) stepSimulation(t tick.Tick, now time.Time) {
	s.current = t
	s.sender.Advance(t)

	// 输入通道按 tick 缓冲，推进通道 tick 后恰好投递本 tick 的输入
	for _, p := range s.peers {
		if !p.accepted {
			continue
		}
		p.ep.Update(now, t)
		for _, payload := range p.ep.ReadAll(session.ChInput) {
			if s.hooks.OnInput != nil {
				s.hooks.OnInput(p.id, t, payload)
			}
		}
	}

	if s.hooks.Simulate != nil {
		s.hooks.Simulate(s.world, t)
	}
}

func (s *Server) disconnect(id replication.PeerID, reason string) {
	p, ok := s.peers[id]
	if !ok {
		return
	}
	log.Printf("对端 %d: 断开 (%s)", id, reason)
	delete(s.peers, id)
	s.sender.RemovePeer(id)
	p.tr.Close()
	if p.accepted && s.hooks.OnDisconnect != nil {
		s.hooks.OnDisconnect(id)
	}
}

func (s *Server) closeAll() {
	for id := range s.peers {
		s.disconnect(id, "服务端关闭")
	}
}
