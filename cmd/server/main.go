package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"netsync/internal/server"
	"netsync/pkg/components"
	"netsync/pkg/replication"
	"netsync/pkg/tick"
	"netsync/pkg/world"
)

func main() {
	// 命令行参数
	address := flag.String("addr", ":8080", "服务器监听地址")
	proto := flag.String("proto", "tcp", "传输协议 (tcp 或 kcp)")
	tps := flag.Int("tps", server.DefaultTPS, "服务器 tick 频率")
	protocolID := flag.Uint64("protocol", 1, "协议号，客户端令牌必须匹配")
	flag.Parse()

	// 注册组件并搭建权威世界
	reg := world.NewRegistry()
	ids, err := components.Register(reg, components.Thresholds{
		PositionEpsilon: 0.01,
		RotationEpsilon: 0.001,
	})
	if err != nil {
		log.Fatalf("注册组件失败: %v", err)
	}
	reg.Seal()

	w := world.NewMemWorld()
	orbiter := w.Spawn()
	w.Insert(orbiter, ids.Position, components.Position{})
	w.Insert(orbiter, ids.Velocity, components.Velocity{})

	// 演示用仿真：一个实体绕原点匀速转圈
	var srv *server.Server
	hooks := server.Hooks{
		OnConnect: func(peer replication.PeerID, clientID int32) {
			log.Printf("客户端 %d 已接入 (对端 %d)", clientID, peer)
			snd := srv.Sender()
			snd.AddEntity(orbiter, 0, 0)
			snd.SetVisibility(peer, orbiter, true)
		},
		OnDisconnect: func(peer replication.PeerID) {
			log.Printf("对端 %d 已断开", peer)
		},
		OnInput: func(peer replication.PeerID, t tick.Tick, payload []byte) {
			// 演示服务器不消费输入，只确认收到
		},
		Simulate: func(w world.World, t tick.Tick) {
			angle := float32(uint16(t)) * 0.05
			p := components.Position{V: mgl32.Vec2{
				3 * math32.Cos(angle),
				3 * math32.Sin(angle),
			}}
			w.Set(orbiter, ids.Position, p)
			srv.Sender().MarkChanged(orbiter, ids.Position)
		},
	}

	srv, err = server.New(server.Config{
		Addr:       *address,
		Proto:      *proto,
		TPS:        *tps,
		ProtocolID: *protocolID,
	}, reg, w, hooks)
	if err != nil {
		log.Fatalf("创建服务器失败: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("服务器启动失败: %v", err)
	}

	log.Println("========================================")
	log.Println("  netsync 同步演示服务器")
	log.Println("========================================")
	log.Printf("监听地址: %s (%s)", *address, *proto)
	log.Printf("协议号: %d", *protocolID)
	log.Printf("服务器 TPS: %d", *tps)
	log.Printf("注册表校验和: %016x", srv.Checksum())
	log.Println("========================================")
	log.Println("按 Ctrl+C 停止服务器")

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("正在关闭服务器...")
	srv.Shutdown()
	log.Println("服务器已关闭")
}
