package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netsync/internal/client"
	"netsync/internal/transport"
	"netsync/pkg/components"
	"netsync/pkg/netcode"
	"netsync/pkg/timesync"
	"netsync/pkg/world"
)

func main() {
	// 命令行参数
	address := flag.String("addr", "127.0.0.1:8080", "服务器地址")
	proto := flag.String("proto", "tcp", "传输协议 (tcp 或 kcp)")
	tps := flag.Int("tps", 30, "仿真 tick 频率，须与服务器一致")
	protocolID := flag.Uint64("protocol", 1, "协议号")
	clientID := flag.Int("id", 1, "客户端 id")
	token := flag.String("token", "", "连接令牌，空则用共享密钥现签一张")
	flag.Parse()

	// 注册表必须和服务器逐项一致，否则握手时校验和不符
	reg := world.NewRegistry()
	ids, err := components.Register(reg, components.Thresholds{
		PositionEpsilon: 0.01,
		RotationEpsilon: 0.001,
	})
	if err != nil {
		log.Fatalf("注册组件失败: %v", err)
	}
	reg.Seal()

	tok := *token
	if tok == "" {
		tok, err = netcode.GenerateToken(*protocolID, int32(*clientID), 15*time.Second, nil)
		if err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
	}

	conn, err := transport.Dial(*proto, *address)
	if err != nil {
		log.Fatalf("连接服务器失败: %v", err)
	}

	var cli *client.Client
	cli, err = client.New(client.Config{
		ProtocolID: *protocolID,
		Token:      tok,
		TPS:        *tps,
		Timesync:   timesync.DefaultConfig(),
	}, reg, conn, client.Hooks{
		OnConnected: func(id int32) {
			log.Printf("已接入，客户端 id %d，RTT %v", id, cli.RTT())
		},
		OnDisconnected: func(reason string) {
			log.Printf("连接结束: %s", reason)
		},
	})
	if err != nil {
		log.Fatalf("创建客户端失败: %v", err)
	}

	log.Printf("正在连接 %s (%s)...", *address, *proto)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 60fps 主循环：推客户端，周期性打印确认世界
	frame := time.NewTicker(time.Second / 60)
	defer frame.Stop()
	last := time.Now()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	for {
		select {
		case <-sigChan:
			log.Println("正在断开...")
			cli.Close()
			return
		case now := <-frame.C:
			cli.Update(now.Sub(last), now)
			last = now
			if cli.State() == client.StateDisconnected {
				log.Println("会话已结束")
				return
			}
		case <-report.C:
			dump(cli, ids)
		}
	}
}

// dump 打印确认世界里每个实体的位置
func dump(c *client.Client, ids components.IDs) {
	if c.State() != client.StateConnected {
		return
	}
	w := c.Confirmed()
	for _, e := range w.Entities() {
		if v, ok := w.Get(e, ids.Position); ok {
			p := v.(components.Position)
			log.Printf("实体 %d 位置 (%.2f, %.2f) 输入 tick %d RTT %v",
				e, p.V.X(), p.V.Y(), uint16(c.InputTick()), c.RTT())
		}
	}
}
