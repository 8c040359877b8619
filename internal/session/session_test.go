package session

import (
	"bytes"
	"testing"
	"time"

	"netsync/internal/transport"
	"netsync/pkg/channel"
	"netsync/pkg/components"
	"netsync/pkg/tick"
	"netsync/pkg/wire"
	"netsync/pkg/world"
)

func newEndpointPair(t *testing.T) (*Endpoint, *Endpoint) {
	t.Helper()
	ta, tb := transport.NewMemoryPair()
	ra := channel.NewRegistry()
	rb := channel.NewRegistry()
	if err := RegisterChannels(ra); err != nil {
		t.Fatalf("注册通道失败: %v", err)
	}
	if err := RegisterChannels(rb); err != nil {
		t.Fatalf("注册通道失败: %v", err)
	}
	return NewEndpoint(ra, ta), NewEndpoint(rb, tb)
}

func TestEndpointRoundTrip(t *testing.T) {
	a, b := newEndpointPair(t)

	if err := a.SendOn(ChActions, []byte("first"), 0); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if err := a.SendOn(ChUpdates, []byte("second"), 0); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if sent, err := a.Flush(); err != nil || !sent {
		t.Fatalf("拼包发送失败: sent=%v err=%v", sent, err)
	}

	b.Drain()
	if got := b.ReadAll(ChActions); len(got) != 1 || !bytes.Equal(got[0], []byte("first")) {
		t.Fatalf("actions 通道不符: %v", got)
	}
	if got := b.ReadAll(ChUpdates); len(got) != 1 || !bytes.Equal(got[0], []byte("second")) {
		t.Fatalf("updates 通道不符: %v", got)
	}
}

func TestEndpointReliableAcksFlow(t *testing.T) {
	a, b := newEndpointPair(t)
	now := time.Now()

	if err := a.SendOn(ChActions, []byte("payload"), 0); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	a.Flush()
	b.Drain()
	b.ReadAll(ChActions)

	// 接收端的回执流回发送端后，可靠通道不再挂起
	b.Flush()
	a.Drain()
	a.Update(now.Add(time.Second), 0)

	c, _ := a.Chans.ByName(ChActions)
	if c.PendingReliable() != 0 {
		t.Fatalf("确认后不应有挂起消息: %d", c.PendingReliable())
	}
}

func TestFlushPacksByPriority(t *testing.T) {
	// 低优先级通道先注册，高优先级通道的消息仍要先进包
	ta, tb := transport.NewMemoryPair()
	ra := channel.NewRegistry()
	low, _ := ra.Register(channel.Settings{Name: "low", Mode: channel.UnorderedUnreliable, Priority: 1})
	high, _ := ra.Register(channel.Settings{Name: "high", Mode: channel.UnorderedUnreliable, Priority: 9})
	a := NewEndpoint(ra, ta)

	if err := a.SendOn("low", []byte("later"), 0); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if err := a.SendOn("high", []byte("first"), 0); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if sent, err := a.Flush(); err != nil || !sent {
		t.Fatalf("拼包发送失败: sent=%v err=%v", sent, err)
	}

	buf, _, ok := tb.Receive()
	if !ok {
		t.Fatal("未收到数据包")
	}
	reader := wire.NewPacketReader(buf)
	channelID, _, ok, err := reader.Next()
	if err != nil || !ok {
		t.Fatalf("解析数据包失败: ok=%v err=%v", ok, err)
	}
	if channel.ID(channelID) != high.ID() {
		t.Fatalf("包内首条记录应来自高优先级通道: 得到 %d, 期望 %d (low=%d)", channelID, high.ID(), low.ID())
	}
}

func TestChecksumAgreesAcrossSides(t *testing.T) {
	ra := channel.NewRegistry()
	rb := channel.NewRegistry()
	RegisterChannels(ra)
	RegisterChannels(rb)

	wa := world.NewRegistry()
	wb := world.NewRegistry()
	if _, err := components.Register(wa, components.Thresholds{PositionEpsilon: 0.01, RotationEpsilon: 0.001}); err != nil {
		t.Fatalf("注册组件失败: %v", err)
	}
	if _, err := components.Register(wb, components.Thresholds{PositionEpsilon: 0.01, RotationEpsilon: 0.001}); err != nil {
		t.Fatalf("注册组件失败: %v", err)
	}
	wa.Seal()
	wb.Seal()

	if Checksum(ra, wa) != Checksum(rb, wb) {
		t.Fatal("相同注册顺序应得到相同校验和")
	}

	// 通道集不同，校验和必须不同
	rc := channel.NewRegistry()
	RegisterChannels(rc)
	if _, err := rc.Register(channel.Settings{Name: "extra", Mode: channel.UnorderedUnreliable}); err != nil {
		t.Fatalf("注册通道失败: %v", err)
	}
	if Checksum(rc, wa) == Checksum(ra, wa) {
		t.Fatal("通道集不同校验和不应相同")
	}
}

func TestPingCodec(t *testing.T) {
	ping := Ping{SentAt: 123456789}
	gotPing, err := DecodePing(EncodePing(ping))
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if gotPing != ping {
		t.Fatalf("探测不符: %+v", gotPing)
	}

	pong := Pong{SentAt: 42, Remote: tick.Instant{Tick: 65000, Overstep: 0.25}}
	gotPong, err := DecodePong(EncodePong(pong))
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if gotPong != pong {
		t.Fatalf("应答不符: %+v", gotPong)
	}

	if _, err := DecodePong([]byte{1, 2}); err == nil {
		t.Error("截断应报错")
	}
}

func TestDrainSurvivesGarbage(t *testing.T) {
	ta, tb := transport.NewMemoryPair()
	rb := channel.NewRegistry()
	RegisterChannels(rb)
	b := NewEndpoint(rb, tb)

	// 纯垃圾字节不得影响后续正常包
	ta.Send([]byte{0xde, 0xad, 0xbe, 0xef}, "")

	ra := channel.NewRegistry()
	RegisterChannels(ra)
	a := NewEndpoint(ra, ta)
	a.SendOn(ChActions, []byte("ok"), 0)
	a.Flush()

	b.Drain()
	if got := b.ReadAll(ChActions); len(got) != 1 {
		t.Fatalf("垃圾包后正常包应照常投递: %v", got)
	}
}
