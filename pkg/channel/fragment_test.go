package channel

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"netsync/pkg/wire"
)

func TestFragmentRoundTrip(t *testing.T) {
	// 任意大于分片大小的载荷，重组后必须逐字节一致
	sizes := []int{DefaultFragmentSize + 1, DefaultFragmentSize * 3, DefaultFragmentSize*4 + 17}

	for _, size := range sizes {
		payload := make([]byte, size)
		rng := rand.New(rand.NewSource(int64(size)))
		rng.Read(payload)

		msgs := splitFragments(3, payload, DefaultFragmentSize)
		rng.Shuffle(len(msgs), func(i, j int) { msgs[i], msgs[j] = msgs[j], msgs[i] })

		ft := newFragmentTable(DefaultFragmentTimeout)
		now := time.Now()
		var got []byte
		done := false
		for _, m := range msgs {
			if b, complete := ft.add(m, now); complete {
				got = b
				done = true
			}
		}

		if !done {
			t.Fatalf("大小 %d: 全部分片到齐后应完成重组", size)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("大小 %d: 重组结果与原载荷不一致", size)
		}
	}
}

func TestFragmentInterleavedMessages(t *testing.T) {
	// 两条消息的分片交错到达，重组表必须按消息 id 各自归位
	pa := bytes.Repeat([]byte{0xaa}, DefaultFragmentSize*2)
	pb := bytes.Repeat([]byte{0xbb}, DefaultFragmentSize*2)
	ma := splitFragments(10, pa, DefaultFragmentSize)
	mb := splitFragments(11, pb, DefaultFragmentSize)

	ft := newFragmentTable(DefaultFragmentTimeout)
	now := time.Now()
	ft.add(ma[0], now)
	ft.add(mb[0], now)

	got, complete := ft.add(ma[1], now)
	if !complete || !bytes.Equal(got, pa) {
		t.Fatalf("消息 10 应先完成且内容一致, complete=%v", complete)
	}
	got, complete = ft.add(mb[1], now)
	if !complete || !bytes.Equal(got, pb) {
		t.Fatalf("消息 11 应随后完成且内容一致, complete=%v", complete)
	}
}

func TestFragmentIncompleteNotDelivered(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5a}, DefaultFragmentSize*2)
	msgs := splitFragments(1, payload, DefaultFragmentSize)

	ft := newFragmentTable(DefaultFragmentTimeout)
	if _, complete := ft.add(msgs[0], time.Now()); complete {
		t.Error("缺少分片时不应完成重组")
	}
}

func TestFragmentDuplicateIgnored(t *testing.T) {
	payload := bytes.Repeat([]byte{1}, DefaultFragmentSize*2)
	msgs := splitFragments(1, payload, DefaultFragmentSize)

	ft := newFragmentTable(DefaultFragmentTimeout)
	now := time.Now()
	ft.add(msgs[0], now)
	if _, complete := ft.add(msgs[0], now); complete {
		t.Error("重复分片不应触发完成")
	}
	if _, complete := ft.add(msgs[1], now); !complete {
		t.Error("补齐缺失分片后应完成")
	}
}

func TestFragmentTimeout(t *testing.T) {
	payload := bytes.Repeat([]byte{2}, DefaultFragmentSize*2)
	msgs := splitFragments(1, payload, DefaultFragmentSize)

	ft := newFragmentTable(time.Second)
	now := time.Now()
	ft.add(msgs[0], now)

	// 停滞超过期限后重组状态被回收
	if dropped := ft.gc(now.Add(2 * time.Second)); dropped != 1 {
		t.Fatalf("应回收 1 条停滞消息，得到 %d", dropped)
	}

	// 回收后剩余分片到达会重新开一个构造器，不会拼出旧数据
	if _, complete := ft.add(msgs[1], now.Add(2*time.Second)); complete {
		t.Error("回收后的孤儿分片不应完成重组")
	}
}

func TestFragmentedReliableAckPerFragment(t *testing.T) {
	reg := NewRegistry()
	s, _ := reg.Register(Settings{Name: "big", Mode: UnorderedReliable, FragmentSize: 64, ResendInterval: 10 * time.Millisecond})

	payload := bytes.Repeat([]byte{7}, 200) // 4 个分片
	id, _ := s.BufferSend(payload, 0)

	first := s.CollectOutgoing()
	if len(first) != 4 {
		t.Fatalf("应拆成 4 个分片，得到 %d", len(first))
	}

	// 只确认其中 2 片，其余 2 片继续重发
	_ = s.BufferRecv(wire.Message{Kind: wire.KindAck, ID: uint16(id), FragIndex: 0})
	_ = s.BufferRecv(wire.Message{Kind: wire.KindAck, ID: uint16(id), FragIndex: 2})

	s.Update(time.Now().Add(50*time.Millisecond), 0)
	resent := s.CollectOutgoing()
	if len(resent) != 2 {
		t.Fatalf("未确认的 2 片应重发，得到 %d", len(resent))
	}

	// 全部确认后整条消息才算送达
	if s.PendingReliable() != 1 {
		t.Fatal("部分确认时消息应仍在途")
	}
	_ = s.BufferRecv(wire.Message{Kind: wire.KindAck, ID: uint16(id), FragIndex: 1})
	_ = s.BufferRecv(wire.Message{Kind: wire.KindAck, ID: uint16(id), FragIndex: 3})
	if s.PendingReliable() != 0 {
		t.Error("全部分片确认后消息应完成")
	}
}

func TestChannelFragmentationEndToEnd(t *testing.T) {
	regA := NewRegistry()
	regB := NewRegistry()
	a, _ := regA.Register(Settings{Name: "bulk", Mode: OrderedReliable, FragmentSize: 128})
	b, _ := regB.Register(Settings{Name: "bulk", Mode: OrderedReliable, FragmentSize: 128})

	payload := make([]byte, 1000)
	rand.New(rand.NewSource(99)).Read(payload)

	_, _ = a.BufferSend(payload, 0)
	transfer(t, a, b)

	got, ok := b.ReadMessage()
	if !ok {
		t.Fatal("分片消息应完成投递")
	}
	if !bytes.Equal(got, payload) {
		t.Error("端到端重组结果与原载荷不一致")
	}
}
