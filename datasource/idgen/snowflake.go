package idgen

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

const (
	sequenceBits = 12
	nodeBits     = 10

	maxSequence = 1<<sequenceBits - 1
	maxNode     = 1<<nodeBits - 1

	nodeShift = sequenceBits
	timeShift = sequenceBits + nodeBits
)

var defaultEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

type SnowflakeOptions struct {
	// Node 节点编号，0~1023，为空时取本机 IPv4 地址的低 16 位
	Node *int64 `cfg:"node" yaml:"node"`

	// Epoch 时间戳起点
	Epoch time.Time `cfg:"epoch" yaml:"epoch"`
}

// Snowflake 41 位毫秒时间戳 + 10 位节点 + 12 位序列号，多实例写同一张表时使用
type Snowflake struct {
	// 高位为相对 epoch 的毫秒数，低 12 位为序列号
	state atomic.Int64
	node  int64
	epoch int64
	now   func() time.Time
}

func NewSnowflakeWithOptions(options *SnowflakeOptions) *Snowflake {
	if options == nil {
		options = &SnowflakeOptions{}
	}
	node := nodeFromIP()
	if options.Node != nil {
		node = *options.Node
	}
	epoch := options.Epoch
	if epoch.IsZero() {
		epoch = defaultEpoch
	}
	return &Snowflake{
		node:  node & maxNode,
		epoch: epoch.UnixMilli(),
		now:   time.Now,
	}
}

func (s *Snowflake) NextID(ctx context.Context) (int64, error) {
	for {
		old := s.state.Load()
		ts, seq := old>>sequenceBits, old&maxSequence

		now := s.elapsed()
		switch {
		case now > ts:
			ts, seq = now, 0
		default:
			// 时钟回拨时沿用上一个时间戳
			seq = (seq + 1) & maxSequence
			if seq == 0 {
				for now <= ts {
					if err := ctx.Err(); err != nil {
						return 0, err
					}
					time.Sleep(100 * time.Microsecond)
					now = s.elapsed()
				}
				ts = now
			}
		}

		if s.state.CompareAndSwap(old, ts<<sequenceBits|seq) {
			return ts<<timeShift | s.node<<nodeShift | seq, nil
		}
	}
}

func (s *Snowflake) elapsed() int64 {
	return s.now().UnixMilli() - s.epoch
}

// Parse 拆出 id 的时间、节点和序列号
func (s *Snowflake) Parse(id int64) (time.Time, int64, int64) {
	return time.UnixMilli(id>>timeShift + s.epoch), id >> nodeShift & maxNode, id & maxSequence
}

func nodeFromIP() int64 {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return 0
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip := ipnet.IP.To4(); ip != nil {
			return int64(ip[2])<<8 | int64(ip[3])
		}
	}
	return 0
}
