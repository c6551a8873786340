package snowflake

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Snowflake ID生成器
// 64位ID结构：1位符号位(0) + 41位时间戳 + 10位机器ID + 12位序列号
type Snowflake struct {
	mutex     sync.Mutex
	clock     clock.PassiveClock
	epoch     int64
	machineID int64
	sequence  int64
	lastTime  int64
}

const (
	machineBits  = 10
	sequenceBits = 12

	maxMachineID = (1 << machineBits) - 1
	maxSequence  = (1 << sequenceBits) - 1

	machineShift   = sequenceBits
	timestampShift = sequenceBits + machineBits

	// 2024-01-01 00:00:00 UTC
	defaultEpoch = 1704067200000
)

// NewSnowflake 创建Snowflake实例
func NewSnowflake(machineID int64, clk clock.PassiveClock) (*Snowflake, error) {
	if machineID < 0 || machineID > maxMachineID {
		return nil, fmt.Errorf("机器ID必须在0-%d之间", maxMachineID)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Snowflake{clock: clk, epoch: defaultEpoch, machineID: machineID}, nil
}

// Generate 生成下一个ID。时钟回拨时沿用上次的毫秒继续递增序列号
func (s *Snowflake) Generate() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock.Now().UnixMilli()
	if now < s.lastTime {
		now = s.lastTime
	}

	if now == s.lastTime {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号溢出，借用下一毫秒
			now = s.lastTime + 1
		}
	} else {
		s.sequence = 0
	}
	s.lastTime = now

	return ((now - s.epoch) << timestampShift) |
		(s.machineID << machineShift) |
		s.sequence
}

// ParseID 解析Snowflake ID
func (s *Snowflake) ParseID(id int64) (timestamp time.Time, machineID int64, sequence int64) {
	timestamp = time.UnixMilli((id >> timestampShift) + s.epoch)
	machineID = (id >> machineShift) & maxMachineID
	sequence = id & maxSequence
	return
}
