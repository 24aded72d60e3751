// Package receiver 维护到上游行情源的TCP长连接，按帧读出原始字节，
// 塞进有界暂存队列。读循环自己绝不做耗时的事。
package receiver

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"ashare-quote-core/internal/logger"
	"ashare-quote-core/internal/models"
	"ashare-quote-core/internal/sysmem"

	"github.com/jpillora/backoff"
)

const (
	readBufferSize       = 64 * 1024
	maxReconnectAttempts = 10
	memCheckInterval     = 5 * time.Second
)

// 帧格式，按会话首字节探测后固定
type framingMode int

const (
	framingUnknown framingMode = iota
	framingTextLine             // 换行分帧的文本
	framingLengthPrefix         // 4字节小端长度前缀
)

// Counters 接收器的运行计数
type Counters struct {
	FramesReceived  atomic.Int64
	FramesOversized atomic.Int64
	Reconnects      atomic.Int64
	SoftCleanups    atomic.Int64
	HardCleanups    atomic.Int64
	HeartbeatsSent  atomic.Int64
}

// Receiver 行情源接收器
type Receiver struct {
	source   models.SourceConfig
	memory   models.MemoryConfig
	ring     *Ring
	counters Counters

	// 可注入的拨号函数，测试时替换为net.Pipe
	dial func(addr string, timeout time.Duration) (net.Conn, error)

	mu      sync.Mutex
	conn    net.Conn
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New 创建接收器。暂存队列容量与内存水位线均来自配置。
func New(source models.SourceConfig, recv models.ReceiverConfig, mem models.MemoryConfig) *Receiver {
	return &Receiver{
		source: source,
		memory: mem,
		ring:   NewRing(recv.StagingCapacity),
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
	}
}

// SetDialer 替换拨号函数，仅测试使用
func (r *Receiver) SetDialer(dial func(addr string, timeout time.Duration) (net.Conn, error)) {
	r.dial = dial
}

// Ring 返回暂存队列，解析循环从这里取帧
func (r *Receiver) Ring() *Ring {
	return r.ring
}

// Counters 返回运行计数
func (r *Receiver) Counters() *Counters {
	return &r.counters
}

// Start 建立首次连接并进入读循环。
// 首次的TCP握手、token写入或第一次读失败会同步返回错误；
// 之后的断线由内部的指数退避重连兜底。
func (r *Receiver) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("接收器已经在运行")
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.mu.Unlock()

	conn, reader, mode, err := r.connect()
	if err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("连接行情源失败: %w", err)
	}

	go r.run(conn, reader, mode)
	go r.memoryLoop()
	return nil
}

// Stop 关闭连接，读循环随之退出
func (r *Receiver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	if r.conn != nil {
		r.conn.Close()
	}
	r.mu.Unlock()

	<-r.done
	r.ring.Close()
}

// connect 拨号、发token、探测分帧格式
func (r *Receiver) connect() (net.Conn, *bufio.Reader, framingMode, error) {
	addr := fmt.Sprintf("%s:%d", r.source.Host, r.source.Port)
	conn, err := r.dial(addr, 10*time.Second)
	if err != nil {
		return nil, nil, framingUnknown, err
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
		tcp.SetKeepAlive(true)
	}

	// token作为首批字节直接发出，无长度前缀
	if _, err := conn.Write([]byte(r.source.Token)); err != nil {
		conn.Close()
		return nil, nil, framingUnknown, fmt.Errorf("发送token失败: %w", err)
	}

	reader := bufio.NewReaderSize(conn, readBufferSize)

	// 按会话首字节探测分帧格式：'{' 或数字开头为文本行，否则为长度前缀
	conn.SetReadDeadline(time.Now().Add(r.noDataTimeout()))
	first, err := reader.Peek(1)
	if err != nil {
		conn.Close()
		return nil, nil, framingUnknown, fmt.Errorf("首次读取失败: %w", err)
	}
	mode := framingLengthPrefix
	if first[0] == '{' || (first[0] >= '0' && first[0] <= '9') {
		mode = framingTextLine
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	logger.S().Infof("已连接行情源 %s，分帧格式: %s", addr, mode.String())
	return conn, reader, mode, nil
}

func (m framingMode) String() string {
	if m == framingTextLine {
		return "text-line"
	}
	if m == framingLengthPrefix {
		return "length-prefix"
	}
	return "unknown"
}

// run 是接收器的主循环：读帧直到出错，然后指数退避重连
func (r *Receiver) run(conn net.Conn, reader *bufio.Reader, mode framingMode) {
	defer close(r.done)

	bo := &backoff.Backoff{Min: 2 * time.Second, Max: 5 * time.Minute, Factor: 2}

	for {
		err := r.readLoop(conn, reader, mode)
		conn.Close()
		if r.stopped() {
			return
		}
		logger.S().Warnf("行情源连接中断: %v，准备重连", err)

		// 重连：退避递增，连续失败超限后放弃
		reconnected := false
		for bo.Attempt() < maxReconnectAttempts {
			delay := bo.Duration()
			select {
			case <-time.After(delay):
			case <-r.stop:
				return
			}
			r.counters.Reconnects.Add(1)
			var cerr error
			conn, reader, mode, cerr = r.connect()
			if cerr == nil {
				bo.Reset()
				reconnected = true
				break
			}
			logger.S().Warnf("第%.0f次重连失败: %v", bo.Attempt(), cerr)
		}
		if !reconnected {
			logger.S().Errorf("重连%d次均失败，接收器进入停止状态", maxReconnectAttempts)
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			return
		}
	}
}

// readLoop 按探测到的分帧格式持续读帧，任一错误返回交给重连逻辑
func (r *Receiver) readLoop(conn net.Conn, reader *bufio.Reader, mode framingMode) error {
	heartbeatStop := make(chan struct{})
	defer close(heartbeatStop)
	go r.heartbeatLoop(conn, mode, heartbeatStop)

	maxFrame := r.source.MaxFrameBytes
	for {
		// 90秒读不到任何数据即判定连接已死
		conn.SetReadDeadline(time.Now().Add(r.noDataTimeout()))

		var payload []byte
		switch mode {
		case framingTextLine:
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return err
			}
			if len(line) > maxFrame {
				r.counters.FramesOversized.Add(1)
				logger.S().Warnf("丢弃超长文本帧: %d字节", len(line))
				continue
			}
			payload = line

		case framingLengthPrefix:
			var lenBuf [4]byte
			if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
				return err
			}
			frameLen := int(binary.LittleEndian.Uint32(lenBuf[:]))
			if frameLen > maxFrame {
				r.counters.FramesOversized.Add(1)
				logger.S().Warnf("丢弃超长二进制帧: %d字节", frameLen)
				if _, err := io.CopyN(io.Discard, reader, int64(frameLen)); err != nil {
					return err
				}
				continue
			}
			payload = make([]byte, frameLen)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return err
			}
		}

		if len(payload) == 0 {
			return io.EOF // 零字节读视为断线
		}

		r.counters.FramesReceived.Add(1)
		r.ring.Push(models.RawFrame{Data: payload, RecvTS: time.Now().Unix()})
	}
}

// heartbeatLoop 每30秒向源发一个空负载心跳
func (r *Receiver) heartbeatLoop(conn net.Conn, mode framingMode, stop <-chan struct{}) {
	interval := time.Duration(r.source.HeartbeatIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	payload := []byte(`{"type":"heartbeat"}`)
	for {
		select {
		case <-ticker.C:
			var err error
			if mode == framingTextLine {
				_, err = conn.Write(append(payload, '\n'))
			} else {
				var lenBuf [4]byte
				binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
				if _, err = conn.Write(lenBuf[:]); err == nil {
					_, err = conn.Write(payload)
				}
			}
			if err != nil {
				// 写失败交给读循环的错误处理统一断线
				return
			}
			r.counters.HeartbeatsSent.Add(1)
		case <-stop:
			return
		case <-r.stop:
			return
		}
	}
}

// memoryLoop 周期检查进程RSS，按两级水位线清理暂存队列
func (r *Receiver) memoryLoop() {
	ticker := time.NewTicker(memCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			switch sysmem.Check(r.memory.SoftCleanupMB, r.memory.HardCleanupMB) {
			case sysmem.WatermarkHard:
				n := r.ring.Clear()
				r.counters.HardCleanups.Add(1)
				logger.S().Warnf("内存达到硬清理线(%dMB)，清空暂存队列，丢弃%d帧", r.memory.HardCleanupMB, n)
			case sysmem.WatermarkSoft:
				n := r.ring.DropHalf()
				r.counters.SoftCleanups.Add(1)
				logger.S().Warnf("内存达到软清理线(%dMB)，丢弃暂存队列一半，共%d帧", r.memory.SoftCleanupMB, n)
			}
		case <-r.stop:
			return
		}
	}
}

func (r *Receiver) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *Receiver) noDataTimeout() time.Duration {
	return time.Duration(r.source.NoDataTimeoutS) * time.Second
}
