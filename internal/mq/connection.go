package mq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ConnectionState 连接状态
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionManager 维护单条 AMQP 连接，断线后按配置自动重连
type ConnectionManager struct {
	config *Config
	logger *zap.Logger

	conn      *amqp.Connection
	connMutex sync.RWMutex
	state     int32

	stopCh         chan struct{}
	reconnectCount int32
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager(config *Config, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		config: config,
		logger: logger,
		state:  int32(StateDisconnected),
		stopCh: make(chan struct{}),
	}
}

// Connect 建立连接
func (cm *ConnectionManager) Connect() error {
	if cm.GetState() == StateClosed {
		return fmt.Errorf("connection manager is closed")
	}
	cm.logger.Info("connecting to rabbitmq", zap.String("url", cm.config.redactedURL()))

	if err := cm.dial(); err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	go cm.monitorConnection()
	return nil
}

func (cm *ConnectionManager) dial() error {
	conn, err := amqp.DialConfig(cm.config.GetConnectionURL(), amqp.Config{
		Heartbeat: cm.config.HeartbeatInterval,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cm.config.ConnectionTimeout),
	})
	if err != nil {
		return err
	}

	cm.connMutex.Lock()
	cm.conn = conn
	cm.connMutex.Unlock()
	atomic.StoreInt32(&cm.state, int32(StateConnected))
	return nil
}

// Channel 打开新通道，调用方负责关闭
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	cm.connMutex.RLock()
	conn := cm.conn
	cm.connMutex.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, fmt.Errorf("rabbitmq connection is not available (state=%s)", cm.GetState())
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// IsConnected 检查是否已连接
func (cm *ConnectionManager) IsConnected() bool {
	return cm.GetState() == StateConnected
}

// GetState 获取连接状态
func (cm *ConnectionManager) GetState() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&cm.state))
}

// ReconnectCount 返回累计重连次数
func (cm *ConnectionManager) ReconnectCount() int32 {
	return atomic.LoadInt32(&cm.reconnectCount)
}

// Ping 供健康检查使用，未连接时返回当前状态与累计重连次数
func (cm *ConnectionManager) Ping(context.Context) error {
	if cm.IsConnected() {
		return nil
	}
	return fmt.Errorf("rabbitmq %s after %d reconnect attempts", cm.GetState(), cm.ReconnectCount())
}

// Close 关闭连接
func (cm *ConnectionManager) Close() error {
	if ConnectionState(atomic.SwapInt32(&cm.state, int32(StateClosed))) == StateClosed {
		return nil
	}
	cm.logger.Info("closing rabbitmq connection")
	close(cm.stopCh)

	cm.connMutex.Lock()
	defer cm.connMutex.Unlock()
	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		return err
	}
	return nil
}

// monitorConnection 监听连接关闭事件
func (cm *ConnectionManager) monitorConnection() {
	cm.connMutex.RLock()
	conn := cm.conn
	cm.connMutex.RUnlock()
	if conn == nil {
		return
	}

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case err := <-closeCh:
		if err != nil {
			cm.handleDisconnection(err)
		}
	case <-cm.stopCh:
	}
}

func (cm *ConnectionManager) handleDisconnection(err error) {
	if !atomic.CompareAndSwapInt32(&cm.state, int32(StateConnected), int32(StateReconnecting)) {
		return
	}
	cm.logger.Warn("rabbitmq connection lost", zap.Error(err))
	if cm.config.EnableReconnect {
		go cm.reconnect()
	} else {
		atomic.CompareAndSwapInt32(&cm.state, int32(StateReconnecting), int32(StateDisconnected))
	}
}

// reconnect 按固定间隔重连，达到上限后放弃
func (cm *ConnectionManager) reconnect() {
	maxAttempts := cm.config.MaxReconnectAttempts
	for attempt := 1; ; attempt++ {
		select {
		case <-cm.stopCh:
			return
		case <-time.After(cm.config.ReconnectInterval):
		}

		atomic.AddInt32(&cm.reconnectCount, 1)
		err := cm.dial()
		if err == nil {
			cm.logger.Info("rabbitmq reconnected", zap.Int("attempts", attempt))
			go cm.monitorConnection()
			return
		}
		cm.logger.Error("rabbitmq reconnect failed", zap.Int("attempt", attempt), zap.Error(err))

		if maxAttempts > 0 && attempt >= maxAttempts {
			cm.logger.Error("rabbitmq reconnect gave up", zap.Int("max_attempts", maxAttempts))
			atomic.CompareAndSwapInt32(&cm.state, int32(StateReconnecting), int32(StateDisconnected))
			return
		}
	}
}
