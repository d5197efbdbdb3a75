package natsx

import (
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// 网关与复读核心之间的消息主题
const (
	SubjectInbound  = "repeater.inbound"  // 网关 -> 核心：群消息事件
	SubjectOutbound = "repeater.outbound" // 核心 -> 网关：待发送的消息
	SubjectPostProc = "repeater.postproc" // 网关 -> 核心：发送前对消息做过的改写
	QueueRepeater   = "repeater-workers"  // 核心消费组，同组分摊
)

// Config 客户端配置
type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Handler 订阅回调
type Handler func(subject string, data []byte)

// Manager 统一门面：对外只暴露这一个对象来用
type Manager struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewManager 连接 NATS
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return &Manager{nc: nc}, nil
}

// Publish 发布消息
func (m *Manager) Publish(subject string, data []byte) error {
	if m == nil || m.nc == nil {
		return errors.New("natsx manager not initialized")
	}
	return m.nc.Publish(subject, data)
}

// Subscribe 普通订阅（广播）
func (m *Manager) Subscribe(subject string, h Handler) error {
	return m.subscribe(subject, "", h)
}

// QueueSubscribe 队列订阅，同组内分摊
func (m *Manager) QueueSubscribe(subject, queue string, h Handler) error {
	return m.subscribe(subject, queue, h)
}

func (m *Manager) subscribe(subject, queue string, h Handler) error {
	if m == nil || m.nc == nil {
		return errors.New("natsx manager not initialized")
	}
	cb := func(msg *nats.Msg) { h(msg.Subject, msg.Data) }

	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = m.nc.Subscribe(subject, cb)
	} else {
		sub, err = m.nc.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", subject)
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return nil
}

// Close 优雅关闭订阅与连接
func (m *Manager) Close() {
	if m == nil || m.nc == nil {
		return
	}
	m.mu.Lock()
	for _, s := range m.subs {
		_ = s.Drain()
	}
	m.subs = nil
	m.mu.Unlock()
	_ = m.nc.Drain()
	m.nc.Close()
}
