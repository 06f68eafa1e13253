package voice

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-relay/backend/internal/relay"
)

const (
	defaultMaxMessageBytes = 8 << 20
	defaultWriteTimeout    = 10 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultSendQueue       = 256
)

// Options 配置客户端连接参数。
type Options struct {
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PongWait        time.Duration
	SendQueue       int
	// CloseWait 客户端断开后等待会话清理完成的最长时间
	CloseWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.SendQueue <= 0 {
		o.SendQueue = defaultSendQueue
	}
	if o.CloseWait <= 0 {
		o.CloseWait = relay.DefaultTeardownTimeout + time.Second
	}
	return o
}

// Handler 接收客户端 WebSocket 连接，并为每个连接绑定一个中继会话。
type Handler struct {
	registry *relay.Registry
	opts     Options
	upgrader websocket.Upgrader
}

// New 创建 WebSocket 处理器。
func New(registry *relay.Registry, opts Options) *Handler {
	return &Handler{
		registry: registry,
		opts:     opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册 WebSocket 路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	c := newConnection(conn, id, h.opts)

	session, err := h.registry.Open(id, c)
	if err != nil {
		log.Printf("[websocket] session=%s rejected: %v", id, err)
		conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		conn.WriteJSON(relay.ErrorMessage(err))
		c.shutdown()
		return
	}
	go c.writeLoop()
	log.Printf("[websocket] session=%s connected from %s", id, r.RemoteAddr)

	err = c.readLoop(session)
	if err != nil {
		log.Printf("[websocket] session=%s read ended: %v", id, err)
	}

	session.Disconnect()
	select {
	case <-session.Done():
	case <-time.After(h.opts.CloseWait):
		log.Printf("[websocket] session=%s teardown still running after %s", id, h.opts.CloseWait)
	}
	c.shutdown()
	log.Printf("[websocket] session=%s disconnected", id)
}

// connection 是单个客户端的 relay.Sender。
// 所有写操作由唯一的写协程完成，Send 只负责入队。
type connection struct {
	conn *websocket.Conn
	id   string
	opts Options

	out      chan relay.Outbound
	closed   chan struct{}
	stopOnce sync.Once
}

func newConnection(conn *websocket.Conn, id string, opts Options) *connection {
	return &connection{
		conn:   conn,
		id:     id,
		opts:   opts,
		out:    make(chan relay.Outbound, opts.SendQueue),
		closed: make(chan struct{}),
	}
}

// Send 将 msg 入队，消费过慢的客户端会被断开。
func (c *connection) Send(msg relay.Outbound) error {
	select {
	case <-c.closed:
		return relay.ErrTransportFault
	default:
	}

	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return relay.ErrTransportFault
	default:
		c.shutdown()
		return fmt.Errorf("%w: send queue full", relay.ErrTransportFault)
	}
}

// shutdown 关闭连接，读循环随之结束。
func (c *connection) shutdown() {
	c.stopOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.conn.Close()
	})
}

func (c *connection) readLoop(session *relay.Session) error {
	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-c.closed:
				return nil
			default:
			}
			return err
		}
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		if messageType != websocket.TextMessage {
			c.Send(relay.ErrorMessage(fmt.Errorf("%w: only text frames are accepted", relay.ErrBadRequest)))
			continue
		}
		if err := session.HandleFrame(data); err != nil {
			if errors.Is(err, relay.ErrSessionClosed) {
				return nil
			}
			return err
		}
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("[websocket] session=%s write %s failed: %v", c.id, msg, err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.shutdown()
				return
			}
		}
	}
}
