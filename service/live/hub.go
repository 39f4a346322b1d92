package live

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"GProject/logger"
	"GProject/module/track/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	sendQueueLen = 64
	writeTimeout = 5 * time.Second
)

// client 一个 WS 订阅者。entities 为空表示订阅全部。
type client struct {
	conn     *websocket.Conn
	sendCh   chan []byte
	entities map[string]struct{}
}

func (c *client) wants(entity string) bool {
	if len(c.entities) == 0 {
		return true
	}
	_, ok := c.entities[entity]
	return ok
}

// Hub 把落库成功的最新位置推给在线订阅者。
// 推送是尽力而为：订阅者消费慢就丢帧，绝不反压摄入链路。
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// BroadcastPoint fans the point out to every subscriber that wants the
// entity. Full send queues drop the frame.
func (h *Hub) BroadcastPoint(p *model.LocationPoint) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(p.EntityID) {
			continue
		}
		select {
		case c.sendCh <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// DroppedFrames 因订阅者消费慢而丢掉的帧数。
func (h *Hub) DroppedFrames() uint64 { return h.dropped.Load() }

// ClientCount 当前在线订阅数。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS gin 入口：/ws/live?entities=veh-1,veh-2
func (h *Hub) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[live] upgrade error: %v", err)
		return
	}

	cl := &client{conn: ws, sendCh: make(chan []byte, sendQueueLen)}
	if q := c.Query("entities"); q != "" {
		cl.entities = make(map[string]struct{})
		for _, e := range strings.Split(q, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cl.entities[e] = struct{}{}
			}
		}
	}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	logger.Infof("[live] subscriber joined entities=%d total=%d", len(cl.entities), h.ClientCount())

	go h.writeLoop(cl)
	h.readLoop(cl)
}

// 写协程：只写不读，出错即收尾。
func (h *Hub) writeLoop(cl *client) {
	for b := range cl.sendCh {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			logger.Infof("[live] write err: %v", err)
			_ = cl.conn.Close()
			return
		}
	}
}

// 读循环：只消费控制帧与关闭；任何读错误即注销。
func (h *Hub) readLoop(cl *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
		close(cl.sendCh)
		_ = cl.conn.Close()
		logger.Infof("[live] subscriber left total=%d", h.ClientCount())
	}()
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[live] read err: %v", err)
			}
			return
		}
	}
}
