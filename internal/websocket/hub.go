package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "job_events"

// Hub fans job status frames out to every push connection watching a job.
// With Redis configured, frames published on one instance reach connections
// held by the others.
type Hub struct {
	// jobId -> connections watching it
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	rdb        *redis.Client
	instanceId string

	logger logger.ILogger
}

type clusterFrame struct {
	Origin  string          `json:"origin"`
	JobId   string          `json:"job_id"`
	Message json.RawMessage `json:"message"`
	Drop    bool            `json:"drop,omitempty"`
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		instanceId: uuid.NewString(),
		logger:     log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.JobId] = append(h.clients[client.JobId], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"job_id": client.JobId})

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.JobId]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.JobId] = append(clients[:i], clients[i+1:]...)
			client.closeSend()
			break
		}
	}
	if len(h.clients[client.JobId]) == 0 {
		delete(h.clients, client.JobId)
		h.logger.Info("Hub", "Job has no more watchers", map[string]interface{}{"job_id": client.JobId})
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for jobId, clients := range h.clients {
		for _, c := range clients {
			c.closeSend()
		}
		delete(h.clients, jobId)
	}
}

// Publish sends msg to everyone watching jobId.
func (h *Hub) Publish(jobId string, msg dto.PushMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.deliver(jobId, data)
	h.publishCluster(clusterFrame{JobId: jobId, Message: data})
}

// Drop closes every connection watching jobId without a terminal frame.
func (h *Hub) Drop(jobId string) {
	h.drop(jobId)
	h.publishCluster(clusterFrame{JobId: jobId, Drop: true})
}

func (h *Hub) drop(jobId string) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[jobId]...)
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
	if len(clients) > 0 {
		h.logger.Warn("Hub", "Dropped push connections", map[string]interface{}{"job_id": jobId, "count": len(clients)})
	}
}

// Watchers reports how many connections are watching jobId.
func (h *Hub) Watchers(jobId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobId])
}

func (h *Hub) deliver(jobId string, data []byte) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[jobId]...)
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.enqueue(data) {
			h.logger.Warn("Hub", "Client Send buffer full, dropping connection", map[string]interface{}{"job_id": jobId})
			h.remove(client)
		}
	}
}

func (h *Hub) publishCluster(frame clusterFrame) {
	if h.rdb == nil {
		return
	}
	frame.Origin = h.instanceId
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := h.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
		h.logger.Warn("Hub", "Redis publish failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg = m
		}

		var frame clusterFrame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			h.logger.Warn("Hub", "Redis frame parse error", map[string]interface{}{"error": err.Error()})
			continue
		}
		if frame.Origin == h.instanceId {
			continue
		}
		if frame.Drop {
			h.drop(frame.JobId)
			continue
		}
		h.deliver(frame.JobId, frame.Message)
	}
}
