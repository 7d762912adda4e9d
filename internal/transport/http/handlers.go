// Package http holds the read-only JSON handlers of the relay.
package http

import (
	"net/http"
	"sort"
	"time"

	"github.com/dkeye/DuelRelay/internal/app/orch"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Orch *orch.Orchestrator
	now  func() time.Time
}

func NewHandlers(o *orch.Orchestrator) *Handlers {
	return &Handlers{Orch: o, now: time.Now}
}

// Register mounts /healthz and the /api listings.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/healthz", h.handleHealth)
	api := r.Group("/api")
	api.GET("/rooms", h.handleRooms)
	api.GET("/rooms/:id", h.handleRoom)
	api.GET("/queues", h.handleQueues)
}

func (h *Handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Stats())
}

func (h *Handlers) handleRooms(c *gin.Context) {
	rooms := h.Orch.Rooms.List()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// handleRoom lists the members of one room, oldest first.
func (h *Handlers) handleRoom(c *gin.Context) {
	id, err := domain.NewRoomID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, ok := h.Orch.Rooms.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         room.ID(),
		"created_at": room.CreatedAt(),
		"active":     room.ActiveCount(),
		"members":    room.MembersSnapshot(),
	})
}

type WaiterView struct {
	Conn          domain.ConnID `json:"conn"`
	Stake         float64       `json:"stake"`
	WaitedSeconds int64         `json:"waited_seconds"`
}

type QueueView struct {
	Category domain.Category `json:"category"`
	Waiting  []WaiterView    `json:"waiting"`
}

func (h *Handlers) handleQueues(c *gin.Context) {
	now := h.now()
	out := []QueueView{}
	for _, cat := range h.Orch.Matchmaker.Categories() {
		q := QueueView{Category: cat, Waiting: []WaiterView{}}
		for _, w := range h.Orch.Matchmaker.Snapshot(cat) {
			q.Waiting = append(q.Waiting, WaiterView{
				Conn:          w.Conn,
				Stake:         w.Stake,
				WaitedSeconds: int64(now.Sub(w.EnqueuedAt).Seconds()),
			})
		}
		out = append(out, q)
	}
	c.JSON(http.StatusOK, gin.H{"queues": out})
}
