package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"dealhunter/internal/cache"
	"dealhunter/internal/executor"
	"dealhunter/internal/ledger"
	"dealhunter/internal/models"
	"dealhunter/internal/monitor"
	"dealhunter/internal/report"
	"dealhunter/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

type APIHandler struct {
	db       *gorm.DB
	sched    *scheduler.Scheduler
	orch     *monitor.Orchestrator
	exec     *executor.Executor
	cache    *cache.Store
	store    ledger.Store
	upgrader websocket.Upgrader
}

func SetupRoutes(r *gin.RouterGroup, db *gorm.DB, sched *scheduler.Scheduler, orch *monitor.Orchestrator, exec *executor.Executor, store *cache.Store, purchases ledger.Store) *APIHandler {
	h := &APIHandler{
		db:    db,
		sched: sched,
		orch:  orch,
		exec:  exec,
		cache: store,
		store: purchases,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r.POST("/monitor/start", h.StartMonitor)
	r.POST("/monitor/stop", h.StopMonitor)
	r.POST("/monitor/pause", h.PauseMonitor)
	r.POST("/monitor/resume", h.ResumeMonitor)
	r.GET("/monitor/status", h.GetStatus)

	r.GET("/items", h.ListItems)
	r.GET("/items/:id", h.GetItem)
	r.POST("/items/:id/scrape", h.ManualScrape)

	r.GET("/purchases", h.ListPurchases)
	r.GET("/purchases/export", h.ExportPurchases)
	r.GET("/purchases/:id", h.GetPurchase)
	r.POST("/purchases/:id/cancel", h.CancelPurchase)

	return h
}

func (h *APIHandler) StartMonitor(c *gin.Context) {
	h.sched.Start()
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (h *APIHandler) StopMonitor(c *gin.Context) {
	h.sched.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *APIHandler) PauseMonitor(c *gin.Context) {
	if !h.sched.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "monitor is not running"})
		return
	}
	h.sched.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h *APIHandler) ResumeMonitor(c *gin.Context) {
	if !h.sched.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "monitor is not running"})
		return
	}
	h.sched.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (h *APIHandler) status() gin.H {
	return gin.H{
		"running":      h.sched.Running(),
		"paused":       h.sched.Paused(),
		"active_tiers": h.sched.ActiveTasks(),
		"queue_depth":  h.exec.QueueDepth(),
		"processing":   h.exec.Processing(),
		"cache_size":   h.cache.Len(),
	}
}

func (h *APIHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

// StatusStream pushes status snapshots over a websocket until the
// client disconnects.
func (h *APIHandler) StatusStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	// Drain client frames so pings/close are processed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(h.status()); err != nil {
				return
			}
		}
	}
}

func (h *APIHandler) ListItems(c *gin.Context) {
	var items []models.TrackedItem
	if err := h.db.Preload("Retailers").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type itemView struct {
		models.TrackedItem
		LatestProbes []cache.ProbeResult `json:"latest_probes,omitempty"`
	}
	out := make([]itemView, 0, len(items))
	for _, item := range items {
		out = append(out, itemView{
			TrackedItem:  item,
			LatestProbes: h.cache.AllForItem(item.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (h *APIHandler) GetItem(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}

	var item models.TrackedItem
	if err := h.db.Preload("Retailers").First(&item, uint(id)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item":          item,
		"latest_probes": h.cache.AllForItem(item.ID),
	})
}

// ManualScrape triggers a single-item scrape outside the tier schedule
// and returns the individual probe results synchronously.
func (h *APIHandler) ManualScrape(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	retailerID := c.Query("retailer")

	results, err := h.orch.ManualScrape(c.Request.Context(), uint(id), retailerID)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, monitor.ErrNoEnabledRetailer) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *APIHandler) ListPurchases(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	purchases, err := h.store.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

func (h *APIHandler) GetPurchase(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase id"})
		return
	}
	p, err := h.store.Get(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "purchase not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase": p})
}

func (h *APIHandler) CancelPurchase(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase id"})
		return
	}

	if err := h.exec.Cancel(uint(id)); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, executor.ErrInvalidState) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancel requested"})
}

// ExportPurchases streams the ledger as an xlsx workbook.
func (h *APIHandler) ExportPurchases(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	purchases, err := h.store.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("purchases-%s.xlsx", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")

	if err := report.WritePurchases(c.Writer, purchases); err != nil {
		log.Printf("failed to export purchases: %v", err)
	}
}
