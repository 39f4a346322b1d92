package track

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	mid "GProject/middleware"
	"GProject/module/track/analyze"
	"GProject/module/track/geofence"
	trksrv "GProject/module/track/service"
	"GProject/module/track/store"
	"GProject/tools/decode"
	"GProject/tools/errs"
)

// CacheStats 缓存命中统计来源（FastCache / Sharded 均满足）。
type CacheStats interface {
	HitRate() (hits, misses int64, pct float64)
}

// LiveStats 实时推送统计来源（live.Hub 满足）。
type LiveStats interface {
	ClientCount() int
	DroppedFrames() uint64
}

// Handler HTTP 入口。鉴权由 middleware 注入，这里只做参数解析与编排。
type Handler struct {
	svc   *trksrv.TrackingService
	db    store.Store
	ws    gin.HandlerFunc // live hub 的升级入口，可为 nil
	cache CacheStats      // 可为 nil
	live  LiveStats       // 可为 nil
}

func NewHandler(svc *trksrv.TrackingService, db store.Store, ws gin.HandlerFunc, cache CacheStats, live LiveStats) *Handler {
	return &Handler{svc: svc, db: db, ws: ws, cache: cache, live: live}
}

// RegisterRoutes 挂路由。上报与查询开放，管理面走鉴权。
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	mid.POST(r, "/location/report", h.Report, mid.RouteOpt{})
	mid.POST(r, "/location/report/batch", h.ReportBatch, mid.RouteOpt{})

	mid.GET(r, "/location/current/:entity", h.Current, mid.RouteOpt{})
	mid.GET(r, "/location/recent/:entity", h.Recent, mid.RouteOpt{})
	mid.GET(r, "/location/track/:entity", h.Track, mid.RouteOpt{})
	mid.GET(r, "/location/nearby", h.Nearby, mid.RouteOpt{})
	mid.GET(r, "/location/stats", h.Stats, mid.RouteOpt{})

	mid.GET(r, "/route/analyze/:entity", h.AnalyzeRoute, mid.RouteOpt{})
	mid.POST(r, "/route/eta", h.ETA, mid.RouteOpt{})
	mid.POST(r, "/route/optimize", h.Optimize, mid.RouteOpt{})

	mid.POST(r, "/geofence", h.CreateFence, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/geofence", h.ListFences, mid.RouteOpt{})
	mid.POST(r, "/geofence/:id/deactivate", h.DeactivateFence, mid.RouteOpt{IsAuth: true})

	mid.POST(r, "/admin/partitions/ensure", h.EnsurePartitions, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/admin/partitions/cleanup", h.CleanupPartitions, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/admin/buffer/stats", h.BufferStats, mid.RouteOpt{IsAuth: true})

	if h.ws != nil {
		mid.GET(r, "/ws/live", h.ws, mid.RouteOpt{})
	}
}

// ===== 应答 =====

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func fail(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.CodeValidation, errs.CodeMalformedRecord:
		status = http.StatusBadRequest
	case errs.CodeNotFound:
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"code": code, "msg": err.Error()})
}

// ===== 摄入 =====

func (h *Handler) Report(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	pl, err := bindPayload[trksrv.PointPayload](raw)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.svc.IngestPoint(c.Request.Context(), pl.ToModel(), raw); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"accepted": 1})
}

func (h *Handler) ReportBatch(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	pl, err := bindPayload[trksrv.BatchPayload](raw)
	if err != nil {
		fail(c, err)
		return
	}
	res := h.svc.IngestBatch(c.Request.Context(), pl.EntityID, pl.ToModels(), nil)
	ok(c, res)
}

// ===== 查询 =====

func (h *Handler) Current(c *gin.Context) {
	p, err := h.svc.Engine().CurrentLocation(c.Request.Context(), c.Param("entity"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, p)
}

func (h *Handler) Recent(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	pts, err := h.svc.Engine().RecentTrack(c.Request.Context(), c.Param("entity"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"points": pts, "count": len(pts)})
}

func (h *Handler) Track(c *gin.Context) {
	from, to, err := timeRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	limit := intQuery(c, "limit", 1000)
	pts, err := h.svc.Engine().Track(c.Request.Context(), c.Param("entity"), from, to, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"points": pts, "count": len(pts)})
}

func (h *Handler) Nearby(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	if err1 != nil || err2 != nil {
		fail(c, errs.ErrValidation.WrapMsg("lat/lng are required"))
		return
	}
	radius := floatQuery(c, "radius_km", 5)
	window := time.Duration(intQuery(c, "window_s", 300)) * time.Second

	hits, err := h.svc.Engine().Nearby(c.Request.Context(), lat, lng, radius, window)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"entities": hits, "count": len(hits)})
}

func (h *Handler) Stats(c *gin.Context) {
	entities := splitList(c.Query("entities"))
	if len(entities) == 0 {
		fail(c, errs.ErrValidation.WrapMsg("entities is required"))
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	stats, err := h.svc.Engine().Stats(c.Request.Context(), entities, from, to)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, stats)
}

// ===== 分析 =====

func (h *Handler) AnalyzeRoute(c *gin.Context) {
	from, to, err := timeRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	m, err := h.svc.AnalyzeRoute(c.Request.Context(), c.Param("entity"), from, to)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, m)
}

type etaReq struct {
	EntityID string  `json:"entity_id"`
	DestLat  float64 `json:"dest_lat"`
	DestLng  float64 `json:"dest_lng"`
}

func (h *Handler) ETA(c *gin.Context) {
	var req etaReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	cur, err := h.svc.Engine().CurrentLocation(c.Request.Context(), req.EntityID)
	if err != nil {
		fail(c, err)
		return
	}
	eta := h.svc.Analyzer().EstimateETA(cur, req.DestLat, req.DestLng, time.Now().UTC())
	ok(c, eta)
}

type optimizeReq struct {
	StartLat  float64            `json:"start_lat"`
	StartLng  float64            `json:"start_lng"`
	Waypoints []analyze.Waypoint `json:"waypoints"`
}

func (h *Handler) Optimize(c *gin.Context) {
	var req optimizeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	if len(req.Waypoints) == 0 {
		fail(c, errs.ErrValidation.WrapMsg("waypoints is empty"))
		return
	}
	plan := h.svc.Analyzer().OrderByDistance(req.StartLat, req.StartLng, req.Waypoints)
	ok(c, plan)
}

// ===== 围栏 =====

func (h *Handler) CreateFence(c *gin.Context) {
	var f geofence.Fence
	if err := c.ShouldBindJSON(&f); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	if err := h.svc.Fences().Create(c.Request.Context(), &f); err != nil {
		fail(c, err)
		return
	}
	ok(c, f)
}

func (h *Handler) ListFences(c *gin.Context) {
	fences, err := h.svc.Fences().ListActive(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"fences": fences, "count": len(fences)})
}

func (h *Handler) DeactivateFence(c *gin.Context) {
	if err := h.svc.Fences().Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"id": c.Param("id")})
}

// ===== 管理面 =====

func (h *Handler) EnsurePartitions(c *gin.Context) {
	days := intQuery(c, "days", 7)
	created, err := h.db.EnsurePartitions(c.Request.Context(), days)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"created": created})
}

func (h *Handler) CleanupPartitions(c *gin.Context) {
	retention := intQuery(c, "retention_days", 30)
	dropped, err := h.db.DropExpiredPartitions(c.Request.Context(), retention)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"dropped": dropped})
}

func (h *Handler) BufferStats(c *gin.Context) {
	out := gin.H{"buffer": h.svc.BufferStats()}
	if h.cache != nil {
		hits, misses, pct := h.cache.HitRate()
		out["cache"] = gin.H{"hits": hits, "misses": misses, "hit_pct": pct}
	}
	if h.live != nil {
		out["live"] = gin.H{
			"clients":        h.live.ClientCount(),
			"dropped_frames": h.live.DroppedFrames(),
		}
	}
	ok(c, out)
}

// ===== 参数工具 =====

func bindPayload[T any](raw map[string]any) (*T, error) {
	pl, err := decode.DecodeMap[T](raw)
	if err != nil {
		return nil, errs.ErrValidation.WrapMsg(err.Error())
	}
	return pl, nil
}

func intQuery(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}

func floatQuery(c *gin.Context, key string, def float64) float64 {
	if v, err := strconv.ParseFloat(c.Query(key), 64); err == nil {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// timeRange parses from/to query params (epoch seconds); defaults to the
// trailing 24h window.
func timeRange(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now
	if v := c.Query("from"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return from, to, errs.ErrValidation.WrapMsg("from must be epoch seconds")
		}
		from = time.Unix(sec, 0).UTC()
	}
	if v := c.Query("to"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return from, to, errs.ErrValidation.WrapMsg("to must be epoch seconds")
		}
		to = time.Unix(sec, 0).UTC()
	}
	if !to.After(from) {
		return from, to, errs.ErrValidation.WrapMsg("to must be after from")
	}
	return from, to, nil
}
