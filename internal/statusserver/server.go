package statusserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/internal/history"
	"github.com/betbot/diparb/pkg/config"
)

// EngineStatus 状态接口需要的引擎只读面
type EngineStatus interface {
	Running() bool
	Market() *domain.Market
	CurrentRound() *domain.Round
	Config() config.EngineConfig
	Statistics() engine.Stats
}

// RedemptionSource 待赎回队列只读面
type RedemptionSource interface {
	PendingRedemptions() []domain.PendingRedemption
}

// RoundStore 历史落库只读面
type RoundStore interface {
	RecentRounds(ctx context.Context, limit int) ([]history.RoundRecord, error)
	RecentSettlements(ctx context.Context, limit int) ([]history.SettlementRecord, error)
}

// Server 只读状态 HTTP 接口。不碰引擎状态，只暴露快照。
type Server struct {
	eng         EngineStatus
	redemptions RedemptionSource
	store       RoundStore

	httpSrv *http.Server
	log     *logrus.Entry
}

// New redemptions 与 store 可为 nil（对应端点返回空/不可用）
func New(eng EngineStatus, redemptions RedemptionSource, store RoundStore) *Server {
	return &Server{
		eng:         eng,
		redemptions: redemptions,
		store:       store,
		log:         logrus.WithField("component", "statusserver"),
	}
}

// Router 路由装配
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/status", s.handleStatus)
	r.GET("/stats", s.handleStats)
	r.GET("/rounds", s.handleRounds)
	r.GET("/settlements", s.handleSettlements)
	r.GET("/redemptions", s.handleRedemptions)
	return r
}

// Start 起 HTTP 服务，阻塞到 Shutdown 或出错
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infof("✅ 状态接口监听 %s", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 优雅停机
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	out := gin.H{
		"running": s.eng.Running(),
	}
	if m := s.eng.Market(); m != nil {
		out["market"] = m
	}
	if r := s.eng.CurrentRound(); r != nil {
		out["round"] = r
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":  s.eng.Statistics(),
		"config": s.eng.Config(),
	})
}

func (s *Server) handleRounds(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "历史落库未启用"})
		return
	}
	rounds, err := s.store.RecentRounds(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

func (s *Server) handleSettlements(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "历史落库未启用"})
		return
	}
	settles, err := s.store.RecentSettlements(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": settles})
}

func (s *Server) handleRedemptions(c *gin.Context) {
	if s.redemptions == nil {
		c.JSON(http.StatusOK, gin.H{"redemptions": []domain.PendingRedemption{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"redemptions": s.redemptions.PendingRedemptions()})
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
