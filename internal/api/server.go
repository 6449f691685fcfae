package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/authz"
	"github.com/fxlabs-dev/signalgate/internal/fire"
	"github.com/fxlabs-dev/signalgate/internal/mission"
	"github.com/fxlabs-dev/signalgate/internal/risk"
)

// Wire-visible error codes. The set is closed; anything unclassified is an
// internal error.
const (
	codeDuplicate       = "duplicate"
	codeMissionExpired  = "mission_expired"
	codeMissionNotFound = "mission_not_found"
	codeForbidden       = "forbidden"
	codeBadStopDistance = "invalid_sl_distance"
	codeCooldownActive  = "cooldown_active"
	codeMissionConflict = "mission_conflict"
	codeInternal        = "internal"
)

type fireBody struct {
	MissionID      string `json:"mission_id" binding:"required"`
	UserID         string `json:"user_id" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// Server is the HTTP surface for the UI collaborator.
type Server struct {
	authority *fire.Authority
	signer    *authz.Signer
	missions  *mission.Store
	logger    *zap.Logger

	httpServer *http.Server
}

// NewServer builds the gin router and wraps it in an http.Server on addr.
func NewServer(addr string, authority *fire.Authority, signer *authz.Signer, missions *mission.Store, logger *zap.Logger) *Server {
	s := &Server{
		authority: authority,
		signer:    signer,
		missions:  missions,
		logger:    logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	v1 := router.Group("/api/v1")
	v1.POST("/fire", s.handleFire)
	v1.GET("/missions/:id", s.handleGetMission)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// capabilityFromQuery rebuilds the presented capability from u/exp/sig.
// Any missing or malformed piece yields a capability that cannot verify.
func capabilityFromQuery(c *gin.Context, missionID string) (authz.Capability, bool) {
	user := c.Query("u")
	expRaw := c.Query("exp")
	sig := c.Query("sig")
	if user == "" || expRaw == "" || sig == "" {
		return authz.Capability{}, false
	}
	expUnix, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		return authz.Capability{}, false
	}
	return authz.Capability{
		UserID:    user,
		MissionID: missionID,
		ExpiresAt: time.Unix(expUnix, 0),
		Signature: sig,
	}, true
}

func (s *Server) handleFire(c *gin.Context) {
	var body fireBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad request"})
		return
	}

	cap, ok := capabilityFromQuery(c, body.MissionID)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": codeForbidden})
		return
	}

	result, err := s.authority.Fire(c.Request.Context(), fire.Request{
		MissionID:      body.MissionID,
		UserID:         body.UserID,
		IdempotencyKey: body.IdempotencyKey,
		Capability:     cap,
	})
	if err != nil {
		s.writeFireError(c, result, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"fire_id": result.FireID,
		"lot":     result.Lot,
	})
}

func (s *Server) writeFireError(c *gin.Context, result fire.Result, err error) {
	switch {
	case errors.Is(err, fire.ErrDuplicate):
		// The duplicate response carries the original fire_id so a
		// retrying client can converge on the first outcome.
		c.JSON(http.StatusConflict, gin.H{
			"ok":      false,
			"error":   codeDuplicate,
			"fire_id": result.FireID,
		})
	case errors.Is(err, authz.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": codeForbidden})
	case errors.Is(err, mission.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": codeMissionNotFound})
	case errors.Is(err, mission.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"ok": false, "error": codeMissionExpired})
	case errors.Is(err, mission.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": codeMissionConflict})
	case errors.Is(err, fire.ErrCooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": codeCooldownActive})
	case errors.Is(err, risk.ErrStopDistance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": codeBadStopDistance})
	default:
		s.logger.Error("fire request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": codeInternal})
	}
}

func (s *Server) handleGetMission(c *gin.Context) {
	missionID := c.Param("id")

	cap, ok := capabilityFromQuery(c, missionID)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": codeForbidden})
		return
	}
	if err := s.signer.Verify(cap, time.Now()); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": codeForbidden})
		return
	}

	m, err := s.missions.Get(c.Request.Context(), missionID, time.Now())
	if err != nil {
		if errors.Is(err, mission.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": codeMissionNotFound})
			return
		}
		s.logger.Error("mission lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": codeInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"mission": gin.H{
			"mission_id": m.MissionID,
			"symbol":     m.Symbol,
			"direction":  m.Direction,
			"entry":      m.Entry,
			"stop":       m.Stop,
			"target":     m.Target,
			"pattern":    m.Pattern,
			"status":     string(m.Status),
			"expires_at": m.ExpiresAt.UnixMilli(),
		},
	})
}
