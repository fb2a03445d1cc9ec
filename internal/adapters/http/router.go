package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/qq276356648/SmartProctor/internal/adapters/signal"
	"github.com/qq276356648/SmartProctor/internal/app/orch"
	"github.com/qq276356648/SmartProctor/internal/config"
	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog/log"
)

// UserHeader carries the identity established by the fronting auth proxy.
const UserHeader = "X-User-ID"

// IdentityMiddleware stores the caller's user id under "user_id". Browsers
// cannot set headers on a websocket handshake, so ?user= is accepted too.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader(UserHeader)
		if user == "" {
			user = c.Query("user")
		}
		c.Set("user_id", user)
		c.Set("request_id", uuid.NewString())
		c.Next()
	}
}

func requireUser(c *gin.Context) (domain.UserID, bool) {
	user, err := domain.ParseUserID(c.GetString("user_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return "", false
	}
	return user, true
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(IdentityMiddleware())

	ctrl := signal.NewSignalWSController(o, signal.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst))
	if cfg.ReadLimit > 0 {
		ctrl.ReadLimit = cfg.ReadLimit
	}
	if cfg.PingPeriod > 0 {
		ctrl.PingPeriod = cfg.PingPeriod
	}
	if cfg.SendBuffer > 0 {
		ctrl.SendBuffer = cfg.SendBuffer
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "exams": len(o.Registry.Exams())})
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString("user_id")).
			Str("request_id", c.GetString("request_id")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/exams/:id/admission", func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}
		role, err := domain.ParseRole(c.Query("role"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		exam := domain.ExamID(c.Param("id"))
		d, err := o.Admission(c.Request.Context(), exam, user, role)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("exam", string(exam)).Msg("admission lookup")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "directory unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"allowed": d.Allowed(),
			"code":    d.Code(),
			"reason":  d.Reason.String(),
			"message": d.Message(),
		})
	})

	api.GET("/exams/:id/participants", func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}
		exam := domain.ExamID(c.Param("id"))
		// Only people enrolled in the exam may see who is connected.
		e, err := o.Directory.GetEnrollment(c.Request.Context(), exam, user)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "directory unavailable"})
			return
		}
		if e == domain.EnrollmentNone {
			c.JSON(http.StatusForbidden, gin.H{"error": "not enrolled"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"exam":         exam,
			"participants": o.Snapshot(exam),
			"proctors":     o.Registry.ListProctors(exam),
		})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
