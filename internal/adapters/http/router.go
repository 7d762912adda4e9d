package http

import (
	"context"

	"github.com/dkeye/DuelRelay/internal/adapters/signal"
	"github.com/dkeye/DuelRelay/internal/app/orch"
	"github.com/dkeye/DuelRelay/internal/config"
	handlers "github.com/dkeye/DuelRelay/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

const clientTokenKey = "client_token"

// ClientTokenMiddleware keeps a stable client token in the session store.
// Players without cookies (native clients) get a fresh one per request.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
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

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("DuelSessions", store))
	r.Use(ClientTokenMiddleware())

	handlers.NewHandlers(o).Register(r)

	ctrl := signal.NewSignalWSController(o,
		signal.NewRateLimiter(cfg.Relay.RateLimit, cfg.Relay.RateWindow),
		signal.Options{
			ReadLimit:  cfg.ReadLimit,
			WriteWait:  cfg.WriteWait,
			SendBuffer: cfg.SendBuffer,
		})
	r.GET(cfg.WSPath, func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("ct", c.GetString(clientTokenKey)).Msg("ws endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("ws", cfg.WSPath).Msg("router setup")
	return r
}
