// Package server is the pulsed side of the signaling channel: a gin router
// upgrading to one websocket per client, backed by the shared memstore.
package server

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/config"
	"github.com/rajnish8869/Pulse/internal/store/memstore"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientTokenMiddleware tags every browser/client with a stable token used
// for connection-level logging.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires the store endpoint onto a gin engine.
func SetupRouter(ctx context.Context, cfg *config.Config, store *memstore.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookies := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PulseSessions", cookies))
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api")
	api.GET("/ws/store", func(c *gin.Context) {
		handleStoreWS(ctx, cfg, store, c)
	})

	log.Info().Str("module", "store.server").Msg("router setup")
	return r
}

func handleStoreWS(ctx context.Context, cfg *config.Config, store *memstore.Store, c *gin.Context) {
	token := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "store.server").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(cfg.ReadLimit)

	conn := newConn(ws, store, token)
	ctx, cancel := context.WithCancel(ctx)

	log.Info().Str("module", "store.server").Str("token", token).Msg("client connected")
	go conn.writePump(ctx)
	go conn.readPump(ctx, cancel)
}
