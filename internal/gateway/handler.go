package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/live"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// presenceSync is pushed to the browser whenever the membership changes.
type presenceSync struct {
	Identities []string `json:"identities"`
	Count      int      `json:"count"`
}

// ServeWs bridges a browser participant onto a session's signaling and
// presence topics: inbound "signal" frames are published to the broadcast
// topic, every topic message and presence snapshot is pushed back out. The
// browser filters on to/from exactly as a direct subscriber would.
func ServeWs(signals live.SignalingChannel, presence live.PresenceChannel, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		role := c.Query("role")
		identity := c.Query("identity")
		if _, err := uuid.Parse(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		switch role {
		case "host":
			if identity == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "host requires identity"})
				return
			}
		case "viewer":
			if identity == "" {
				identity = live.NewViewerIdentity()
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be host or viewer"})
			return
		}

		presenceKey := identity
		if role == "host" {
			presenceKey = "host:" + identity
		}
		member, err := presence.Join(c.Request.Context(), sessionID, presenceKey, live.PresenceMeta{
			Role:     role,
			JoinedAt: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			logger.Warn("presence join failed", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
			return
		}

		cl := &client{
			sessionID: sessionID,
			identity:  identity,
			signals:   signals,
			member:    member,
			send:      make(chan Envelope, 256),
			logger:    logger,
		}

		sub, err := signals.Subscribe(c.Request.Context(), sessionID, func(msg live.Message) {
			data, err := json.Marshal(msg)
			if err != nil {
				return
			}
			cl.enqueue(Envelope{Event: "signal", Data: data})
		})
		if err != nil {
			member.Leave()
			logger.Warn("signaling subscribe failed", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signaling unavailable"})
			return
		}
		cl.sub = sub

		member.OnSync(func(identities []string) {
			data, err := json.Marshal(presenceSync{Identities: identities, Count: len(identities)})
			if err != nil {
				return
			}
			cl.enqueue(Envelope{Event: "presence_sync", Data: data})
		})

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			sub.Close()
			member.Leave()
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		cl.conn = conn

		// Tell the browser its identity so it can address signals.
		welcome, _ := json.Marshal(gin.H{"identity": identity, "session_id": sessionID})
		cl.enqueue(Envelope{Event: "welcome", Data: welcome})

		logger.Info("participant connected",
			zap.String("session_id", sessionID),
			zap.String("role", role),
			zap.String("identity", identity),
		)
		go cl.writePump()
		cl.readPump()
	}
}
