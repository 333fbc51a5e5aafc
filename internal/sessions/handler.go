package sessions

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/live"
	"github.com/pulselive/backend/pkg/response"
)

// PresenceReader reads the current membership snapshot for a session, used
// by the discovery API to report viewer counts.
type PresenceReader interface {
	Snapshot(ctx context.Context, sessionID string) ([]string, error)
}

// Handler serves the session discovery endpoints. Results are poll-based
// and eventually consistent: a session ended moments ago may still appear
// until the next poll.
type Handler struct {
	repo     live.SessionRegistry
	presence PresenceReader
	logger   *zap.Logger
}

// NewHandler creates a discovery handler.
func NewHandler(repo live.SessionRegistry, presence PresenceReader, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, presence: presence, logger: logger}
}

// List returns active sessions, most recently started first.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.ListActive(c.Request.Context())
	if err != nil {
		h.logger.Error("list active sessions", zap.Error(err))
		response.Internal(c, "could not list sessions")
		return
	}
	response.OK(c, list)
}

// ViewerCount returns the presence-derived viewer count for one session.
// Host entries (presence keys prefixed "host:") are excluded.
func (h *Handler) ViewerCount(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ids, err := h.presence.Snapshot(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("presence snapshot", zap.String("session_id", id), zap.Error(err))
		response.ServiceUnavailable(c, "presence unavailable")
		return
	}
	count := 0
	for _, member := range ids {
		if !strings.HasPrefix(member, "host:") {
			count++
		}
	}
	response.OK(c, gin.H{"session_id": id, "viewers": count})
}
