// Package api exposes the REST surface over the session registry.
package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/matheus3301/wappd/internal/session"
)

// Server is the HTTP facade. Handlers are thin: they validate input,
// resolve the session, and delegate to it; all conversation state lives
// behind the session's store.
type Server struct {
	echo      *echo.Echo
	registry  *session.Registry
	paths     session.Paths
	logger    *zap.Logger
	startedAt time.Time
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(registry *session.Registry, paths session.Paths, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		registry:  registry,
		paths:     paths,
		logger:    logger,
		startedAt: time.Now(),
	}

	e.GET("/health", s.handleHealth)
	e.GET("/sessions", s.handleListSessions)
	e.POST("/sessions/create", s.handleCreateSession)
	e.DELETE("/sessions/:id", s.handleDeleteSession)
	e.GET("/media/:session/:file", s.handleMedia)

	sg := e.Group("/:session")
	sg.GET("/status", s.handleStatus)
	sg.GET("/qr.png", s.handleQR)
	sg.POST("/restart", s.handleRestart)

	sg.GET("/chats", s.handleListChats)
	sg.DELETE("/chats/:chat_id", s.handleDeleteChat)
	sg.POST("/chats/read", s.handleMarkRead)
	sg.POST("/chats/pin", s.handlePinChat)
	sg.POST("/chats/archive", s.handleArchiveChat)
	sg.POST("/chats/mute", s.handleMuteChat)

	sg.GET("/messages", s.handleListMessages)
	sg.GET("/updates", s.handleUpdates)
	sg.POST("/send", s.handleSend)
	sg.POST("/send/location", s.handleSendLocation)
	sg.POST("/send/contact", s.handleSendContact)
	sg.POST("/send/poll", s.handleSendPoll)
	sg.POST("/react", s.handleReact)
	sg.POST("/edit", s.handleEdit)
	sg.POST("/delete", s.handleDeleteMessage)
	sg.POST("/presence", s.handlePresence)

	sg.GET("/groups/:chat_id", s.handleGroupInfo)
	sg.POST("/groups/create", s.handleCreateGroup)
	sg.POST("/groups/invite", s.handleGroupInvite)
	sg.POST("/groups/leave", s.handleLeaveGroup)
	sg.GET("/profile-picture", s.handleProfilePicture)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree; tests drive it directly.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "healthy",
		"sessions":   len(s.registry.List()),
		"uptime_sec": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleMedia(c echo.Context) error {
	id := c.Param("session")
	if s.registry.Get(id) == nil {
		return jsonError(c, http.StatusNotFound, "session not found")
	}
	file := c.Param("file")
	if file == "" || file != filepath.Base(file) || strings.Contains(file, "..") {
		return jsonError(c, http.StatusBadRequest, "invalid file name")
	}
	return c.File(filepath.Join(s.paths.SessionMediaDir(id), file))
}

// lookup resolves the :session path segment. A nil return means the
// 404 has already been written.
func (s *Server) lookup(c echo.Context) *session.Session {
	sess := s.registry.Get(c.Param("session"))
	if sess == nil {
		_ = jsonError(c, http.StatusNotFound, "session not found")
	}
	return sess
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// commandError maps session command failures onto HTTP status codes.
func commandError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return jsonError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNotConnected):
		return jsonError(c, http.StatusConflict, err.Error())
	default:
		return jsonError(c, http.StatusBadGateway, err.Error())
	}
}
