package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"sessions": s.registry.List()})
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	sess, err := s.registry.GetOrCreate(c.Request().Context(), req.SessionID)
	if err != nil {
		s.logger.Error("session create failed",
			zap.String("session", req.SessionID), zap.Error(err))
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sess.Status())
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if err := s.registry.Destroy(c.Request().Context(), id); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleStatus(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	snap := sess.Status()
	return c.JSON(http.StatusOK, map[string]any{
		"connection": snap.State,
		"has_qr":     snap.HasQR,
		"qr":         sess.QRCode(),
		"last_error": snap.LastError,
		"phone":      snap.Phone,
		"chat_count": snap.Chats,
		"msg_count":  snap.Messages,
		"uptime_sec": snap.UptimeSec,
	})
}

func (s *Server) handleQR(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	code := sess.QRCode()
	if code == "" {
		return jsonError(c, http.StatusNotFound, "no pairing code pending")
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 512)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "qr render failed")
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

func (s *Server) handleRestart(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	if err := sess.Restart(c.Request().Context()); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, sess.Status())
}
