package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

const defaultChatPage = 50

func (s *Server) handleListChats(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}

	limit := defaultChatPage
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return jsonError(c, http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	var cursor int64
	if raw := c.QueryParam("cursor"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "invalid cursor")
		}
		cursor = n
	}

	chats, next := sess.Store().ListChats(limit, cursor)
	return c.JSON(http.StatusOK, map[string]any{
		"chats":       chats,
		"next_cursor": next,
	})
}

func (s *Server) handleDeleteChat(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	if err := sess.DeleteChat(c.Param("chat_id")); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}

type chatRequest struct {
	ChatID     string   `json:"chat_id"`
	MessageIDs []string `json:"message_ids"`
	Pinned     bool     `json:"pinned"`
	Archived   bool     `json:"archived"`
	Hours      float64  `json:"hours"`
}

func (s *Server) bindChatRequest(c echo.Context) (*chatRequest, error) {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return nil, jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" {
		return nil, jsonError(c, http.StatusBadRequest, "chat_id is required")
	}
	return &req, nil
}

func (s *Server) handleMarkRead(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	req, err := s.bindChatRequest(c)
	if req == nil {
		return err
	}
	if err := sess.MarkRead(c.Request().Context(), req.ChatID, req.MessageIDs); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePinChat(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	req, err := s.bindChatRequest(c)
	if req == nil {
		return err
	}
	if err := sess.SetPinned(c.Request().Context(), req.ChatID, req.Pinned); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleArchiveChat(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	req, err := s.bindChatRequest(c)
	if req == nil {
		return err
	}
	if err := sess.SetArchived(c.Request().Context(), req.ChatID, req.Archived); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMuteChat(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	req, err := s.bindChatRequest(c)
	if req == nil {
		return err
	}
	if req.Hours < 0 {
		return jsonError(c, http.StatusBadRequest, "hours must be >= 0")
	}
	duration := time.Duration(req.Hours * float64(time.Hour))
	if err := sess.SetMuted(c.Request().Context(), req.ChatID, duration); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type presenceRequest struct {
	ChatID string `json:"chat_id"`
	State  string `json:"state"`
}

func (s *Server) handlePresence(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	var req presenceRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.State == "" {
		return jsonError(c, http.StatusBadRequest, "state is required")
	}

	var err error
	if req.ChatID == "" {
		err = sess.Presence(c.Request().Context(), req.State)
	} else {
		err = sess.Typing(c.Request().Context(), req.ChatID, req.State)
	}
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
