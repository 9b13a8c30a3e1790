package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const defaultMessagePage = 50

func (s *Server) handleListMessages(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	chatID := c.QueryParam("chat_id")
	if chatID == "" {
		return jsonError(c, http.StatusBadRequest, "chat_id is required")
	}
	if sess.Store().GetChat(chatID) == nil {
		return jsonError(c, http.StatusNotFound, "chat not found")
	}

	limit := defaultMessagePage
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return jsonError(c, http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	var before int64
	if raw := c.QueryParam("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "invalid before")
		}
		before = n
	}

	messages, hasMore := sess.Store().ListMessages(chatID, limit, before)
	return c.JSON(http.StatusOK, map[string]any{
		"messages": messages,
		"has_more": hasMore,
	})
}

func (s *Server) handleUpdates(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	var since uint64
	if raw := c.QueryParam("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "invalid since")
		}
		since = n
	}
	updates, seq := sess.Store().Delta(since)
	return c.JSON(http.StatusOK, map[string]any{
		"updates": updates,
		"seq":     seq,
	})
}

type sendRequest struct {
	ChatID   string `json:"chat_id"`
	Text     string `json:"text"`
	QuotedID string `json:"quoted_id"`
}

func (s *Server) handleSend(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" || req.Text == "" {
		return jsonError(c, http.StatusBadRequest, "chat_id and text are required")
	}
	msg, err := sess.SendText(c.Request().Context(), req.ChatID, req.Text, req.QuotedID)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"id": msg.ID, "message": msg})
}

type sendLocationRequest struct {
	ChatID    string  `json:"chat_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

func (s *Server) handleSendLocation(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	var req sendLocationRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" {
		return jsonError(c, http.StatusBadRequest, "chat_id is required")
	}
	msg, err := sess.SendLocation(c.Request().Context(), req.ChatID, req.Latitude, req.Longitude, req.Name, req.Address)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"id": msg.ID, "message": msg})
}

type sendContactRequest struct {
	ChatID string `json:"chat_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
}

func (s *Server) handleSendContact(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	var req sendContactRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" || req.Name == "" || req.Phone == "" {
		return jsonError(c, http.StatusBadRequest, "chat_id, name and phone are required")
	}
	msg, err := sess.SendContact(c.Request().Context(), req.ChatID, req.Name, req.Phone)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"id": msg.ID, "message": msg})
}

type sendPollRequest struct {
	ChatID      string   `json:"chat_id"`
	Name        string   `json:"name"`
	Options     []string `json:"options"`
	MultiSelect bool     `json:"multi_select"`
}

func (s *Server) handleSendPoll(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	var req sendPollRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" || req.Name == "" || len(req.Options) < 2 {
		return jsonError(c, http.StatusBadRequest, "chat_id, name and at least two options are required")
	}
	selectable := 1
	if req.MultiSelect {
		selectable = 0
	}
	msg, err := sess.SendPoll(c.Request().Context(), req.ChatID, req.Name, req.Options, selectable)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"id": msg.ID, "message": msg})
}

type messageActionRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Text      string `json:"text"`
}

func (s *Server) bindMessageAction(c echo.Context) (*messageActionRequest, error) {
	var req messageActionRequest
	if err := c.Bind(&req); err != nil {
		return nil, jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" || req.MessageID == "" {
		return nil, jsonError(c, http.StatusBadRequest, "chat_id and message_id are required")
	}
	return &req, nil
}

func (s *Server) handleReact(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	req, err := s.bindMessageAction(c)
	if req == nil {
		return err
	}
	if err := sess.React(c.Request().Context(), req.ChatID, req.MessageID, req.Emoji); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleEdit(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	req, err := s.bindMessageAction(c)
	if req == nil {
		return err
	}
	if req.Text == "" {
		return jsonError(c, http.StatusBadRequest, "text is required")
	}
	if err := sess.Edit(c.Request().Context(), req.ChatID, req.MessageID, req.Text); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeleteMessage(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	req, err := s.bindMessageAction(c)
	if req == nil {
		return err
	}
	if err := sess.Delete(c.Request().Context(), req.ChatID, req.MessageID); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
