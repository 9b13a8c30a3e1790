package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleGroupInfo(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	info, err := sess.GroupInfo(c.Request().Context(), c.Param("chat_id"))
	if err != nil {
		return commandError(c, err)
	}
	participants := make([]string, 0, len(info.Participants))
	admins := make([]string, 0)
	for _, p := range info.Participants {
		participants = append(participants, p.JID.ToNonAD().String())
		if p.IsAdmin || p.IsSuperAdmin {
			admins = append(admins, p.JID.ToNonAD().String())
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":           info.JID.String(),
		"name":         info.Name,
		"topic":        info.Topic,
		"owner":        info.OwnerJID.ToNonAD().String(),
		"created_at":   info.GroupCreated.Unix(),
		"participants": participants,
		"admins":       admins,
	})
}

type createGroupRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

func (s *Server) handleCreateGroup(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	var req createGroupRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || len(req.Participants) == 0 {
		return jsonError(c, http.StatusBadRequest, "name and participants are required")
	}
	info, err := sess.CreateGroup(c.Request().Context(), req.Name, req.Participants)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"id":   info.JID.String(),
		"name": info.Name,
	})
}

type groupActionRequest struct {
	ChatID string `json:"chat_id"`
}

func (s *Server) handleGroupInvite(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	var req groupActionRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" {
		return jsonError(c, http.StatusBadRequest, "chat_id is required")
	}
	link, err := sess.GroupInviteLink(c.Request().Context(), req.ChatID)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"invite_link": link})
}

func (s *Server) handleLeaveGroup(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	var req groupActionRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" {
		return jsonError(c, http.StatusBadRequest, "chat_id is required")
	}
	if err := sess.LeaveGroup(c.Request().Context(), req.ChatID); err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleProfilePicture(c echo.Context) error {
	sess := s.lookup(c)
	if sess == nil {
		return nil
	}
	chatID := c.QueryParam("chat_id")
	if chatID == "" {
		return jsonError(c, http.StatusBadRequest, "chat_id is required")
	}
	url, err := sess.ProfilePictureURL(c.Request().Context(), chatID)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}
