package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"

	"github.com/incometax/taxbot/plugin/llm"
	"github.com/incometax/taxbot/plugin/vectorstore"
	"github.com/incometax/taxbot/server/assistant"
	"github.com/incometax/taxbot/store"
)

type chatRequest struct {
	Content string `json:"content"`
}

type sessionResponse struct {
	UID       string `json:"uid"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`
}

type messageResponse struct {
	ID        int32  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	HTML      string `json:"html,omitempty"`
	CreatedTs int64  `json:"createdTs"`
}

type sourceResponse struct {
	ID     string  `json:"id"`
	Source string  `json:"source,omitempty"`
	Score  float32 `json:"score"`
}

type doneResponse struct {
	Answer     string           `json:"answer"`
	Input      string           `json:"input"`
	Question   string           `json:"question"`
	Standalone string           `json:"standalone"`
	Sources    []sourceResponse `json:"sources"`
}

func (s *APIV1Service) registerChatRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/sessions", s.listChatSessions)
	g.POST("/sessions", s.createChatSession)
	g.DELETE("/sessions/:uid", s.deleteChatSession)
	g.GET("/sessions/:uid/messages", s.listChatMessages)
	g.POST("/sessions/:uid/chat", s.handleChat)
}

func convertSession(sess *store.ChatSession) sessionResponse {
	return sessionResponse{
		UID:       sess.UID,
		CreatedTs: sess.CreatedTs,
		UpdatedTs: sess.UpdatedTs,
	}
}

func (s *APIV1Service) listChatSessions(c *echo.Context) error {
	sessions, err := s.Store.ListChatSessions(c.Request().Context(), &store.FindChatSession{})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, assistant.PublicMessage(err))
	}
	resp := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, convertSession(sess))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) createChatSession(c *echo.Context) error {
	ctx := c.Request().Context()
	history, err := s.Store.GetOrCreateHistory(ctx, shortuuid.New())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, assistant.PublicMessage(err))
	}
	sess, err := s.Store.GetChatSession(ctx, history.SessionUID())
	if err != nil || sess == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}
	return c.JSON(http.StatusCreated, convertSession(sess))
}

func (s *APIV1Service) deleteChatSession(c *echo.Context) error {
	uid := c.Param("uid")
	if err := s.Store.DeleteChatSession(c.Request().Context(), uid); err != nil {
		return toHTTPError(err)
	}
	s.ForgetSessions(uid)
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) listChatMessages(c *echo.Context) error {
	uid := c.Param("uid")
	ctx := c.Request().Context()
	sess, err := s.Store.GetChatSession(ctx, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, assistant.PublicMessage(err))
	}
	if sess == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	msgs, err := s.Store.ListChatMessages(ctx, &store.FindChatMessage{SessionUID: uid})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, assistant.PublicMessage(err))
	}
	renderHTML := c.QueryParam("render") == "html"
	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		item := messageResponse{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedTs: m.CreatedTs,
		}
		if renderHTML {
			if item.HTML, err = renderMarkdown(m.Content); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, assistant.PublicMessage(err))
			}
		}
		resp = append(resp, item)
	}
	return c.JSON(http.StatusOK, resp)
}

func renderMarkdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(source), &buf); err != nil {
		return "", errors.Wrap(err, "failed to render markdown")
	}
	return buf.String(), nil
}

// handleChat answers a question over server-sent events: a "token" event per
// chunk, then "done" with the full answer or "error".
func (s *APIV1Service) handleChat(c *echo.Context) error {
	uid := c.Param("uid")
	var req chatRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content required")
	}
	if !s.allow(uid) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests for this session")
	}

	ctx := c.Request().Context()
	stream, err := s.Assistant.Ask(ctx, uid, req.Content)
	if err != nil {
		s.Logger.Warn().Err(err).Str("session", uid).Msg("chat request failed")
		return toHTTPError(err)
	}

	rw := c.Response()
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)

	emit := func(eventType, payload string) {
		data, _ := json.Marshal(map[string]string{"type": eventType, "content": payload})
		fmt.Fprintf(rw, "data: %s\n\n", data)
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
	}
	emitJSON := func(eventType string, obj any) {
		inner, _ := json.Marshal(obj)
		data, _ := json.Marshal(map[string]json.RawMessage{
			"type":    json.RawMessage(`"` + eventType + `"`),
			"payload": inner,
		})
		fmt.Fprintf(rw, "data: %s\n\n", data)
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
	}

	for chunk := range stream.Chunks() {
		emit("token", chunk.Text)
	}
	if err := stream.Err(); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.Logger.Warn().Err(err).Str("session", uid).Msg("answer generation failed")
		}
		emit("error", assistant.PublicMessage(err))
		return nil
	}

	sources := make([]sourceResponse, 0, len(stream.Fragments))
	for _, f := range stream.Fragments {
		sources = append(sources, sourceResponse{ID: f.ID, Source: f.Metadata["source"], Score: f.Score})
	}
	emitJSON("done", doneResponse{
		Answer:     stream.Answer(),
		Input:      stream.Input,
		Question:   stream.Question,
		Standalone: stream.Standalone,
		Sources:    sources,
	})
	return nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, assistant.ErrEmptyQuestion):
		return echo.NewHTTPError(http.StatusBadRequest, assistant.PublicMessage(err))
	case errors.Is(err, store.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, assistant.PublicMessage(err))
	case errors.Is(err, vectorstore.ErrRetrievalUnavailable), errors.Is(err, llm.ErrModelUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, assistant.PublicMessage(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusRequestTimeout, assistant.PublicMessage(err))
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, assistant.PublicMessage(err))
	}
}
