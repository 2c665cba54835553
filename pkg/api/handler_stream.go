package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/openscribe/scribed/pkg/stream"
)

// streamWriteTimeout bounds each outbound stream message write.
const streamWriteTimeout = 10 * time.Second

// streamControl is a client → server control message on the stream socket.
// Audio arrives as binary PCM16 frames; everything else is JSON text.
type streamControl struct {
	Type     string  `json:"type"`
	ModelID  *string `json:"model_id,omitempty"`
	Language string  `json:"language,omitempty"`
}

// streamHandler handles GET /api/v1/stream/ws — live transcription.
func (s *Server) streamHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.CORSOrigins,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request().Context()
	session := stream.NewSession(s.modelService, s.loader)

	sendStreamJSON(ctx, conn, map[string]any{"type": "ready"})

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return nil // client disconnected
		}

		switch msgType {
		case websocket.MessageText:
			var ctrl streamControl
			if err := json.Unmarshal(data, &ctrl); err != nil {
				sendStreamError(ctx, conn, "invalid control message")
				continue
			}
			s.handleStreamControl(ctx, conn, session, ctrl)

		case websocket.MessageBinary:
			result, err := session.Append(ctx, data)
			if err != nil {
				sendStreamError(ctx, conn, err.Error())
				continue
			}
			if result != nil {
				sendStreamJSON(ctx, conn, map[string]any{
					"type":     "transcript",
					"text":     result.Text,
					"is_final": result.IsFinal,
					"start":    result.Start,
					"end":      result.End,
				})
			}
		}
	}
}

func (s *Server) handleStreamControl(ctx context.Context, conn *websocket.Conn, session *stream.Session, ctrl streamControl) {
	switch ctrl.Type {
	case "config":
		// Reconfiguration keeps buffered audio: no speech is lost across a
		// model switch.
		if err := session.Configure(ctx, ctrl.ModelID, ctrl.Language); err != nil {
			sendStreamError(ctx, conn, err.Error())
			return
		}
		sendStreamJSON(ctx, conn, map[string]any{"type": "configured"})

	case "clear":
		session.Clear()
		sendStreamJSON(ctx, conn, map[string]any{"type": "cleared"})

	case "flush":
		result, err := session.Flush(ctx, true)
		if err != nil {
			sendStreamError(ctx, conn, err.Error())
			return
		}
		if result != nil {
			sendStreamJSON(ctx, conn, map[string]any{
				"type":     "transcript",
				"text":     result.Text,
				"is_final": result.IsFinal,
				"start":    result.Start,
				"end":      result.End,
			})
		}

	default:
		sendStreamError(ctx, conn, "unknown control type "+ctrl.Type)
	}
}

func sendStreamError(ctx context.Context, conn *websocket.Conn, message string) {
	sendStreamJSON(ctx, conn, map[string]any{"type": "error", "message": message})
}

func sendStreamJSON(ctx context.Context, conn *websocket.Conn, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal stream message", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write stream message", "error", err)
	}
}
