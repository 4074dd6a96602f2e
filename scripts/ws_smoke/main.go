package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/proto"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:3001/ws", "WebSocket address")
	token := flag.String("token", "", "bearer token; empty connects as guest")
	invite := flag.String("invite", "", "invite key of the session to join")
	text := flag.String("text", "hello from smoke test", "chat message to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	if *invite == "" {
		return fmt.Errorf("-invite is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	wsAddr := *addr
	if *token != "" {
		wsAddr += "?token=" + url.QueryEscape(*token)
	}
	conn, _, err := websocket.Dial(ctx, wsAddr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	mustSend := func(eventType string, payload any) error {
		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return fmt.Errorf("marshal %s: %w", eventType, marshalErr)
		}
		if writeErr := wsjson.Write(ctx, conn, proto.Inbound{Type: eventType, Data: data}); writeErr != nil {
			return fmt.Errorf("send %s: %w", eventType, writeErr)
		}
		return nil
	}

	if err := mustSend(proto.InJoinSession, proto.JoinSessionData{InviteKey: *invite}); err != nil {
		return err
	}
	if err := mustSend(proto.InChatMessage, proto.ChatMessageData{Content: *text}); err != nil {
		return err
	}

	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received outbound: type=%s\n", outbound.Type)

		raw, err := json.Marshal(outbound.Data)
		if err != nil {
			return fmt.Errorf("marshal outbound data: %w", err)
		}

		switch outbound.Type {
		case proto.OutSessionJoined:
			var evt proto.SessionJoinedData
			if unmarshalErr := json.Unmarshal(raw, &evt); unmarshalErr != nil {
				fmt.Printf("Raw data: %s\n", string(raw))
				return fmt.Errorf("unmarshal session_joined: %w", unmarshalErr)
			}
			fmt.Printf("Joined: session=%s name=%q users=%d\n", evt.Session.ID, evt.Session.Name, evt.Session.UserCount)
		case proto.OutChatMessage:
			var evt session.ChatMessage
			if unmarshalErr := json.Unmarshal(raw, &evt); unmarshalErr != nil {
				fmt.Printf("Raw data: %s\n", string(raw))
				return fmt.Errorf("unmarshal chat_message: %w", unmarshalErr)
			}
			fmt.Printf("ChatMessage: user=%s text=%q ts=%s\n", evt.DisplayName, evt.Content, evt.Timestamp.Format(time.RFC3339))
			return nil
		case proto.OutSessionError, proto.OutConnectionError, proto.OutError:
			var evt proto.Error
			if unmarshalErr := json.Unmarshal(raw, &evt); unmarshalErr != nil {
				fmt.Printf("Raw data: %s\n", string(raw))
				return fmt.Errorf("unmarshal error event: %w", unmarshalErr)
			}
			return fmt.Errorf("server refused: %s (%s)", evt.Message, evt.Code)
		default:
			// keep looping for chat_message
		}
	}
}
