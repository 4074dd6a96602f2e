package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/proto"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:3001/ws", "WebSocket address")
	token := flag.String("token", "", "bearer token; empty connects as guest")
	invite := flag.String("invite", "", "invite key of the session to join")
	flag.Parse()

	if *invite == "" {
		return fmt.Errorf("-invite is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
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

	joinPayload, err := json.Marshal(proto.JoinSessionData{InviteKey: *invite})
	if err != nil {
		return fmt.Errorf("marshal join: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InJoinSession, Data: joinPayload}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	fmt.Printf("Connected to %s with invite %s\n", *addr, *invite)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		raw, err := json.Marshal(outbound.Data)
		if err != nil {
			log.Printf("marshal outbound data: %v", err)
			continue
		}

		switch outbound.Type {
		case proto.OutSessionJoined:
			var evt proto.SessionJoinedData
			if err := json.Unmarshal(raw, &evt); err != nil {
				log.Printf("unmarshal session_joined: %v", err)
				continue
			}
			fmt.Printf("[session %s] joined %q with %d users\n", evt.Session.ID, evt.Session.Name, evt.Session.UserCount)
		case proto.OutChatMessage:
			var evt session.ChatMessage
			if err := json.Unmarshal(raw, &evt); err != nil {
				log.Printf("unmarshal chat_message: %v", err)
				continue
			}
			fmt.Printf("%s: %s\n", evt.DisplayName, evt.Content)
		case proto.OutUserJoinedSession:
			var evt proto.UserJoinedData
			if err := json.Unmarshal(raw, &evt); err != nil {
				log.Printf("unmarshal user_joined_session: %v", err)
				continue
			}
			fmt.Printf("* %s joined (%d users)\n", evt.User.DisplayName, evt.UserCount)
		case proto.OutUserLeftSession:
			var evt proto.UserLeftData
			if err := json.Unmarshal(raw, &evt); err != nil {
				log.Printf("unmarshal user_left_session: %v", err)
				continue
			}
			fmt.Printf("* %s left (%d users)\n", evt.DisplayName, evt.UserCount)
		case proto.OutCodeUpdate:
			var evt proto.CodeUpdateData
			if err := json.Unmarshal(raw, &evt); err != nil {
				log.Printf("unmarshal code_update: %v", err)
				continue
			}
			fmt.Printf("* shared buffer now %d bytes\n", len(evt.Code))
		case proto.OutSessionError, proto.OutConnectionError, proto.OutError:
			var evt proto.Error
			if err := json.Unmarshal(raw, &evt); err != nil {
				log.Printf("unmarshal error event: %v", err)
				continue
			}
			fmt.Printf("! %s (%s)\n", evt.Message, evt.Code)
		default:
			fmt.Printf("event=%s data=%s\n", outbound.Type, string(raw))
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			payload, err := json.Marshal(proto.ChatMessageData{Content: text})
			if err != nil {
				log.Printf("marshal chat_message: %v", err)
				return
			}
			if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InChatMessage, Data: payload}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
