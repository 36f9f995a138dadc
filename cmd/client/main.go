// Command client is a minimal terminal chat client: join one
// conversation, type lines to send, watch the room scroll by. It
// exists to exercise the full duplex path end to end, reconnection
// included — kill the server mid-session and watch it come back.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/client"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/lalith-99/ripple/internal/ws"
	"go.uber.org/zap"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8081/v1/ws", "websocket endpoint")
		token = flag.String("token", "", "JWT from /v1/auth/login")
		conv  = flag.String("conversation", "", "conversation id to join")
	)
	flag.Parse()

	if *token == "" || *conv == "" {
		fmt.Fprintln(os.Stderr, "usage: client -token <jwt> -conversation <uuid> [-url ws://...]")
		os.Exit(2)
	}
	conversationID, err := uuid.Parse(*conv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid conversation id: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Options{
		URL:    *url,
		Token:  *token,
		Logger: zap.NewNop(),
		Handlers: client.Handlers{
			OnConnected: func(user ws.UserInfo) {
				fmt.Printf("* connected as %s\n", user.Email)
			},
			OnStateChange: func(s client.State) {
				if s != client.StateConnected {
					fmt.Printf("* %s\n", s)
				}
			},
			OnMessage: func(msg models.Message) {
				fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderID, msg.Body)
			},
			OnMessageEdited: func(msg models.Message) {
				fmt.Printf("* %s edited message %d: %s\n", msg.SenderID, msg.ID, msg.Body)
			},
			OnTyping: func(ev ws.TypingEventPayload, typing bool) {
				if typing {
					fmt.Printf("* %s is typing…\n", ev.UserID)
				}
			},
			OnPresence: func(ev ws.UserStatusPayload) {
				fmt.Printf("* %s is now %s\n", ev.UserID, ev.Status)
			},
			OnError: func(ev ws.ErrorPayload) {
				fmt.Printf("! %s: %s\n", ev.Code, ev.Message)
			},
			OnConnectionLost: func() {
				fmt.Println("! connection lost, giving up")
				stop()
			},
		},
	})

	c.JoinConversation(conversationID)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				stop()
				return
			}
			c.Send(conversationID, line, nil)
		}
	}()

	if err := c.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
