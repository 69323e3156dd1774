package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/satriahrh/nexus/domain/entities"
	nexusws "github.com/satriahrh/nexus/internal/websocket"
	"github.com/satriahrh/nexus/usecase"
)

// ProbeConfig holds configuration for the probe command
type ProbeConfig struct {
	Server    string
	ConsoleID string
	Text      string
	Thinking  bool
	Search    bool
	Maps      bool
	Preset    string
	Timeout   time.Duration
}

type reply struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload"`
}

func main() {
	if err := newProbeCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newProbeCmd() *cobra.Command {
	cfg := &ProbeConfig{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send one chat turn to a console server and print every update",
		Long: `Connect to the console websocket, send a single chat turn and print
each update until the turn is acknowledged.

Examples:
  probe --text "What is new in Go 1.24?"
  probe --server ws://localhost:8080/ws --console demo --thinking
  probe --text "Coffee near me" --maps`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProbe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Server, "server", "ws://localhost:8080/ws", "Websocket endpoint of the server")
	cmd.Flags().StringVar(&cfg.ConsoleID, "console", "", "Console ID to attach to (default: a new one)")
	cmd.Flags().StringVar(&cfg.Text, "text", "Hello, who are you?", "Chat turn text")
	cmd.Flags().BoolVar(&cfg.Thinking, "thinking", false, "Use the thinking model")
	cmd.Flags().BoolVar(&cfg.Search, "search", false, "Enable search grounding")
	cmd.Flags().BoolVar(&cfg.Maps, "maps", false, "Enable maps grounding")
	cmd.Flags().StringVar(&cfg.Preset, "preset", "", "Agent preset key")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", 2*time.Minute, "Give up after this long")

	return cmd
}

func runProbe(ctx context.Context, cfg *ProbeConfig) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	u, err := url.Parse(cfg.Server)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if cfg.ConsoleID != "" {
		q := u.Query()
		q.Set("console_id", cfg.ConsoleID)
		u.RawQuery = q.Encode()
	}

	fmt.Printf("Connecting to: %s\n", u.String())
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connection failed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	requestID := uuid.NewString()
	msg := nexusws.ChatSendMessage{
		BaseMessage: nexusws.BaseMessage{Type: nexusws.MessageTypeChatSend, RequestID: requestID},
		Turn: usecase.ChatTurn{
			Text:     cfg.Text,
			Thinking: cfg.Thinking,
			Tools:    entities.Tools{Search: cfg.Search, Maps: cfg.Maps},
			Preset:   cfg.Preset,
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send chat turn: %w", err)
	}
	fmt.Printf("Sent chat turn %s\n", requestID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("no acknowledgement before timeout: %w", ctx.Err())
			}
			return fmt.Errorf("failed to read update: %w", err)
		}

		var r reply
		if err := json.Unmarshal(data, &r); err != nil {
			fmt.Printf("? %s\n", data)
			continue
		}
		fmt.Printf("[%s] %s\n", r.Type, data)

		if r.RequestID != requestID {
			continue
		}
		switch nexusws.MessageType(r.Type) {
		case nexusws.MessageTypeAck:
			fmt.Println("Turn acknowledged")
			return nil
		case nexusws.MessageTypeError:
			return fmt.Errorf("server rejected the turn: %s", r.Message)
		}
	}
}
