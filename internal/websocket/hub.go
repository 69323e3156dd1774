package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/internal/metrics"
	"github.com/satriahrh/nexus/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Vision uploads and reference
	// images travel inline.
	maxMessageSize = 32 << 20

	// Time allowed for a console to release its resources on disconnect.
	closeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ErrConsoleInUse is returned when a second client attaches to a console
var ErrConsoleInUse = errors.New("console is already connected")

// ConsoleFactory builds the console of a newly connected client
type ConsoleFactory func(id string, presenter usecase.Presenter) *usecase.Console

// ConsoleInfo describes a connected console
type ConsoleInfo struct {
	ID          string        `json:"id"`
	Mode        entities.Mode `json:"mode"`
	ConnectedAt time.Time     `json:"connected_at"`
}

// Hub maintains the set of connected consoles
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex

	newConsole ConsoleFactory
	validator  *MessageValidator
	logger     *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(newConsole ConsoleFactory, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		newConsole: newConsole,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// register claims a console ID for client
func (h *Hub) register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.consoleID]; ok {
		return ErrConsoleInUse
	}
	h.clients[client.consoleID] = client
	metrics.ConnectedConsoles.Inc()
	h.logger.Info("Client registered", zap.String("consoleID", client.consoleID))
	return nil
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if h.clients[client.consoleID] == client {
		delete(h.clients, client.consoleID)
		metrics.ConnectedConsoles.Dec()
	}
	h.mu.Unlock()
	h.logger.Info("Client unregistered", zap.String("consoleID", client.consoleID))
}

// Consoles lists the connected consoles ordered by connection time
func (h *Hub) Consoles() []ConsoleInfo {
	h.mu.RLock()
	infos := make([]ConsoleInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, ConsoleInfo{ID: c.consoleID, Mode: c.console.State().Mode, ConnectedAt: c.connectedAt})
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// Shutdown disconnects every client and waits for their consoles to close
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
	}
	for _, c := range clients {
		select {
		case <-c.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.logger.Info("All consoles closed", zap.Int("count", len(clients)))
	return nil
}

// WriteData is one outbound websocket frame
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and its console.
// Commands run on two ordered lanes: control (mode and live session) and
// turns (chat, vision, media, speech), so a streaming answer never delays
// a mode switch.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	consoleID   string
	console     *usecase.Console
	connectedAt time.Time
	logger      *zap.Logger

	// Buffered channel of outbound messages.
	send chan WriteData
	// done closes when the read pump exits, writerDone when the write pump
	// exits and closed once the console has been released.
	done       chan struct{}
	writerDone chan struct{}
	closed     chan struct{}

	control chan any
	turns   chan any
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// HandleWebSocket upgrades the request and attaches a console to it. A
// console_id query parameter resumes the persisted history of that console.
func HandleWebSocket(hub *Hub, c echo.Context) error {
	consoleID := c.QueryParam("console_id")
	if consoleID == "" {
		consoleID = uuid.NewString()
	}

	hub.mu.RLock()
	_, taken := hub.clients[consoleID]
	hub.mu.RUnlock()
	if taken {
		return echo.NewHTTPError(http.StatusConflict, ErrConsoleInUse.Error())
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:         hub,
		conn:        conn,
		consoleID:   consoleID,
		connectedAt: time.Now(),
		logger:      hub.logger.With(zap.String("consoleID", consoleID)),
		send:        make(chan WriteData, 256),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		closed:      make(chan struct{}),
		control:     make(chan any, 16),
		turns:       make(chan any, 16),
		ctx:         ctx,
		cancel:      cancel,
	}

	client.console = hub.newConsole(consoleID, client)

	if err := hub.register(client); err != nil {
		cancel()
		client.console.Close(context.Background())
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return nil
	}

	restoreCtx, cancelRestore := context.WithTimeout(ctx, closeTimeout)
	if err := client.console.Restore(restoreCtx); err != nil {
		client.logger.Warn("Failed to restore console history", zap.Error(err))
	}
	cancelRestore()

	client.sendJSON(client.update(domain.UpdateState, client.console.State()))

	client.wg.Add(2)
	go client.lane(client.control)
	go client.lane(client.turns)
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps commands from the websocket connection to the lanes.
func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps updates from the console to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// shutdown stops the lanes, closes the console and releases the console ID
func (c *Client) shutdown() {
	close(c.done)
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.console.Close(ctx); err != nil {
		c.logger.Warn("Console closed with error", zap.Error(err))
	}
	c.hub.unregister(c)
	close(c.closed)
}

// processMessage parses one command and queues it on its lane
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected message", zap.Error(err))
		var base BaseMessage
		_ = json.Unmarshal(message, &base)
		c.sendJSON(CreateErrorMessage(base.RequestID, base.Type, err))
		return
	}

	lane := c.control
	switch msg.(type) {
	case *ChatSendMessage, *VisionAnalyzeMessage, *MediaSubmitMessage, *SpeakMessage:
		lane = c.turns
	}
	select {
	case lane <- msg:
	case <-c.done:
	}
}

// lane runs queued commands in order until the client disconnects
func (c *Client) lane(queue chan any) {
	defer c.wg.Done()
	for {
		select {
		case msg := <-queue:
			c.execute(msg)
		case <-c.done:
			return
		}
	}
}

// execute runs one command against the console and replies with its outcome
func (c *Client) execute(msg any) {
	var (
		base   BaseMessage
		result any
		err    error
	)
	ctx := c.ctx

	switch m := msg.(type) {
	case *SwitchModeMessage:
		base = m.BaseMessage
		err = c.console.SwitchMode(ctx, m.Mode)
	case *LiveStartMessage:
		base = m.BaseMessage
		err = c.console.StartLive(ctx, m.Config)
	case *ChatSendMessage:
		base = m.BaseMessage
		result, err = c.console.SendChat(ctx, m.Turn)
	case *VisionAnalyzeMessage:
		base = m.BaseMessage
		result, err = c.console.AnalyzeVision(ctx, m.Request)
	case *MediaSubmitMessage:
		base = m.BaseMessage
		result, err = c.console.SubmitMedia(ctx, m.Kind, m.Params())
	case *SpeakMessage:
		base = m.BaseMessage
		err = c.console.Speak(ctx, m.Text)
	case *BaseMessage:
		base = *m
		switch m.Type {
		case MessageTypeLiveStop:
			err = c.console.StopLive(ctx)
		case MessageTypeState:
			result = c.console.State()
		case MessageTypePing:
			c.sendJSON(&BaseMessage{Type: MessageTypePong, RequestID: m.RequestID})
			return
		}
	}

	if err != nil {
		c.logger.Warn("Command failed", zap.String("command", string(base.Type)), zap.Error(err))
		c.sendJSON(CreateErrorMessage(base.RequestID, base.Type, err))
		return
	}
	c.sendJSON(CreateAckMessage(base.RequestID, base.Type, result))
}

// update wraps a payload in the outbound envelope
func (c *Client) update(kind string, payload any) domain.Update {
	return domain.Update{Type: kind, ConsoleID: c.consoleID, Timestamp: time.Now(), Payload: payload}
}

// sendJSON queues v for the write pump. It blocks while the buffer is full
// and gives up once the write pump is gone.
func (c *Client) sendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	case <-c.writerDone:
	}
}

// MessageUpdated implements usecase.Presenter
func (c *Client) MessageUpdated(msg entities.ChatMessage) {
	c.sendJSON(c.update(domain.UpdateMessage, domain.MessageUpdatePayload{Message: msg}))
}

// JobUpdated implements usecase.Presenter
func (c *Client) JobUpdated(job entities.GenerationJob) {
	c.sendJSON(c.update(domain.UpdateJob, domain.JobUpdatePayload{Job: job}))
}

// SessionUpdated implements usecase.Presenter
func (c *Client) SessionUpdated(session entities.LiveSession) {
	c.sendJSON(c.update(domain.UpdateSession, domain.SessionUpdatePayload{Session: session}))
}

// ModeChanged implements usecase.Presenter
func (c *Client) ModeChanged(from, to entities.Mode) {
	c.sendJSON(c.update(domain.UpdateMode, domain.ModeUpdatePayload{From: from, To: to}))
}

// Notify implements usecase.Presenter
func (c *Client) Notify(notice entities.Notice) {
	c.sendJSON(c.update(domain.UpdateNotice, domain.NoticePayload{Notice: notice}))
}
