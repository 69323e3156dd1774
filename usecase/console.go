package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/live"
	"github.com/satriahrh/nexus/internal/metrics"
	"github.com/satriahrh/nexus/internal/poller"
	"github.com/satriahrh/nexus/internal/stream"
)

// ErrConsoleClosed is returned by every operation after Close
var ErrConsoleClosed = errors.New("console is closed")

const (
	visionPrompt   = "Analyze this %s and describe its key contents, context, and any specific details found."
	persistTimeout = 5 * time.Second
)

// LiveSessions is the live voice transport as the console drives it
type LiveSessions interface {
	Start(ctx context.Context, config entities.LiveConfig) error
	Close() error
	Session() (entities.LiveSession, bool)
}

// ConsoleDeps are the collaborators shared by every console
type ConsoleDeps struct {
	Chat    repositories.TextGenerator
	Vision  repositories.VisionAnalyzer
	Media   repositories.MediaGenerator
	Speech  repositories.TextToSpeech
	Outputs repositories.AudioOutputFactory
	// History is optional.
	History repositories.HistoryRepository
	Poller  *poller.Poller
	// Live builds the transport of one console around its observer.
	Live func(observer live.Observer) LiveSessions
}

// ConsoleConfig holds configuration for a console
type ConsoleConfig struct {
	LiveDefaults          entities.LiveConfig
	SpeechFormat          entities.AudioFormat
	ChatSystemInstruction string
	HistoryLimit          int
}

// Console coordinates the modes of one user console. Mode switches and live
// session control are serialized; chat and vision turns run one at a time;
// media jobs poll in the background.
type Console struct {
	id        string
	deps      ConsoleDeps
	config    ConsoleConfig
	live      LiveSessions
	presenter Presenter
	logger    *zap.Logger

	opMu   sync.Mutex
	turnMu sync.Mutex

	mu         sync.Mutex
	mode       entities.Mode
	chat       []entities.ChatMessage
	transcript []entities.ChatMessage
	jobs       []entities.GenerationJob
	session    entities.LiveSession
	liveTurn   *stream.Aggregator
	speech     *speechPlayer
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsole creates a console in chat mode
func NewConsole(id string, deps ConsoleDeps, config ConsoleConfig, presenter Presenter, logger *zap.Logger) *Console {
	if config.SpeechFormat.SampleRate == 0 {
		config.SpeechFormat = entities.AudioFormat{SampleRate: 24000, Channels: 1}
	}
	if config.HistoryLimit == 0 {
		config.HistoryLimit = 200
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Console{
		id:        id,
		deps:      deps,
		config:    config,
		presenter: presenter,
		logger:    logger.With(zap.String("consoleID", id)),
		mode:      entities.ModeChat,
		session:   entities.LiveSession{State: entities.SessionStateIdle},
		ctx:       ctx,
		cancel:    cancel,
	}
	c.live = deps.Live(liveObserver{c})
	return c
}

// ID returns the console identifier
func (c *Console) ID() string {
	return c.id
}

// State returns a snapshot of the console
func (c *Console) State() ConsoleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConsoleState{
		ID:         c.id,
		Mode:       c.mode,
		Chat:       cloneMessages(c.chat),
		Transcript: cloneMessages(c.transcript),
		Jobs:       append([]entities.GenerationJob{}, c.jobs...),
		Session:    c.session,
	}
}

// Restore loads the persisted history of this console and resumes polling of
// jobs that had not finished.
func (c *Console) Restore(ctx context.Context) error {
	if c.deps.History == nil {
		return nil
	}
	msgs, err := c.deps.History.ListMessages(ctx, c.id, c.config.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to load message history: %w", err)
	}
	jobs, err := c.deps.History.ListJobs(ctx, c.id, c.config.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to load job history: %w", err)
	}

	c.mu.Lock()
	for _, m := range msgs {
		if m.Mode == entities.ModeLive {
			c.transcript = append(c.transcript, m)
		} else {
			c.chat = append(c.chat, m)
		}
	}
	c.jobs = append(c.jobs, jobs...)
	c.mu.Unlock()

	for _, job := range jobs {
		if !job.IsTerminal() {
			c.track(job)
		}
	}
	c.logger.Info("Console history restored", zap.Int("messages", len(msgs)), zap.Int("jobs", len(jobs)))
	return nil
}

// SwitchMode enters mode. Leaving live mode closes an active session, and
// releases the microphone, before the switch is reported. History of other
// modes is kept.
func (c *Console) SwitchMode(ctx context.Context, mode entities.Mode) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.switchMode(mode)
}

func (c *Console) switchMode(mode entities.Mode) error {
	c.mu.Lock()
	from := c.mode
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrConsoleClosed
	}
	if from == mode {
		return nil
	}

	if from == entities.ModeLive {
		if err := c.live.Close(); err != nil {
			c.logger.Warn("Live session teardown was incomplete", zap.Error(err))
			c.notify(entities.SeverityWarning, domain.KindTransport, "The live session did not shut down cleanly")
		}
	}

	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()

	c.logger.Info("Mode switched", zap.String("from", string(from)), zap.String("to", string(mode)))
	c.presenter.ModeChanged(from, mode)
	return nil
}

// StartLive enters live mode and opens a voice session. Empty config fields
// take the console defaults.
func (c *Console) StartLive(ctx context.Context, config entities.LiveConfig) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.switchMode(entities.ModeLive); err != nil {
		return err
	}
	c.stopSpeech()

	if config.Voice == "" {
		config.Voice = c.config.LiveDefaults.Voice
	}
	if config.SystemInstruction == "" {
		config.SystemInstruction = c.config.LiveDefaults.SystemInstruction
	}
	if config.Modality == "" {
		config.Modality = c.config.LiveDefaults.Modality
	}

	if err := c.live.Start(ctx, config); err != nil {
		if errors.Is(err, live.ErrSessionActive) || errors.Is(err, live.ErrClosedWhileConnecting) {
			return err
		}
		c.notifyErr(entities.SeverityFatal, err)
		return err
	}
	return nil
}

// StopLive closes the voice session, if any
func (c *Console) StopLive(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.live.Close()
}

// SendChat runs one chat turn through the text generator and returns the
// final assistant message.
func (c *Console) SendChat(ctx context.Context, turn ChatTurn) (entities.ChatMessage, error) {
	if turn.Text == "" {
		return entities.ChatMessage{}, domain.E(domain.KindInvalid, "console.SendChat", "Message text is required", nil)
	}
	if turn.Location != nil {
		if err := turn.Location.Validate(); err != nil {
			return entities.ChatMessage{}, domain.E(domain.KindInvalid, "console.SendChat", "Invalid location", err)
		}
	}

	req := repositories.ChatRequest{
		Prompt:            turn.Text,
		SystemInstruction: c.config.ChatSystemInstruction,
		Thinking:          turn.Thinking,
		Tools:             turn.Tools,
		Location:          turn.Location,
	}
	if turn.Preset != "" {
		preset, ok := entities.AgentPresets[turn.Preset]
		if !ok {
			return entities.ChatMessage{}, domain.E(domain.KindInvalid, "console.SendChat", fmt.Sprintf("Unknown agent preset %q", turn.Preset), nil)
		}
		req.SystemInstruction = preset.SystemInstruction
		req.Thinking = req.Thinking || preset.Thinking
		req.Tools.Search = req.Tools.Search || preset.Tools.Search
		req.Tools.Maps = req.Tools.Maps || preset.Tools.Maps
	}

	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	history, err := c.beginTurn(turn.Text)
	if err != nil {
		return entities.ChatMessage{}, err
	}
	req.History = history

	return c.runTurn(ctx, "chat", c.deps.Chat.StreamChat(ctx, req))
}

// AnalyzeVision streams an analysis of an uploaded file into the chat history
// and then enters chat mode.
func (c *Console) AnalyzeVision(ctx context.Context, req VisionRequest) (entities.ChatMessage, error) {
	kind := repositories.VisionKind(req.Kind)
	if kind != repositories.VisionKindImage && kind != repositories.VisionKindVideo {
		return entities.ChatMessage{}, domain.E(domain.KindInvalid, "console.AnalyzeVision", fmt.Sprintf("Unsupported analysis kind %q", req.Kind), nil)
	}
	if len(req.Media.Data) == 0 || req.Media.MIMEType == "" {
		return entities.ChatMessage{}, domain.E(domain.KindInvalid, "console.AnalyzeVision", "A file with a MIME type is required", nil)
	}

	c.turnMu.Lock()
	prompt := fmt.Sprintf(visionPrompt, kind)
	shown := prompt
	if req.FileName != "" {
		shown = fmt.Sprintf("%s (%s)", prompt, req.FileName)
	}
	if _, err := c.beginTurn(shown); err != nil {
		c.turnMu.Unlock()
		return entities.ChatMessage{}, err
	}
	final, err := c.runTurn(ctx, "vision", c.deps.Vision.StreamAnalysis(ctx, repositories.VisionRequest{Media: req.Media, Kind: kind, Prompt: prompt}))
	c.turnMu.Unlock()

	if err == nil {
		if switchErr := c.SwitchMode(ctx, entities.ModeChat); switchErr != nil {
			return final, switchErr
		}
	}
	return final, err
}

// SubmitMedia submits a generation job and polls it in the background. The
// returned job is in the Submitted state.
func (c *Console) SubmitMedia(ctx context.Context, kind entities.JobKind, params entities.MediaParams) (entities.GenerationJob, error) {
	params = params.Normalize(kind)
	if err := params.Validate(kind); err != nil {
		return entities.GenerationJob{}, domain.E(domain.KindInvalid, "console.SubmitMedia", "Invalid generation parameters", err)
	}
	if c.isClosed() {
		return entities.GenerationJob{}, ErrConsoleClosed
	}

	handle, err := c.deps.Media.Submit(ctx, kind, params)
	if err != nil {
		err = domain.E(domain.KindTransport, "console.SubmitMedia", "Could not submit the generation job", err)
		c.notifyErr(entities.SeverityWarning, err)
		return entities.GenerationJob{}, err
	}

	job := *entities.NewGenerationJob(kind, handle, params)
	c.mu.Lock()
	c.jobs = append(c.jobs, job)
	c.mu.Unlock()

	c.logger.Info("Generation job submitted", zap.String("jobID", job.ID), zap.String("kind", string(kind)))
	c.presenter.JobUpdated(job)
	c.persistJob(job)
	c.track(job)
	return job, nil
}

// Speak synthesizes text and plays it. A new utterance interrupts the
// previous one; starting a live session stops speech and the interrupted
// Speak returns ErrSpeechInterrupted.
func (c *Console) Speak(ctx context.Context, text string) error {
	if text == "" {
		return domain.E(domain.KindInvalid, "console.Speak", "Text is required", nil)
	}

	player, err := c.openSpeech(ctx)
	if err != nil {
		c.notifyErr(entities.SeverityWarning, err)
		return err
	}

	chunks, err := c.deps.Speech.ConvertTextToSpeech(ctx, text)
	if err != nil {
		err = domain.E(domain.KindTransport, "console.Speak", "Speech synthesis failed", err)
		c.notifyErr(entities.SeverityWarning, err)
		return err
	}

	err = player.play(ctx, chunks)
	if errors.Is(err, ErrSpeechInterrupted) && c.isClosed() {
		return ErrConsoleClosed
	}
	return err
}

// Close ends the live session, stops background polling and releases audio
// devices. It is safe to call more than once.
func (c *Console) Close(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.live.Close()
	c.cancel()
	c.stopSpeech()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Info("Console closed")
	return err
}

// beginTurn appends the user message and returns the history before it
func (c *Console) beginTurn(text string) ([]entities.ChatMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConsoleClosed
	}
	history := make([]entities.ChatMessage, 0, len(c.chat))
	for _, m := range c.chat {
		if !m.Failed && !m.Streaming {
			history = append(history, m)
		}
	}
	user := entities.NewUserMessage(entities.ModeChat, text)
	c.chat = append(c.chat, user)
	c.mu.Unlock()

	c.presenter.MessageUpdated(user)
	c.persistMessage(user)
	return history, nil
}

func (c *Console) runTurn(ctx context.Context, label string, chunks iter.Seq2[repositories.ChatChunk, error]) (entities.ChatMessage, error) {
	agg := stream.NewAggregator(entities.NewAssistantMessage(entities.ModeChat))

	final, err := stream.Run(ctx, agg, chunks, func(msg entities.ChatMessage) {
		c.mu.Lock()
		c.chat = upsertMessage(c.chat, msg)
		c.mu.Unlock()
		c.presenter.MessageUpdated(msg)
	})
	c.persistMessage(final)

	if err != nil {
		metrics.ChatTurns.WithLabelValues("failed").Inc()
		c.logger.Warn("Streamed turn failed", zap.String("turn", label), zap.Error(err))
		err = domain.E(domain.KindTransport, "console."+label, "The response stream was interrupted", err)
		c.notifyErr(entities.SeverityWarning, err)
		return final, err
	}
	metrics.ChatTurns.WithLabelValues("completed").Inc()
	return final, nil
}

// track polls job in the background until it is terminal
func (c *Console) track(job entities.GenerationJob) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		final, err := c.deps.Poller.Run(c.ctx, job, func(ctx context.Context, j entities.GenerationJob) (repositories.PollResult, error) {
			return c.deps.Media.Poll(ctx, j.Kind, j.Handle)
		}, func(j entities.GenerationJob) {
			c.mu.Lock()
			c.jobs = upsertJob(c.jobs, j)
			c.mu.Unlock()
			c.presenter.JobUpdated(j)
		})
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("Stopped polling generation job", zap.String("jobID", job.ID), zap.Error(err))
				c.notifyErr(entities.SeverityWarning, err)
			}
			return
		}

		c.persistJob(final)
		if final.State == entities.JobStateFailed {
			c.notify(entities.SeverityWarning, domain.KindJob, fmt.Sprintf("%s generation failed: %s", final.Kind, final.Error))
		}
	}()
}

func (c *Console) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Console) notify(severity entities.Severity, kind domain.ErrorKind, message string) {
	c.presenter.Notify(entities.Notice{Severity: severity, Kind: string(kind), Message: message})
}

func (c *Console) notifyErr(severity entities.Severity, err error) {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.KindTransport
	}
	c.notify(severity, kind, domain.UserMessage(err))
}

func (c *Console) persistMessage(msg entities.ChatMessage) {
	if c.deps.History == nil || msg.Streaming {
		return
	}
	ctx, cancel := c.persistContext()
	defer cancel()
	if err := c.deps.History.SaveMessage(ctx, c.id, msg); err != nil {
		c.logger.Warn("Failed to persist message", zap.String("messageID", msg.ID), zap.Error(err))
	}
}

func (c *Console) persistJob(job entities.GenerationJob) {
	if c.deps.History == nil {
		return
	}
	ctx, cancel := c.persistContext()
	defer cancel()
	if err := c.deps.History.SaveJob(ctx, c.id, job); err != nil {
		c.logger.Warn("Failed to persist job", zap.String("jobID", job.ID), zap.Error(err))
	}
}

// persistContext outlives Close so the last updates of a console are kept
func (c *Console) persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.ctx), persistTimeout)
}

func upsertMessage(list []entities.ChatMessage, msg entities.ChatMessage) []entities.ChatMessage {
	for i := range list {
		if list[i].ID == msg.ID {
			list[i] = msg
			return list
		}
	}
	return append(list, msg)
}

func upsertJob(list []entities.GenerationJob, job entities.GenerationJob) []entities.GenerationJob {
	for i := range list {
		if list[i].ID == job.ID {
			list[i] = job
			return list
		}
	}
	return append(list, job)
}

func cloneMessages(list []entities.ChatMessage) []entities.ChatMessage {
	out := make([]entities.ChatMessage, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}
