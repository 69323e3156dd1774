package usecase

import (
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/live"
	"github.com/satriahrh/nexus/internal/stream"
)

// liveObserver folds live transport notifications into the console state
type liveObserver struct {
	c *Console
}

func stateRank(s entities.SessionState) int {
	switch s {
	case entities.SessionStateConnecting:
		return 1
	case entities.SessionStateOpen:
		return 2
	case entities.SessionStateClosed, entities.SessionStateErrored:
		return 3
	}
	return 0
}

func (o liveObserver) SessionChanged(session entities.LiveSession) {
	c := o.c

	c.mu.Lock()
	if c.session.ID == session.ID && stateRank(session.State) < stateRank(c.session.State) {
		c.mu.Unlock()
		return
	}
	c.session = session
	var final *entities.ChatMessage
	if session.IsTerminal() && c.liveTurn != nil {
		msg := c.liveTurn.Complete()
		c.transcript = upsertMessage(c.transcript, msg)
		c.liveTurn = nil
		final = &msg
	}
	c.mu.Unlock()

	c.presenter.SessionUpdated(session)
	if final != nil {
		c.presenter.MessageUpdated(*final)
		c.persistMessage(*final)
	}
}

func (o liveObserver) TextReceived(_ string, delta live.TextDelta) {
	c := o.c
	var updates []entities.ChatMessage
	var final *entities.ChatMessage

	c.mu.Lock()
	if delta.Text != "" {
		if c.liveTurn == nil {
			c.liveTurn = stream.NewAggregator(entities.NewAssistantMessage(entities.ModeLive))
		}
		msg, _ := c.liveTurn.Apply(repositories.ChatChunk{Text: delta.Text})
		c.transcript = upsertMessage(c.transcript, msg)
		updates = append(updates, msg)
	}
	if delta.TurnComplete && c.liveTurn != nil {
		msg := c.liveTurn.Complete()
		c.transcript = upsertMessage(c.transcript, msg)
		c.liveTurn = nil
		updates = append(updates, msg)
		final = &msg
	}
	c.mu.Unlock()

	for _, msg := range updates {
		c.presenter.MessageUpdated(msg)
	}
	if final != nil {
		c.persistMessage(*final)
	}
}

func (o liveObserver) SessionFailed(_ entities.LiveSession, err error) {
	o.c.notifyErr(entities.SeverityFatal, err)
}
