// Package stream accumulates an incrementally delivered model response into
// one chat message.
package stream

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

// FallbackNotice is appended to a message whose stream broke off
const FallbackNotice = "Quantum link failure. Re-initializing core connection..."

// ErrFinalized is returned when a delta arrives after the turn ended
var ErrFinalized = errors.New("message is already finalized")

// Aggregator builds one assistant message from streamed chunks
type Aggregator struct {
	msg     entities.ChatMessage
	content strings.Builder
	seen    map[string]int
}

// NewAggregator starts a turn for msg, which must be streaming and empty
func NewAggregator(msg entities.ChatMessage) *Aggregator {
	msg.Streaming = true
	msg.Content = ""
	msg.Citations = nil
	return &Aggregator{
		msg:  msg,
		seen: make(map[string]int),
	}
}

// Apply appends one delta and merges its citations. A citation whose URI was
// already seen is skipped, except that it may fill in a title the first
// occurrence lacked.
func (a *Aggregator) Apply(chunk repositories.ChatChunk) (entities.ChatMessage, error) {
	if !a.msg.Streaming {
		return a.Snapshot(), ErrFinalized
	}

	a.content.WriteString(chunk.Text)
	a.msg.Content = a.content.String()

	for _, c := range chunk.Citations {
		if c.URI == "" {
			continue
		}
		if i, ok := a.seen[c.URI]; ok {
			if a.msg.Citations[i].Title == "" && c.Title != "" {
				a.msg.Citations[i].Title = c.Title
			}
			continue
		}
		a.seen[c.URI] = len(a.msg.Citations)
		a.msg.Citations = append(a.msg.Citations, c)
	}

	return a.Snapshot(), nil
}

// Complete marks the message final
func (a *Aggregator) Complete() entities.ChatMessage {
	a.msg.Streaming = false
	return a.Snapshot()
}

// Fail finalizes the message with the content received so far plus the
// fallback notice.
func (a *Aggregator) Fail() entities.ChatMessage {
	if !a.msg.Streaming {
		return a.Snapshot()
	}
	if a.content.Len() > 0 {
		a.content.WriteString("\n\n")
	}
	a.content.WriteString(FallbackNotice)
	a.msg.Content = a.content.String()
	a.msg.Streaming = false
	a.msg.Failed = true
	return a.Snapshot()
}

// Snapshot returns a copy of the message as it stands
func (a *Aggregator) Snapshot() entities.ChatMessage {
	return a.msg.Clone()
}

// Run drains a response stream into agg, emitting the message after every
// delta and once more when it is final. The returned error is the stream
// error, if any; the final message is returned in every case.
func Run(ctx context.Context, agg *Aggregator, chunks iter.Seq2[repositories.ChatChunk, error], emit func(entities.ChatMessage)) (entities.ChatMessage, error) {
	for chunk, err := range chunks {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			final := agg.Fail()
			emit(final)
			return final, err
		}
		msg, _ := agg.Apply(chunk)
		emit(msg)
	}

	if err := ctx.Err(); err != nil {
		final := agg.Fail()
		emit(final)
		return final, err
	}

	final := agg.Complete()
	emit(final)
	return final, nil
}
