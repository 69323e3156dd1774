// Package metrics holds the Prometheus collectors of the console server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LiveSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Name:      "live_sessions_total",
		Help:      "Live sessions by terminal state.",
	}, []string{"state"})

	ChunksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Name:      "playback_chunks_scheduled_total",
		Help:      "Audio chunks scheduled for playback.",
	})

	PlaybackInterrupts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Name:      "playback_interrupts_total",
		Help:      "Interruptions that stopped at least one source.",
	})

	DroppedUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Name:      "dropped_units_total",
		Help:      "Inbound units dropped because they could not be decoded.",
	}, []string{"unit"})

	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Name:      "capture_frames_total",
		Help:      "Microphone frames forwarded to the live peer.",
	})

	ChatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Name:      "chat_turns_total",
		Help:      "Streamed chat and vision turns by outcome.",
	}, []string{"outcome"})

	JobPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Name:      "job_polls_total",
		Help:      "Status checks issued for generation jobs.",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Name:      "jobs_finished_total",
		Help:      "Generation jobs by kind and terminal state.",
	}, []string{"kind", "state"})

	ConnectedConsoles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Name:      "connected_consoles",
		Help:      "Consoles with an open websocket.",
	})
)
