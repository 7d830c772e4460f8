// Package run drives linter runs against the backend and publishes their
// messages into the accumulated finding set.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/splashkes/eventlinter/internal/linter"
	"github.com/splashkes/eventlinter/internal/metrics"
	"github.com/splashkes/eventlinter/internal/protocol"
	"github.com/splashkes/eventlinter/internal/stream"
	"github.com/splashkes/eventlinter/pkg/models"
)

var (
	// ErrRunFailed is returned when the backend ends a run with an error.
	ErrRunFailed = errors.New("linter run failed")
	// ErrStaleRun is returned to a superseded run that tries to publish.
	ErrStaleRun = errors.New("run superseded")
	// ErrHandshake is returned when a streaming run could not be opened.
	ErrHandshake = errors.New("stream handshake failed")
)

const (
	StrategyStream  = "stream"
	StrategyOneShot = "oneshot"

	// payloadLogLimit bounds how much of a dropped frame is logged.
	payloadLogLimit = 200
)

// Sink receives the messages of one run. Every method returns ErrStaleRun
// once runID is no longer the active run; the runner must stop on any error.
type Sink interface {
	Begin(runID uuid.UUID, strategy string) error
	Progress(runID uuid.UUID, p protocol.Progress) error
	Batch(runID uuid.UUID, b protocol.Batch) error
	Complete(runID uuid.UUID, c protocol.Complete) error
	Fail(runID uuid.UUID, message string, debug json.RawMessage) error
}

// Runner executes one linter run and publishes it into a Sink.
type Runner interface {
	Name() string
	Run(ctx context.Context, runID uuid.UUID, scope models.Scope, sink Sink) error
}

// StreamingRunner reads a run incrementally from the streaming endpoint.
type StreamingRunner struct {
	Client linter.Client
	Logger *slog.Logger
}

func (r *StreamingRunner) Name() string { return StrategyStream }

func (r *StreamingRunner) Run(ctx context.Context, runID uuid.UUID, scope models.Scope, sink Sink) error {
	logger := loggerOr(r.Logger).With("run_id", runID, "strategy", StrategyStream)

	body, err := r.Client.Stream(ctx, scope)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	defer body.Close()

	if err := sink.Begin(runID, StrategyStream); err != nil {
		return err
	}

	rd := stream.NewReader(body)
	for {
		payload, err := rd.Next()
		if errors.Is(err, io.EOF) {
			if n := rd.Discarded(); n > 0 {
				metrics.FramesDroppedTotal.WithLabelValues("unterminated").Inc()
				logger.Warn("discarding unterminated trailing data", "bytes", n)
			}
			logger.Warn("stream ended without a terminal frame")
			return sink.Complete(runID, protocol.Complete{})
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}

		msg, err := protocol.Decode(payload)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, protocol.ErrUnknownFrame) {
				reason = "unknown"
			}
			metrics.FramesDroppedTotal.WithLabelValues(reason).Inc()
			logger.Warn("dropping frame", "reason", reason, "error", err, "payload", truncate(payload))
			continue
		}
		metrics.FramesTotal.WithLabelValues(string(msg.Kind())).Inc()

		switch m := msg.(type) {
		case protocol.Progress:
			err = sink.Progress(runID, m)
		case protocol.Batch:
			err = sink.Batch(runID, m)
		case protocol.Complete:
			return sink.Complete(runID, m)
		case protocol.Error:
			if err := sink.Fail(runID, m.Message, m.Debug); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrRunFailed, m.Message)
		}
		if err != nil {
			return err
		}
	}
}

// OneShotRunner performs a run with a single non-streaming request.
type OneShotRunner struct {
	Client linter.Client
	Logger *slog.Logger
}

func (r *OneShotRunner) Name() string { return StrategyOneShot }

func (r *OneShotRunner) Run(ctx context.Context, runID uuid.UUID, scope models.Scope, sink Sink) error {
	res, err := r.Client.RunOnce(ctx, scope)
	if err != nil {
		return err
	}

	if err := sink.Begin(runID, StrategyOneShot); err != nil {
		return err
	}
	if len(res.Findings) > 0 {
		if err := sink.Batch(runID, protocol.Batch{Phase: StrategyOneShot, Findings: res.Findings}); err != nil {
			return err
		}
	}

	if !res.Success || res.Error != "" {
		msg := res.Error
		if msg == "" {
			msg = "linter reported failure"
		}
		if err := sink.Fail(runID, msg, res.Debug); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRunFailed, msg)
	}

	debug, err := protocol.DecodeDebug(res.Debug)
	if err != nil {
		loggerOr(r.Logger).Warn("ignoring unreadable debug payload", "run_id", runID, "error", err)
		debug = protocol.CompleteDebug{Raw: res.Debug}
	}
	if debug.RulesLoaded == nil {
		n := res.RulesCount
		debug.RulesLoaded = &n
	}
	return sink.Complete(runID, protocol.Complete{Debug: debug})
}

// FallbackRunner runs Primary and, only when it could not even be opened,
// retries the same run with Secondary. Failures after the handshake are
// returned as is.
type FallbackRunner struct {
	Primary   Runner
	Secondary Runner
	Logger    *slog.Logger
}

func (r *FallbackRunner) Name() string {
	return r.Primary.Name() + "+" + r.Secondary.Name()
}

func (r *FallbackRunner) Run(ctx context.Context, runID uuid.UUID, scope models.Scope, sink Sink) error {
	err := r.Primary.Run(ctx, runID, scope, sink)
	if !errors.Is(err, ErrHandshake) || ctx.Err() != nil {
		return err
	}
	loggerOr(r.Logger).Warn("primary strategy unavailable, falling back",
		"run_id", runID,
		"primary", r.Primary.Name(),
		"secondary", r.Secondary.Name(),
		"error", err,
	)
	return r.Secondary.Run(ctx, runID, scope, sink)
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func truncate(b []byte) string {
	if len(b) > payloadLogLimit {
		return string(b[:payloadLogLimit])
	}
	return string(b)
}
