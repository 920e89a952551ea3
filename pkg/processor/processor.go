// Package processor implements the Outgoing Processor: the single
// goroutine that submits settlement intents to chain, retries
// submission with bounded exponential backoff, and reports terminal
// outcomes back to the executor so ledger compensation stays on the
// executor's single-writer goroutine. The backoff schedule is grounded
// on the teacher pack's retry worker (see pkg/ingestor); submission
// itself is grounded on pkg/chain.Submitter.
package processor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/duskpool/venue/pkg/chain"
	"github.com/duskpool/venue/pkg/queue"
)

// BackoffConfig is the bounded exponential retry schedule applied to
// submission attempts; confirmation is polled at a fixed interval.
type BackoffConfig struct {
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Base:        2 * time.Second,
		Multiplier:  2.0,
		Cap:         2 * time.Minute,
		MaxAttempts: 8,
	}
}

// next returns the delay before retry attempt n (1-indexed).
func (c BackoffConfig) next(attempt int) time.Duration {
	d := c.Base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if d > c.Cap {
			return c.Cap
		}
	}
	return d
}

// Processor is the outgoing SPSC consumer: it pulls one OutgoingIntent
// at a time and drives it to confirmation or terminal failure before
// pulling the next, preserving submission order per spec.md's decision
// to leave nonce-pipelining for a follow-up (see DESIGN.md).
type Processor struct {
	out         *queue.OutgoingQueue
	results     *queue.IncomingQueue
	submit      chain.Submitter
	backoff     BackoffConfig
	confirmPoll time.Duration
	log         *zap.Logger

	heartbeat atomic.Int64
}

func New(out *queue.OutgoingQueue, results *queue.IncomingQueue, submit chain.Submitter, backoff BackoffConfig, log *zap.Logger) *Processor {
	return &Processor{out: out, results: results, submit: submit, backoff: backoff, confirmPoll: 3 * time.Second, log: log}
}

// Heartbeat returns the Unix-nanosecond timestamp of the last intent
// this processor finished driving, for the health endpoint.
func (p *Processor) Heartbeat() int64 {
	return p.heartbeat.Load()
}

// Run consumes intents until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-p.out.Receive():
			if !ok {
				return
			}
			p.drive(ctx, intent)
			p.heartbeat.Store(time.Now().UnixNano())
		}
	}
}

// drive submits intent and blocks (this goroutine only) until it is
// confirmed or exhausts MaxAttempts, then reports the outcome to the
// executor via the incoming queue.
func (p *Processor) drive(ctx context.Context, intent queue.OutgoingIntent) {
	var txHash string
	var err error

	for attempt := 1; attempt <= p.backoff.MaxAttempts; attempt++ {
		switch intent.Kind {
		case queue.IntentSettle:
			txHash, err = p.submit.SubmitSettle(ctx, *intent.Settle)
		case queue.IntentWithdraw:
			txHash, err = p.submit.SubmitWithdraw(ctx, *intent.Withdraw)
		}
		if err == nil {
			if p.awaitConfirmation(ctx, txHash) {
				p.report(ctx, intent, txHash, true, false)
				return
			}
			// IsConfirmed reported an on-chain revert: no amount of
			// resubmission fixes that, fail out immediately.
			p.report(ctx, intent, txHash, false, true)
			return
		}

		p.log.Warn("settlement submission failed, will retry",
			zap.String("message_id", intent.MessageID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == p.backoff.MaxAttempts {
			break
		}
		if !sleepCtx(ctx, p.backoff.next(attempt)) {
			return
		}
	}

	// Per spec.md's open-question resolution: a terminal submission
	// failure is reported out and handled by operator-triggered retry,
	// not an automatic unbounded loop.
	p.log.Error("settlement submission exhausted retries", zap.String("message_id", intent.MessageID))
	p.report(ctx, intent, "", false, true)
}

// awaitConfirmation polls IsConfirmed until it reports confirmed or
// failed, or ctx is cancelled. Returns true only on confirmation.
func (p *Processor) awaitConfirmation(ctx context.Context, txHash string) bool {
	for {
		confirmed, failed, err := p.submit.IsConfirmed(ctx, txHash)
		if err != nil {
			p.log.Warn("confirmation check failed, retrying", zap.String("tx_hash", txHash), zap.Error(err))
		} else if confirmed {
			return true
		} else if failed {
			return false
		}
		if !sleepCtx(ctx, p.confirmPoll) {
			return false
		}
	}
}

func (p *Processor) report(ctx context.Context, intent queue.OutgoingIntent, txHash string, confirmed, failed bool) {
	item := queue.Incoming{
		MessageID: intent.MessageID,
		Kind:      queue.IncomingSettlementResult,
		SettlementResult: &queue.SettlementResult{
			MessageID: intent.MessageID,
			Kind:      intent.Kind,
			TxHash:    txHash,
			Confirmed: confirmed,
			Failed:    failed,
			Withdraw:  intent.Withdraw,
		},
	}
	if err := p.results.Send(ctx, item); err != nil {
		p.log.Warn("failed to report settlement result", zap.String("message_id", intent.MessageID), zap.Error(err))
	}
}

// sleepCtx sleeps for d or returns early (with false) if ctx is
// cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
