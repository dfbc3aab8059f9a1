/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const meterScope = "github.com/lgomeza/jira-slack-pm/internal/notify"

// Dispatcher delivers composed messages. One Dispatcher serves one run: it
// remembers every (kind, recipient) it has handled and never sends twice.
type Dispatcher struct {
	messenger Messenger
	workers   int
	log       zerolog.Logger
	outcomes  metric.Int64Counter

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDispatcher(m Messenger, workers int, log zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	counter, err := otel.Meter(meterScope).Int64Counter("pulse.notify.outcomes",
		metric.WithDescription("Notification outcomes by report kind"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("notify: outcome counter unavailable")
	}
	return &Dispatcher{messenger: m, workers: workers, log: log, outcomes: counter, seen: map[string]struct{}{}}
}

// Dispatch sends each message at most once. Failures are isolated per
// recipient; the batch always runs to the end. Delivery order is unspecified.
func (d *Dispatcher) Dispatch(ctx context.Context, kind Kind, msgs []Message) Summary {
	sum := Summary{Kind: kind, Results: make([]Result, len(msgs))}
	pending := make([]int, 0, len(msgs))
	for i, m := range msgs {
		sum.Results[i].Recipient = m.Recipient
		switch {
		case strings.TrimSpace(m.Text) == "":
			sum.Results[i].Outcome = OutcomeSkippedNoFindings
		case m.Recipient.missing():
			sum.Results[i].Outcome = OutcomeSkippedNoRecipient
		case !d.claim(kind, m.Recipient):
			sum.Results[i].Outcome = OutcomeSkippedDuplicate
		default:
			pending = append(pending, i)
		}
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, i := range pending {
		g.Go(func() error {
			sum.Results[i].Outcome, sum.Results[i].Err = d.deliver(ctx, kind, msgs[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range sum.Results {
		d.record(ctx, kind, r)
	}
	d.log.Info().Str("kind", string(kind)).
		Int("delivered", sum.Delivered()).
		Int("skipped", sum.Skipped()).
		Int("failed", sum.Failed()).
		Msg("notify: dispatch done")
	return sum
}

// claim reserves (kind, recipient); false when it was already taken.
func (d *Dispatcher) claim(kind Kind, r Recipient) bool {
	k := string(kind) + "|" + r.key()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[k]; ok {
		return false
	}
	d.seen[k] = struct{}{}
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, kind Kind, m Message) (Outcome, error) {
	handle := m.Recipient.Address
	if m.Recipient.Kind == RecipientEmail {
		h, err := d.messenger.ResolveRecipient(ctx, m.Recipient.Address)
		if errors.Is(err, ErrRecipientNotFound) {
			d.log.Warn().Str("kind", string(kind)).Str("recipient", m.Recipient.Address).Msg("notify: recipient not found, skipping")
			return OutcomeSkippedNoRecipient, err
		}
		if err != nil {
			d.log.Error().Err(err).Str("kind", string(kind)).Str("recipient", m.Recipient.Address).Msg("notify: resolve failed")
			return OutcomeFailed, err
		}
		handle = h
	}
	if err := d.messenger.DeliverMessage(ctx, handle, m.Text); err != nil {
		d.log.Error().Err(err).Str("kind", string(kind)).Str("recipient", m.Recipient.String()).Msg("notify: delivery failed")
		return OutcomeFailed, err
	}
	return OutcomeDelivered, nil
}

func (d *Dispatcher) record(ctx context.Context, kind Kind, r Result) {
	if d.outcomes == nil {
		return
	}
	d.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", string(r.Outcome)),
	))
}
