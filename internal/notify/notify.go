/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package notify

import (
	"context"
	"errors"
	"strings"
)

// ErrRecipientNotFound is returned by a Messenger when an email has no account.
var ErrRecipientNotFound = errors.New("notify: recipient not found")

// Messenger is the messaging platform seen by the dispatcher.
type Messenger interface {
	ResolveRecipient(ctx context.Context, email string) (string, error)
	DeliverMessage(ctx context.Context, handle, text string) error
}

// Kind tags a report; a recipient gets at most one message per kind per run.
type Kind string

const (
	KindDevs          Kind = "devs"
	KindSquads        Kind = "squads"
	KindOrg           Kind = "org"
	KindStaleDev      Kind = "stale_dev"
	KindStaleQA       Kind = "stale_qa"
	KindReadyDev      Kind = "ready_dev"
	KindNoStoryPoints Kind = "no_story_points"
	KindQANoTester    Kind = "qa_no_tester"
)

type RecipientKind string

const (
	RecipientEmail   RecipientKind = "email"
	RecipientChannel RecipientKind = "channel"
)

// Recipient is either a person, addressed by email and resolved through the
// messenger, or a channel id delivered to as is.
type Recipient struct {
	Kind    RecipientKind
	Address string
}

func Email(addr string) Recipient  { return Recipient{Kind: RecipientEmail, Address: addr} }
func Channel(id string) Recipient  { return Recipient{Kind: RecipientChannel, Address: id} }
func (r Recipient) String() string { return string(r.Kind) + ":" + r.Address }
func (r Recipient) key() string    { return string(r.Kind) + ":" + strings.ToLower(strings.TrimSpace(r.Address)) }
func (r Recipient) missing() bool  { return strings.TrimSpace(r.Address) == "" }

// Message is one composed text for one recipient. Empty Text means the
// recipient had no findings.
type Message struct {
	Recipient Recipient
	Text      string
}

type Outcome string

const (
	OutcomeDelivered          Outcome = "delivered"
	OutcomeSkippedNoRecipient Outcome = "skipped_no_recipient"
	OutcomeSkippedNoFindings  Outcome = "skipped_no_findings"
	OutcomeFailed             Outcome = "failed"
	OutcomeSkippedDuplicate   Outcome = "skipped_duplicate"
)

type Result struct {
	Recipient Recipient
	Outcome   Outcome
	Err       error
}

// Summary collects the outcome of every message handed to Dispatch.
type Summary struct {
	Kind    Kind
	Results []Result
}

func (s Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

func (s Summary) Delivered() int { return s.Count(OutcomeDelivered) }
func (s Summary) Failed() int    { return s.Count(OutcomeFailed) }

// Skipped counts every skip outcome.
func (s Summary) Skipped() int {
	return s.Count(OutcomeSkippedNoRecipient) + s.Count(OutcomeSkippedNoFindings) + s.Count(OutcomeSkippedDuplicate)
}

// Merge appends other's results. Kinds are kept from s.
func (s Summary) Merge(other Summary) Summary {
	s.Results = append(append([]Result{}, s.Results...), other.Results...)
	return s
}
