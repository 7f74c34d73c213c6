// Package safety is the single enforcement point for consent: every
// invocation passes through Gate.Authorize before any connector is touched.
package safety

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bturcanu/OpsGate/pkg/metrics"
	"github.com/bturcanu/OpsGate/pkg/registry"
	"github.com/bturcanu/OpsGate/pkg/types"
)

// ReasonConsentRequired is the denial message for a missing consent flag.
const ReasonConsentRequired = "explicit consent required for this operation"

// Decision is the outcome of Authorize. A denial is a normal result, not an
// error.
type Decision struct {
	Allow       bool
	Reason      string
	Remediation string
	// Intent is set when the source text matched a dangerous-intent phrase.
	Intent *Match
}

// ErrorInfo converts a denial into the envelope error.
func (d Decision) ErrorInfo() *types.ErrorInfo {
	if d.Allow {
		return nil
	}
	info := types.NewErrorInfo(types.KindConsentRequired, d.Reason)
	info.Remediation = d.Remediation
	return info
}

// Gate applies the consent policy.
type Gate struct {
	classifier *Classifier
	log        *slog.Logger
}

// NewGate creates a gate. A nil classifier uses the built-in vocabulary.
func NewGate(classifier *Classifier, log *slog.Logger) *Gate {
	if classifier == nil {
		classifier = NewClassifier()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{classifier: classifier, log: log}
}

// Classifier returns the gate's intent classifier.
func (g *Gate) Classifier() *Classifier { return g.classifier }

// Authorize decides whether inv may run.
//
// The consent flag is authoritative. SAFE tools always run; a phrase match in
// their source text is only logged. CONSENT_REQUIRED tools run only with
// consent=true; a phrase match adds detail to the denial but never denies a
// call that carries consent.
func (g *Gate) Authorize(ctx context.Context, inv types.Invocation, d *registry.ToolDescriptor) Decision {
	var intent *Match
	if inv.SourceText != "" {
		if m, ok := g.classifier.Scan(inv.SourceText); ok {
			intent = &m
		}
	}

	if !d.RequiresConsent() {
		if intent != nil {
			metrics.IntentMatches.WithLabelValues(d.Name, "false").Inc()
			g.log.WarnContext(ctx, "dangerous intent in request text for safe tool",
				"request_id", inv.RequestID,
				"tool", d.Name,
				"phrase", intent.Phrase,
			)
		}
		return Decision{Allow: true, Intent: intent}
	}

	if inv.Consent {
		return Decision{Allow: true, Intent: intent}
	}

	metrics.ConsentDenials.WithLabelValues(d.Name).Inc()
	if intent != nil {
		metrics.IntentMatches.WithLabelValues(d.Name, "true").Inc()
	}
	g.log.InfoContext(ctx, "consent required",
		"request_id", inv.RequestID,
		"tool", d.Name,
		"intent_matched", intent != nil,
	)
	return Decision{
		Allow:       false,
		Reason:      ReasonConsentRequired,
		Remediation: remediation(d, intent),
		Intent:      intent,
	}
}

func remediation(d *registry.ToolDescriptor, intent *Match) string {
	action := d.Name
	if d.Description != "" {
		action = fmt.Sprintf("%s (%s)", d.Name, d.Description)
	}
	msg := fmt.Sprintf("%s can change external state. Ask the user to confirm explicitly, then repeat the call with consent=true.", action)
	if intent != nil {
		msg += fmt.Sprintf(" The request text asks to %q.", intent.Phrase)
	}
	return msg
}
