// Package resolver turns a user prompt into a bot reply.
//
// Each call walks a small state machine:
//
//	Pending -> Remote -> Accepted    -> Resolved
//	                  \-> FallingBack -> Resolved
//
// The remote provider is optional and untrusted. Any failure there is logged,
// counted, and absorbed; the fallback table always yields a reply, so Resolve
// never returns an error.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Source says where a reply came from.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Reasons recorded on a Reply.
const (
	ReasonAccepted     = "accepted"     // remote output used
	ReasonNoGenerator  = "no_generator" // no provider configured
	ReasonUpstream     = "upstream_error"
	ReasonTimeout      = "timeout"
	ReasonEmptyOutput  = "empty_output" // output blank after stop-marker cut
	ReasonMatched      = "matched"      // fallback table hit
	ReasonDefaultReply = "default"      // fallback table miss
)

// Reply is a resolved bot answer.
type Reply struct {
	Text   string
	Source Source
	// Reason explains the final transition; for fallback replies it carries
	// why the remote step was skipped or failed, then the table outcome.
	Reason string
}

type state int

const (
	statePending state = iota
	stateRemote
	stateAccepted
	stateFallingBack
	stateResolved
)

// DefaultTimeout bounds a remote call when none is configured.
const DefaultTimeout = 5 * time.Second

// Resolver resolves prompts. The zero value is not usable; use New.
type Resolver struct {
	gen        Generator
	table      *FallbackTable
	timeout    time.Duration
	stopMarker string
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithGenerator sets the remote provider. A nil generator means fallback only.
func WithGenerator(g Generator) Option { return func(r *Resolver) { r.gen = g } }

// WithFallbackTable replaces the built-in fallback table.
func WithFallbackTable(t *FallbackTable) Option {
	return func(r *Resolver) {
		if t != nil {
			r.table = t
		}
	}
}

// WithTimeout bounds each remote call.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithStopMarker cuts remote output at the first occurrence of marker.
func WithStopMarker(marker string) Option { return func(r *Resolver) { r.stopMarker = marker } }

// New builds a Resolver with the built-in fallback table and DefaultTimeout.
func New(opts ...Option) *Resolver {
	r := &Resolver{table: NewFallbackTable(nil), timeout: DefaultTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// HasGenerator reports whether a remote provider is configured.
func (r *Resolver) HasGenerator() bool { return r.gen != nil }

// Resolve returns a non-empty reply for text.
func (r *Resolver) Resolve(ctx context.Context, text string) Reply {
	ctx, span := otel.Tracer("resolver").Start(ctx, "Resolve")
	defer span.End()

	var (
		st     = statePending
		output string
		why    string
		reply  Reply
	)
	for st != stateResolved {
		switch st {
		case statePending:
			if r.gen == nil {
				why = ReasonNoGenerator
				st = stateFallingBack
				continue
			}
			st = stateRemote

		case stateRemote:
			out, err := r.callRemote(ctx, text)
			if err != nil {
				why = ReasonUpstream
				if errors.Is(err, context.DeadlineExceeded) {
					why = ReasonTimeout
				}
				log.Ctx(ctx).Warn().Err(err).Str("reason", why).Msg("text generator failed; using fallback")
				st = stateFallingBack
				continue
			}
			output = r.trim(out)
			if output == "" {
				why = ReasonEmptyOutput
				st = stateFallingBack
				continue
			}
			st = stateAccepted

		case stateAccepted:
			reply = Reply{Text: output, Source: SourceRemote, Reason: ReasonAccepted}
			st = stateResolved

		case stateFallingBack:
			txt, hit := r.table.Lookup(text)
			outcome := ReasonDefaultReply
			if hit {
				outcome = ReasonMatched
			}
			reply = Reply{Text: txt, Source: SourceFallback, Reason: why + "/" + outcome}
			st = stateResolved
		}
	}

	resolutions.WithLabelValues(string(reply.Source), reply.Reason).Inc()
	span.SetAttributes(
		attribute.String("reply.source", string(reply.Source)),
		attribute.String("reply.reason", reply.Reason),
	)
	return reply
}

func (r *Resolver) callRemote(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := otel.Tracer("resolver").Start(ctx, "Generate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	out, err := r.gen.Generate(ctx, text)
	if err == nil {
		return out, nil
	}
	span.RecordError(err)
	if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", errors.Join(err, ctx.Err())
	}
	return "", err
}

// trim applies the stop marker and strips surrounding whitespace.
func (r *Resolver) trim(out string) string {
	if r.stopMarker != "" {
		if i := strings.Index(out, r.stopMarker); i >= 0 {
			out = out[:i]
		}
	}
	return strings.TrimSpace(out)
}
