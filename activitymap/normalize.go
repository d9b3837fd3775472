package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-authn"
)

// Outcome of a normalized auth event
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// anonymous is the actor of events that carry no username
const anonymous = "anonymous"

// Normalized is the flat shape auth events are logged with.
type Normalized struct {
	ActorID      string         `json:"actor_id"`
	Verb         string         `json:"verb"`
	Outcome      string         `json:"outcome"`
	Impersonated bool           `json:"impersonated"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Normalize flattens event. The event metadata is copied, never shared.
func Normalize(event authn.ActivityEvent) Normalized {
	actor := strings.TrimSpace(event.Username)
	if actor == "" {
		actor = anonymous
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	n := Normalized{
		ActorID:    actor,
		Verb:       string(event.EventType),
		Outcome:    OutcomeSuccess,
		OccurredAt: at,
	}

	switch event.EventType {
	case authn.ActivityEventImpersonationSuccess:
		n.Impersonated = true
	case authn.ActivityEventImpersonationFailure:
		n.Impersonated = true
		n.Outcome = OutcomeFailure
	case authn.ActivityEventLoginFailure:
		n.Outcome = OutcomeFailure
	}

	if len(event.Metadata) > 0 {
		n.Metadata = make(map[string]any, len(event.Metadata))
		for k, v := range event.Metadata {
			n.Metadata[k] = v
		}
	}

	return n
}

// LogSink returns an ActivitySink that logs every event at info level.
func LogSink(logger authn.Logger) authn.ActivitySink {
	return authn.ActivitySinkFunc(func(_ context.Context, event authn.ActivityEvent) error {
		if logger == nil {
			return nil
		}
		n := Normalize(event)
		logger.Info("auth activity",
			"actor_id", n.ActorID,
			"verb", n.Verb,
			"outcome", n.Outcome,
			"impersonated", n.Impersonated,
			"metadata", n.Metadata,
			"occurred_at", n.OccurredAt,
		)
		return nil
	})
}
