// Package sink defines where composed notifications end up.
package sink

import (
	"context"
	"errors"

	"stalker/internal/compose"
	logx "stalker/pkg/logx"
)

// Sink shows a notification to the operator.
type Sink interface {
	Show(ctx context.Context, n compose.Notification) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, n compose.Notification) error

func (f Func) Show(ctx context.Context, n compose.Notification) error { return f(ctx, n) }

// Multi shows the notification on every sink. All sinks are tried; errors are joined.
type Multi []Sink

func (m Multi) Show(ctx context.Context, n compose.Notification) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Show(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications through the logger. It never fails.
type Log struct {
	log     logx.Logger
	baseURL string
}

func NewLog(log logx.Logger, baseURL string) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log, baseURL: baseURL}
}

func (l *Log) Show(_ context.Context, n compose.Notification) error {
	l.log.Info(n.Title,
		logx.String("id", n.ID),
		logx.String("kind", string(n.Kind)),
		logx.String("subject", n.SubjectID),
		logx.String("body", n.Body),
		logx.String("link", n.Target.Link(l.baseURL)),
	)
	return nil
}
