package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lab-access-api/internal/models"
	"github.com/noah-isme/lab-access-api/pkg/jobs"
)

// NotificationKind enumerates workflow transition events.
type NotificationKind string

const (
	NotifySubmitted     NotificationKind = "request_submitted"
	NotifyStageApproved NotificationKind = "stage_approved"
	NotifyStageRejected NotificationKind = "stage_rejected"
	NotifyFinalApproved NotificationKind = "final_approved"
)

// NotificationEvent describes one committed transition. Delivery is the
// notifier's problem; the workflow fires the event exactly once per commit
// and never fails a transition on notifier errors.
type NotificationEvent struct {
	Kind      NotificationKind
	Request   *models.AccessRequest
	Actor     models.UserInfo
	NextStage string
	Reason    string
}

// Notifier receives workflow transition events.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent)
}

// NopNotifier discards events.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, NotificationEvent) {}

// NotifierFunc adapts a plain function.
type NotifierFunc func(ctx context.Context, event NotificationEvent)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, event NotificationEvent) {
	f(ctx, event)
}

// QueueNotifier hands events to the background job queue so slow delivery
// never blocks the request path.
type QueueNotifier struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewQueueNotifier constructs the notifier.
func NewQueueNotifier(queue *jobs.Queue, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{queue: queue, logger: logger}
}

// Notify enqueues the event, fire-and-forget.
func (n *QueueNotifier) Notify(ctx context.Context, event NotificationEvent) {
	if n.queue == nil {
		return
	}
	job := jobs.Job{
		ID:      fmt.Sprintf("%s-%s", event.Kind, event.Request.ID),
		Type:    string(event.Kind),
		Payload: event,
	}
	if err := n.queue.Enqueue(job); err != nil {
		n.logger.Warn("failed to enqueue notification",
			zap.String("kind", string(event.Kind)),
			zap.String("request_id", event.Request.ID),
			zap.Error(err))
	}
}

// NotificationDispatcher renders queued events into outbound messages. The
// transport (mail relay, webhook) sits behind the Sender; the default
// logging sender stands in where no relay is configured.
type NotificationDispatcher struct {
	sender   NotificationSender
	fromName string
	logger   *zap.Logger
}

// NotificationSender delivers a rendered message.
type NotificationSender interface {
	Send(ctx context.Context, subject, body string) error
}

// LogSender writes rendered notifications to the structured log.
type LogSender struct {
	Logger *zap.Logger
}

// Send implements NotificationSender.
func (s LogSender) Send(_ context.Context, subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification", zap.String("subject", subject), zap.String("body", body))
	return nil
}

// NewNotificationDispatcher constructs the dispatcher.
func NewNotificationDispatcher(sender NotificationSender, fromName string, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &NotificationDispatcher{sender: sender, fromName: fromName, logger: logger}
}

// Handle is the jobs.Handler that processes queued notification events.
func (d *NotificationDispatcher) Handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(NotificationEvent)
	if !ok {
		d.logger.Warn("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	subject, body := d.render(event)
	return d.sender.Send(ctx, subject, body)
}

func (d *NotificationDispatcher) render(event NotificationEvent) (string, string) {
	req := event.Request
	switch event.Kind {
	case NotifySubmitted:
		return fmt.Sprintf("[%s] New access request: %s", d.fromName, req.Title),
			fmt.Sprintf("%s submitted %q and it is awaiting %s review.", req.RequesterName, req.Title, event.NextStage)
	case NotifyStageApproved:
		return fmt.Sprintf("[%s] Request %s advanced", d.fromName, req.Title),
			fmt.Sprintf("%s approved %q; next approver: %s.", event.Actor.FullName, req.Title, event.NextStage)
	case NotifyStageRejected:
		return fmt.Sprintf("[%s] Request %s rejected", d.fromName, req.Title),
			fmt.Sprintf("%s rejected %q: %s", event.Actor.FullName, req.Title, event.Reason)
	case NotifyFinalApproved:
		return fmt.Sprintf("[%s] Request %s approved", d.fromName, req.Title),
			fmt.Sprintf("%q has been granted final approval.", req.Title)
	}
	return fmt.Sprintf("[%s] Request %s", d.fromName, req.ID), fmt.Sprintf("workflow event %s", event.Kind)
}
