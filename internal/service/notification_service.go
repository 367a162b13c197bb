package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-portal-api/pkg/jobs"
	"github.com/noah-isme/cohort-portal-api/pkg/mailer"
)

const jobTypeApprovalRequest = "approval_request"

type approvalPayload struct {
	AssignerEmail string
	StudentName   string
	TaskTitle     string
}

// NotificationService delivers event emails through a background worker
// queue so HTTP handlers never block on SMTP.
type NotificationService struct {
	queue       *jobs.Queue
	sender      OTPSender
	metrics     *MetricsService
	sendTimeout time.Duration
	logger      *zap.Logger
}

// NotificationConfig tunes the worker pool.
type NotificationConfig struct {
	Workers     int
	MaxRetries  int
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

// NewNotificationService constructs the notification service and its queue.
func NewNotificationService(sender OTPSender, metrics *MetricsService, cfg NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}

	s := &NotificationService{sender: sender, metrics: metrics, sendTimeout: cfg.SendTimeout, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// ApprovalRequested queues an email to the task assigner telling them a
// student requested approval. Enqueue failures are logged, never returned.
func (s *NotificationService) ApprovalRequested(assignerEmail, studentName, taskTitle string) {
	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: jobTypeApprovalRequest,
		Payload: approvalPayload{
			AssignerEmail: assignerEmail,
			StudentName:   studentName,
			TaskTitle:     taskTitle,
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue approval notification",
			zap.String("task", taskTitle),
			zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case jobTypeApprovalRequest:
		payload, ok := job.Payload.(approvalPayload)
		if !ok {
			return fmt.Errorf("unexpected payload type for job %s", job.ID)
		}
		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
		err := s.sender.Send(sendCtx, mailer.ApprovalRequestMessage(payload.AssignerEmail, payload.StudentName, payload.TaskTitle))
		s.metrics.EmailSent("approval_request", err == nil)
		return err
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
