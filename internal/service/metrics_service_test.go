package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-portal-api/internal/models"
	"github.com/noah-isme/cohort-portal-api/pkg/jobs"
)

func TestMetricsObserveHTTPRequest(t *testing.T) {
	m := NewMetricsService()

	m.ObserveHTTPRequest("GET", "/tasks", 200, 25*time.Millisecond)
	m.ObserveHTTPRequest("GET", "/tasks", 200, 40*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/tasks", "200")))
}

func TestMetricsCountOTPLifecycle(t *testing.T) {
	m := NewMetricsService()
	repo := newMockUserRepo()
	mail := &mockSender{}
	svc := NewAuthService(repo, mail, nil, m, nil, zap.NewNop(), AuthConfig{
		TokenSecret:        "test-secret",
		AllowedEmailDomain: "@cloud.neduet.edu.pk",
	})

	err := svc.RequestOTP(context.Background(), models.RequestOTPRequest{
		Email:    "sara@cloud.neduet.edu.pk",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emailsSent.WithLabelValues("otp", "ok")))

	err = svc.VerifyOTP(context.Background(), models.VerifyOTPRequest{
		Email: "sara@cloud.neduet.edu.pk",
		OTP:   "000000",
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpVerified.WithLabelValues("mismatch")))

	code := *repo.users["sara@cloud.neduet.edu.pk"].OTPCode
	err = svc.VerifyOTP(context.Background(), models.VerifyOTPRequest{
		Email: "sara@cloud.neduet.edu.pk",
		OTP:   code,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpVerified.WithLabelValues("ok")))
}

func TestMetricsCountApprovalEmails(t *testing.T) {
	m := NewMetricsService()
	mail := &mockSender{}
	svc := NewNotificationService(mail, m, NotificationConfig{}, zap.NewNop())

	err := svc.handle(context.Background(), jobs.Job{
		ID:   "job-1",
		Type: jobTypeApprovalRequest,
		Payload: approvalPayload{
			AssignerEmail: "admin@cloud.neduet.edu.pk",
			StudentName:   "sara@cloud.neduet.edu.pk",
			TaskTitle:     "FYP literature review",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emailsSent.WithLabelValues("approval_request", "ok")))
	require.Len(t, mail.sent, 1)
}

func TestMetricsCountTaskTransitions(t *testing.T) {
	m := NewMetricsService()
	repo := newMockTaskRepo(seedTask(models.TaskStatusAssigned, 0))
	resolver := &mockResolver{known: map[string]models.UserRef{}}
	svc := NewTaskService(repo, resolver, nil, m, nil, zap.NewNop())

	progress := 50
	_, err := svc.UpdateProgress(context.Background(), "task-1", UpdateProgressRequest{Progress: &progress}, studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskTransitions.WithLabelValues(string(models.TaskStatusInProgress))))

	admin := adminClaims()
	full := 100
	_, err = svc.UpdateProgress(context.Background(), "task-1", UpdateProgressRequest{Progress: &full}, admin)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), "task-1", UpdateStatusRequest{Status: string(models.TaskStatusCompleted)}, admin)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskTransitions.WithLabelValues(string(models.TaskStatusCompleted))))
}
