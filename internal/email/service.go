// Package email queues notifications through redis and delivers them over
// SMTP from a background consumer. Delivery is best-effort: a failed send is
// retried twice, then parked on a dead-letter list. Nothing in here may
// affect a financial outcome.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"sanaahub/internal/logger"
	"sanaahub/internal/metrics"
	"sanaahub/internal/money"
	"sanaahub/internal/profile"
)

const (
	queueKey      = "emails"
	deadLetterKey = "emails:failed"
	maxTries      = 3
)

type EmailJob struct {
	To      string    `json:"to"`
	Name    string    `json:"name"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

type Service struct {
	redis    *redis.Client
	profiles profile.Repository
	from     string
	fromName string
	smtpHost string
	smtpPort string
	smtpUser string
	smtpPass string
}

func New(profiles profile.Repository, fromEmail, fromName, smtpHost, smtpPort, smtpUser, smtpPass, redisAddr string) *Service {
	return &Service{
		redis: redis.NewClient(&redis.Options{
			Addr: redisAddr,
		}),
		profiles: profiles,
		from:     fromEmail,
		fromName: fromName,
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		smtpUser: smtpUser,
		smtpPass: smtpPass,
	}
}

func (s *Service) Send(ctx context.Context, to, name, subject, body string) error {
	job := EmailJob{
		To:      to,
		Name:    name,
		Subject: subject,
		Body:    body,
		Tries:   0,
		Created: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		logger.Errorf("Failed to marshal email job: %v", err)
		return err
	}

	if err := s.redis.LPush(ctx, queueKey, data).Err(); err != nil {
		logger.Errorf("Failed to queue email to %s: %v", to, err)
		metrics.RecordEmail("queued", "error")
		return err
	}

	metrics.RecordEmail("queued", "ok")
	logger.Infof("Email queued: %s to %s", subject, to)
	return nil
}

func (s *Service) Start(ctx context.Context) {
	logger.Info("email service started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("email service stopped")
			return
		default:
			s.processNext(ctx)
		}
	}
}

func (s *Service) processNext(ctx context.Context) {
	result, err := s.redis.BRPop(ctx, 2*time.Second, queueKey).Result()
	if err != nil {
		return
	}
	metrics.EmailQueueLength.Set(float64(s.QueueLength(ctx)))

	var job EmailJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Errorf("Bad email data: %v", err)
		return
	}

	job.Tries++
	if err := s.sendNow(job); err != nil {
		logger.Errorf("Failed to send email to %s (attempt %d): %v", job.To, job.Tries, err)

		if job.Tries < maxTries {
			time.Sleep(5 * time.Second)
			data, _ := json.Marshal(job)
			s.redis.LPush(context.Background(), queueKey, data)
		} else {
			s.saveFailed(job, err)
		}
		return
	}

	metrics.RecordEmail("sent", "ok")
	logger.Infof("Email sent successfully to %s", job.To)
}

func (s *Service) sendNow(job EmailJob) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", s.fromName, s.from)
	message += fmt.Sprintf("To: %s\r\n", job.To)
	message += fmt.Sprintf("Subject: %s\r\n", job.Subject)
	message += "\r\n" + job.Body

	var auth smtp.Auth
	if s.smtpUser != "" && s.smtpPass != "" {
		auth = smtp.PlainAuth("", s.smtpUser, s.smtpPass, s.smtpHost)
	}

	addr := s.smtpHost + ":" + s.smtpPort
	return smtp.SendMail(addr, auth, s.from, []string{job.To}, []byte(message))
}

func (s *Service) saveFailed(job EmailJob, err error) {
	failed := map[string]interface{}{
		"job":   job,
		"error": err.Error(),
		"time":  time.Now(),
	}
	data, _ := json.Marshal(failed)
	s.redis.LPush(context.Background(), deadLetterKey, data)
	metrics.RecordEmail("sent", "dead_letter")
	logger.Errorf("Email moved to failed queue after %d attempts: %s", maxTries, job.To)
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, _ := s.redis.LLen(ctx, queueKey).Result()
	return length
}

func (s *Service) Close() error {
	return s.redis.Close()
}

// sendToUser resolves the user's address; a user without a profile simply
// gets no email.
func (s *Service) sendToUser(ctx context.Context, userID int, subject, body string) error {
	address, err := s.profiles.Email(ctx, userID)
	if err != nil {
		logger.Warnf("No email address for user %d: %v", userID, err)
		return nil
	}
	return s.Send(ctx, address, "", subject, body)
}

// QueuePayoutCompleted implements the payout notifier.
func (s *Service) QueuePayoutCompleted(ctx context.Context, userID int, amount decimal.Decimal, reference string) error {
	subject := "Cashout on its way"
	body := fmt.Sprintf(`Hi,

Your cashout of %s %s has been sent to your payout destination.

Reference: %s

- SanaaHub Team`, money.Currency, amount.StringFixed(2), reference)

	return s.sendToUser(ctx, userID, subject, body)
}

// QueuePayoutFailed implements the payout notifier.
func (s *Service) QueuePayoutFailed(ctx context.Context, userID int, amount decimal.Decimal, reference string) error {
	subject := "Cashout could not be completed"
	body := fmt.Sprintf(`Hi,

Your cashout of %s %s could not be completed. No funds were deducted from
your balance; you can try again at any time.

Reference: %s

- SanaaHub Team`, money.Currency, amount.StringFixed(2), reference)

	return s.sendToUser(ctx, userID, subject, body)
}

// QueueEscrowFunded implements the escrow notifier.
func (s *Service) QueueEscrowFunded(ctx context.Context, userID int, projectNumber string, amount decimal.Decimal) error {
	subject := "Escrow funded - " + projectNumber
	body := fmt.Sprintf(`Hi,

Your payment of %s %s for project %s is now held in escrow. Work can begin;
funds are released when the project is completed.

- SanaaHub Team`, money.Currency, amount.StringFixed(2), projectNumber)

	return s.sendToUser(ctx, userID, subject, body)
}

// QueuePaymentReleased implements the escrow notifier.
func (s *Service) QueuePaymentReleased(ctx context.Context, userID int, projectNumber string, amount decimal.Decimal) error {
	subject := "Payment released - " + projectNumber
	body := fmt.Sprintf(`Hi,

Your share of %s %s for project %s has been released to your earnings
balance. You can cash out from your earnings page.

- SanaaHub Team`, money.Currency, amount.StringFixed(2), projectNumber)

	return s.sendToUser(ctx, userID, subject, body)
}
