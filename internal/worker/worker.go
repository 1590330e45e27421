package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/config"
	"github.com/eas-attendance/backend/internal/attendance"
	"github.com/eas-attendance/backend/internal/models"
	"github.com/eas-attendance/backend/internal/notify"
	"github.com/eas-attendance/backend/pkg/queue"
	"github.com/eas-attendance/backend/pkg/storage"
)

// Processor consumes notification and export jobs: delivers queued emails via
// SMTP and writes attendance CSV exports to S3.
type Processor struct {
	emailRepo *notify.Repository
	attRepo   *attendance.Repository
	s3        *storage.S3
	queue     *queue.Queue
	email     config.EmailConfig
	logger    *zap.Logger

	// send delivers one message; swapped out in tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewProcessor creates a job processor.
func NewProcessor(emailRepo *notify.Repository, attRepo *attendance.Repository, s3 *storage.S3,
	q *queue.Queue, email config.EmailConfig, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		emailRepo: emailRepo,
		attRepo:   attRepo,
		s3:        s3,
		queue:     q,
		email:     email,
		logger:    logger,
		send:      smtp.SendMail,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeEmail:
		return p.processEmail(ctx, job)
	case queue.JobTypeAuditExport:
		return p.processAuditExport(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) processEmail(ctx context.Context, job *queue.Job) error {
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	log := &models.EmailLog{
		EmailType:      payload.EmailType,
		RecipientEmail: payload.RecipientEmail,
		Subject:        payload.Subject,
	}
	if payload.EventID != uuid.Nil {
		id := payload.EventID
		log.EventID = &id
	}
	if payload.RecordID != uuid.Nil {
		id := payload.RecordID
		log.RecordID = &id
	}
	if err := p.emailRepo.Create(ctx, log); err != nil {
		return fmt.Errorf("create email log: %w", err)
	}

	if p.email.SMTPHost == "" {
		// No SMTP configured: log-only delivery for dev environments.
		p.logger.Info("email delivery skipped (no SMTP host)",
			zap.String("to", payload.RecipientEmail), zap.String("subject", payload.Subject))
		return p.emailRepo.MarkSent(ctx, log.ID)
	}

	msg := buildMessage(p.email.FromName, p.email.FromAddress, payload.RecipientEmail, payload.Subject, payload.BodyHTML)
	addr := p.email.SMTPHost + ":" + strconv.Itoa(p.email.SMTPPort)
	var auth smtp.Auth
	if p.email.SMTPUser != "" {
		auth = smtp.PlainAuth("", p.email.SMTPUser, p.email.SMTPPass, p.email.SMTPHost)
	}
	if err := p.send(addr, auth, p.email.FromAddress, []string{payload.RecipientEmail}, msg); err != nil {
		if dbErr := p.emailRepo.MarkFailed(ctx, log.ID, err.Error()); dbErr != nil {
			p.logger.Error("mark email failed errored", zap.Error(dbErr))
		}
		return fmt.Errorf("smtp send: %w", err)
	}

	if err := p.emailRepo.MarkSent(ctx, log.ID); err != nil {
		p.logger.Error("mark email sent errored", zap.Error(err))
	}
	p.logger.Info("email delivered", zap.String("to", payload.RecipientEmail), zap.String("type", payload.EmailType))
	return nil
}

func (p *Processor) processAuditExport(ctx context.Context, job *queue.Job) error {
	var payload queue.AuditExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	records, err := p.attRepo.QueryByEvent(ctx, payload.CampusID, payload.EventID)
	if err != nil {
		return fmt.Errorf("query attendance: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"record_id", "user_id", "kind", "cross_campus", "committed_at"})
	for _, rec := range records {
		_ = w.Write([]string{
			rec.ID.String(),
			rec.UserID.String(),
			string(rec.Kind),
			strconv.FormatBool(rec.CrossCampus),
			rec.CommittedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	key := fmt.Sprintf("exports/%s/%s.csv", payload.EventID, time.Now().UTC().Format("20060102T150405Z"))
	if _, err := p.s3.Upload(ctx, p.s3.EvidenceBucket(), key, "text/csv", &buf, int64(buf.Len())); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("attendance export written",
		zap.String("event_id", payload.EventID.String()),
		zap.String("s3_key", key),
		zap.Int("records", len(records)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, key, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, key); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}

func buildMessage(fromName, fromAddr, to, subject, bodyHTML string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s <%s>\r\n", fromName, fromAddr)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(bodyHTML)
	return b.Bytes()
}
