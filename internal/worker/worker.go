// Package worker consumes the Redis job queue: report exports to S3 and
// notification emails.
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

	"github.com/mentorbridge/backend/config"
	"github.com/mentorbridge/backend/internal/auth"
	"github.com/mentorbridge/backend/internal/feedback"
	"github.com/mentorbridge/backend/internal/models"
	"github.com/mentorbridge/backend/internal/recognition"
	"github.com/mentorbridge/backend/internal/reports"
	"github.com/mentorbridge/backend/pkg/queue"
	"github.com/mentorbridge/backend/pkg/storage"
)

// Processor executes queued jobs: builds monthly report CSVs and uploads them
// to S3, and delivers notification emails.
type Processor struct {
	reports  *reports.Repository
	feedback *feedback.Repository
	tiers    *recognition.Repository
	users    *auth.Repository
	s3       *storage.S3
	queue    *queue.Queue
	email    config.EmailConfig
	logger   *zap.Logger
}

// NewProcessor creates the job processor. s3 may be nil; report jobs then fail
// and retry until storage is configured.
func NewProcessor(rp *reports.Repository, fb *feedback.Repository, tiers *recognition.Repository, users *auth.Repository, s3 *storage.S3, q *queue.Queue, email config.EmailConfig, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		reports:  rp,
		feedback: fb,
		tiers:    tiers,
		users:    users,
		s3:       s3,
		queue:    q,
		email:    email,
		logger:   logger,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeReportExport:
		return p.processReport(ctx, job)
	case queue.JobTypeEmail:
		return p.processEmail(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) processReport(ctx context.Context, job *queue.Job) error {
	var payload queue.ReportExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	rp, err := p.reports.GetByID(ctx, payload.ReportID)
	if err != nil {
		return fmt.Errorf("report not found: %s", payload.ReportID)
	}
	if rp.Status == models.ReportCompleted {
		p.logger.Info("report already completed", zap.String("report_id", rp.ID.String()))
		return nil
	}
	if p.s3 == nil {
		return fmt.Errorf("s3 not configured")
	}
	if _, err := p.reports.MarkProcessing(ctx, rp.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	body, err := p.buildCSV(ctx, rp.Month)
	if err != nil {
		if ferr := p.reports.MarkFailed(ctx, rp.ID, err.Error()); ferr != nil {
			p.logger.Error("mark failed", zap.Error(ferr), zap.String("report_id", rp.ID.String()))
		}
		return fmt.Errorf("build csv: %w", err)
	}

	key := storage.ReportKey(string(rp.Month), rp.ID.String())
	url, err := p.s3.Upload(ctx, key, "text/csv", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.reports.MarkCompleted(ctx, rp.ID, key, url); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	p.logger.Info("report export completed", zap.String("report_id", rp.ID.String()), zap.String("s3_key", key))
	return nil
}

// buildCSV renders one month's feedback rows followed by the current tier
// standings for every student that appears in the export.
func (p *Processor) buildCSV(ctx context.Context, month models.MonthKey) ([]byte, error) {
	rows, err := p.feedback.ListByMonth(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	tiers, err := p.tiers.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	tierByStudent := make(map[uuid.UUID]models.RecognitionTier, len(tiers))
	for _, t := range tiers {
		tierByStudent[t.StudentID] = t
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"facilitation_id", "submitter_id", "recipient_id", "submitter_role",
		"rating", "feedback_month", "hours_contributed", "support_needed",
		"recipient_tier", "recipient_streak"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, fb := range rows {
		hours := ""
		if fb.HoursContributed != nil {
			hours = strconv.Itoa(*fb.HoursContributed)
		}
		tier, streak := string(models.TierNone), 0
		if t, ok := tierByStudent[fb.RecipientID]; ok {
			tier, streak = string(t.CurrentTier), t.ConsecutiveHighRatingMonths
		}
		record := []string{
			fb.FacilitationID.String(), fb.SubmitterID.String(), fb.RecipientID.String(),
			string(fb.SubmitterRole), strconv.Itoa(fb.Rating), string(fb.FeedbackMonth),
			hours, strconv.FormatBool(fb.SupportNeeded), tier, strconv.Itoa(streak),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Processor) processEmail(ctx context.Context, job *queue.Job) error {
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	user, err := p.users.GetByID(ctx, payload.UserID)
	if err != nil {
		// Recipient is gone; nothing to deliver.
		p.logger.Warn("email recipient not found", zap.String("user_id", payload.UserID.String()))
		return nil
	}
	if p.email.SMTPHost == "" {
		p.logger.Info("email delivery skipped (SMTP not configured)",
			zap.String("to", user.Email), zap.String("subject", payload.Subject))
		return nil
	}

	addr := p.email.SMTPHost + ":" + strconv.Itoa(p.email.SMTPPort)
	msg := []byte("From: " + p.email.FromName + " <" + p.email.FromAddress + ">\r\n" +
		"To: " + user.Email + "\r\n" +
		"Subject: " + payload.Subject + "\r\n\r\n" +
		payload.Body + "\r\n")
	var a smtp.Auth
	if p.email.SMTPUser != "" {
		a = smtp.PlainAuth("", p.email.SMTPUser, p.email.SMTPPass, p.email.SMTPHost)
	}
	if err := smtp.SendMail(addr, a, p.email.FromAddress, []string{user.Email}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	p.logger.Info("email delivered", zap.String("to", user.Email), zap.String("subject", payload.Subject))
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

		job, origin, err := p.queue.Dequeue(ctx)
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
			if reErr := p.queue.Retry(ctx, job, origin); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
