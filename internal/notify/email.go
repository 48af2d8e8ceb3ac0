package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
)

// EmailNotifier batches run results and mails one digest per batch
// instead of one message per account.
type EmailNotifier struct {
	cfg config.EmailConfig
	log *logbus.Logger

	mu     sync.Mutex
	queue  chan RunCompletedEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int

	// send is swapped out in tests.
	send func(ctx context.Context, cfg config.EmailConfig, events []RunCompletedEvent) error
}

func NewEmailNotifier(cfg config.EmailConfig, log *logbus.Logger) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		cfg:           cfg,
		log:           log,
		queue:         make(chan RunCompletedEvent, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: 20 * time.Second,
		maxBatch:      80,
		send:          SendRunSummaryEmail,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyRunCompleted(_ context.Context, evt RunCompletedEvent) {
	select {
	case n.queue <- evt:
	default:
		n.log.Warn("email notification dropped, queue full", logbus.Fields{
			"account":     evt.AccountName,
			"orderNumber": evt.OrderNumber,
		})
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []RunCompletedEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	resetTimer := func() {
		if n.summaryWindow <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(n.summaryWindow)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.summaryWindow)
	}

	flush := func(reason string) {
		if len(pending) == 0 {
			stopTimer()
			return
		}
		events := append([]RunCompletedEvent(nil), pending...)
		pending = pending[:0]
		stopTimer()
		n.handleBatch(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush("immediate")
				continue
			}
			resetTimer()
		case <-timerCh:
			flush("idle")
		}
	}
}

func (n *EmailNotifier) handleBatch(reason string, events []RunCompletedEvent) {
	if !n.cfg.Enabled {
		n.log.Info("email notifications disabled, dropping batch", logbus.Fields{
			"count":  len(events),
			"reason": reason,
		})
		return
	}
	if err := validateEmailConfig(n.cfg); err != nil {
		n.log.Warn("invalid email configuration", logbus.Fields{"error": err.Error()})
		return
	}
	if err := n.send(n.ctx, n.cfg, events); err != nil {
		n.log.Warn("email delivery failed", logbus.Fields{
			"error":  err.Error(),
			"count":  len(events),
			"reason": reason,
		})
		return
	}
	n.log.Info("summary email sent", logbus.Fields{
		"count":  len(events),
		"reason": reason,
		"to":     strings.TrimSpace(n.cfg.To),
	})
}

func validateEmailConfig(cfg config.EmailConfig) error {
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return errors.New("email.from is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return errors.New("invalid email.from address")
	}
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return errors.New("email.smtpHost is required")
	}
	if strings.TrimSpace(cfg.AuthCode) == "" {
		return errors.New("email.authCode is required")
	}
	return nil
}

var summaryHTMLTpl = template.Must(template.New("run-summary").Parse(`
<!doctype html>
<html lang="fr">
  <head>
    <meta charset="utf-8" />
    <title>Récapitulatif copy trading</title>
  </head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Arial,sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#0ea5e9,#6366f1);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;">Récapitulatif copy trading</div>
          <div style="margin-top:6px;font-size:12px;opacity:.95;">TTUEX bot</div>
        </div>
        <div style="padding:22px;">
          <div style="font-size:14px;color:#111827;">
            {{ .Total }} exécution(s), {{ .Succeeded }} réussie(s), {{ .Failed }} échouée(s)
          </div>
          <div style="margin-top:12px;border:1px solid #eef0f6;border-radius:12px;overflow:hidden;">
            <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="width:100%;border-collapse:collapse;">
              <thead>
                <tr style="background:#fafbff;">
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">Heure</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">Compte</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">Ordre</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">Résultat</th>
                </tr>
              </thead>
              <tbody>
                {{ range .Rows }}
                <tr>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .At }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Account }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Order }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Outcome }}</td>
                </tr>
                {{ end }}
              </tbody>
            </table>
          </div>
          <div style="margin-top:14px;color:#9ca3af;font-size:12px;">Message envoyé automatiquement</div>
        </div>
      </div>
    </div>
  </body>
</html>
`))

// SendRunSummaryEmail delivers one digest mail for a batch of runs.
func SendRunSummaryEmail(ctx context.Context, cfg config.EmailConfig, events []RunCompletedEvent) error {
	if err := validateEmailConfig(cfg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return errors.New("no events")
	}

	subject, htmlBody, textBody := buildSummaryBodies(events)

	from := strings.TrimSpace(cfg.From)
	to := strings.TrimSpace(cfg.To)
	if to == "" {
		to = from
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(from, "TTUEX bot"))
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, from, strings.TrimSpace(cfg.AuthCode))
	d.SSL = cfg.SMTPPort == 465
	return d.DialAndSend(msg)
}

func buildSummaryBodies(events []RunCompletedEvent) (subject, htmlBody, textBody string) {
	type summaryRow struct {
		At      string
		Account string
		Order   string
		Outcome string
	}

	succeeded := 0
	rows := make([]summaryRow, 0, len(events))
	for _, evt := range events {
		at := time.Now()
		if evt.At > 0 {
			at = time.UnixMilli(evt.At)
		}
		outcome := "Réussi"
		if evt.DryRun {
			outcome = "Simulation"
		}
		if evt.Success {
			succeeded++
		} else {
			outcome = "Échec"
			if evt.Error != "" {
				outcome = "Échec : " + evt.Error
			}
		}
		order := strings.TrimSpace(evt.OrderNumber)
		if order == "" {
			order = "-"
		}
		rows = append(rows, summaryRow{
			At:      at.Format("2006-01-02 15:04:05"),
			Account: evt.AccountName,
			Order:   order,
			Outcome: outcome,
		})
	}

	subject = fmt.Sprintf("Copy trading : %d/%d réussi(s)", succeeded, len(events))

	data := struct {
		Total     int
		Succeeded int
		Failed    int
		Rows      []summaryRow
	}{
		Total:     len(events),
		Succeeded: succeeded,
		Failed:    len(events) - succeeded,
		Rows:      rows,
	}

	var buf bytes.Buffer
	if err := summaryHTMLTpl.Execute(&buf, data); err != nil {
		// Template and data are static, this cannot fail at runtime.
		htmlBody = ""
	} else {
		htmlBody = buf.String()
	}

	text := new(strings.Builder)
	text.WriteString("Récapitulatif copy trading\n")
	fmt.Fprintf(text, "%d exécution(s), %d réussie(s), %d échouée(s)\n", data.Total, data.Succeeded, data.Failed)
	for _, row := range rows {
		fmt.Fprintf(text, "- %s | %s | %s | %s\n", row.At, row.Account, row.Order, row.Outcome)
	}
	return subject, htmlBody, text.String()
}
