// Package telegram runs the long-polling bot: /copy launches a batch
// and the final per-account summary comes back as a chat message.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/orchestrator"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/runner"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/translate"
)

type Bot struct {
	cfg    config.TelegramConfig
	log    *logbus.Logger
	runner *runner.Runner
	client *resty.Client

	// One trade batch at a time, same as the webhook server.
	running atomic.Bool
}

func New(cfg config.TelegramConfig, log *logbus.Logger, r *runner.Runner) (*Bot, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram.botToken is required")
	}
	client := resty.New().
		SetBaseURL("https://api.telegram.org/bot" + strings.TrimSpace(cfg.BotToken)).
		SetTimeout(cfg.PollTimeout() + 15*time.Second)
	return &Bot{cfg: cfg, log: log, runner: r, client: client}, nil
}

type apiResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description"`
	Result      []update `json:"result"`
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	Chat chat   `json:"chat"`
	From *user  `json:"from"`
	Text string `json:"text"`
}

type chat struct {
	ID int64 `json:"id"`
}

type user struct {
	FirstName string `json:"first_name"`
}

// Run polls for updates until the context is cancelled. The lock file
// guarantees a single polling instance per machine.
func (b *Bot) Run(ctx context.Context) error {
	release, err := AcquireLock(b.cfg.LockFile)
	if err != nil {
		return err
	}
	defer release()

	b.log.Info("telegram bot started", logbus.Fields{"lockFile": b.cfg.LockFile})
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			b.log.Info("telegram bot stopped", nil)
			return nil
		}
		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				b.log.Info("telegram bot stopped", nil)
				return nil
			}
			b.log.Warn("getUpdates failed, backing off", logbus.Fields{"error": err.Error()})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			b.handleMessage(ctx, u.Message)
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	var out apiResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset":  fmt.Sprintf("%d", offset),
			"timeout": fmt.Sprintf("%d", int(b.cfg.PollTimeout().Seconds())),
		}).
		SetResult(&out).
		Get("/getUpdates")
	if err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("getUpdates: %s (status %d)", out.Description, resp.StatusCode())
	}
	return out.Result, nil
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	_, err := b.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    fmt.Sprintf("%d", chatID),
			"text":       text,
			"parse_mode": "Markdown",
		}).
		Post("/sendMessage")
	if err != nil {
		b.log.Warn("sendMessage failed", logbus.Fields{"chatId": chatID, "error": err.Error()})
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *message) {
	cmd, arg := parseCommand(msg.Text)
	switch cmd {
	case "/start", "/help":
		name := "trader"
		if msg.From != nil && msg.From.FirstName != "" {
			name = msg.From.FirstName
		}
		b.sendMessage(ctx, msg.Chat.ID, welcomeMessage(name))
	case "/copy":
		if arg == "" {
			b.sendMessage(ctx, msg.Chat.ID, "❌ Commande invalide. Utilisation : /copy <numéro_ordre>")
			return
		}
		b.log.Info("received /copy command", logbus.Fields{"orderNumber": arg, "chatId": msg.Chat.ID})
		if !b.running.CompareAndSwap(false, true) {
			b.sendMessage(ctx, msg.Chat.ID, "⏳ Une exécution est déjà en cours. Réessayez dans quelques minutes.")
			return
		}
		b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf("✅ Commande reçue ! L'ordre %s va être traité.", arg))
		go b.runTrade(msg.Chat.ID, arg)
	}
}

func (b *Bot) runTrade(chatID int64, orderNumber string) {
	defer b.running.Store(false)
	ctx := context.Background()

	results, err := b.runner.CopyTrade(ctx, orderNumber, runner.Options{SkipHistoryVerification: true, Trigger: "telegram"})
	if err != nil {
		b.log.Error("copy trade batch failed", logbus.Fields{"orderNumber": orderNumber, "error": err.Error()})
		b.sendMessage(ctx, chatID, fmt.Sprintf("🆘 **Une erreur critique est survenue lors de l'exécution de l'ordre `%s`.**\n\nLe processus a dû être interrompu. Veuillez contacter le support technique.", orderNumber))
		return
	}
	if len(results) == 0 {
		b.sendMessage(ctx, chatID, "⚠️ **Aucun compte n'a été trouvé.**\n\nIl semble que la liste des comptes à traiter est vide. Veuillez vérifier la configuration ou contacter le support.")
		return
	}
	b.sendMessage(ctx, chatID, buildRunSummary(orderNumber, results))
}

// buildRunSummary renders the per-account outcome list sent back to the
// chat once a batch finishes.
func buildRunSummary(orderNumber string, results []orchestrator.Result) string {
	succeeded, failed := 0, 0
	lines := make([]string, 0, len(results))
	for _, res := range results {
		name := res.Account.AccountName
		if name == "" {
			name = "Compte inconnu"
		}
		switch {
		case res.Err != nil:
			failed++
			lines = append(lines, fmt.Sprintf("🚨 **%s:** Une erreur système critique est survenue lors du traitement de ce compte.", name))
		case res.Report != nil && res.Report.Success:
			succeeded++
			if toast := res.Report.LastToast(); toast != "" {
				lines = append(lines, fmt.Sprintf("✅ **%s:** Ordre copié. Le site a retourné le message : '_%s_'", name, toast))
			} else {
				lines = append(lines, fmt.Sprintf("✅ **%s:** Ordre copié avec succès.", name))
			}
		default:
			failed++
			reason := "Erreur inconnue"
			if res.Report != nil {
				if msg := res.Report.FailureReason(); msg != "" {
					reason = translate.Error(msg)
				}
			}
			lines = append(lines, fmt.Sprintf("❌ **%s:** Échec de la copie.\n   - _Raison : %s_", name, reason))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 **Rapport final pour l'ordre `%s`**\n\n", orderNumber)
	fmt.Fprintf(&sb, "**Résultat :** %d copié(s) avec succès, %d en échec.\n\n---\n", succeeded, failed)
	sb.WriteString(strings.Join(lines, "\n"))
	return sb.String()
}

func welcomeMessage(firstName string) string {
	return fmt.Sprintf(`**✨ Bienvenue, %s ! ✨**

Je suis votre **assistant de trading TTUEX personnel**, prêt à transformer votre expérience de copy trading.

### **🛠️ Commandes disponibles :**
- `+"`/copy <numéro_ordre>`"+` : Pour lancer la magie du copy trading.
- `+"`/help`"+` : Pour afficher ce message.

**Prêt à commencer ?**
Utilisez la commande /copy suivie de votre numéro d'ordre. Par exemple : `+"`/copy 12345`"+`
`, firstName)
}

// parseCommand splits "/copy 12345" into its command and argument,
// tolerating the "/copy@BotName" form groups use.
func parseCommand(text string) (cmd, arg string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", ""
	}
	cmd = strings.ToLower(fields[0])
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	if len(fields) > 1 {
		arg = fields[1]
	}
	return cmd, arg
}
