package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/neurovote/internal/service"
)

// TelegramChannel lets an operator watch and steer the agent from Telegram:
// it pushes schedule/cast events and accepts commands to inspect, cancel or
// redo pending actions inside the vote delay window.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	svc        *service.Service
	logger     *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegramChannel(token string, allowedIDs []int64, svc *service.Service, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		svc:        svc,
		logger:     logger,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

// Notify broadcasts an event message to every allowed operator.
func (t *TelegramChannel) Notify(_ context.Context, message string) {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return
	}
	for chatID := range t.allowedIDs {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, message)); err != nil {
			t.logger.Warn("telegram notify failed", "chat_id", chatID, "error", err)
		}
	}
}

// Start connects the bot and polls for commands until ctx is canceled,
// reconnecting with exponential backoff on transport failures.
func (t *TelegramChannel) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()
	t.logger.Info("telegram bot started", "user", bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// pollUpdates reads updates until ctx is done, the channel closes, or the
// long-poll stalls. The library blocks rather than closing the channel on a
// dead connection, so a stall timer forces reconnection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
				t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleMessage(ctx, update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	fields := strings.Fields(strings.TrimSpace(msg.Text))
	if len(fields) == 0 {
		return
	}

	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	switch cmd {
	case "/start", "/help":
		t.reply(msg.Chat.ID, helpText)
	case "/status":
		t.reply(msg.Chat.ID, t.svc.Describe(ctx))
	case "/pending":
		t.reply(msg.Chat.ID, t.pendingText(ctx))
	case "/cancel":
		t.reply(msg.Chat.ID, t.cancelVote(ctx, args))
	case "/vote":
		t.reply(msg.Chat.ID, t.manualVote(ctx, args))
	case "/analyze":
		t.reply(msg.Chat.ID, t.triggerAnalysis(ctx, args))
	case "/reset":
		t.reply(msg.Chat.ID, t.resetAnalysis(ctx, args))
	default:
		t.reply(msg.Chat.ID, "Unknown command. "+helpText)
	}
}

const helpText = `Commands:
/status - agent status
/pending - scheduled votes awaiting execution
/cancel <proposal> - cancel a scheduled vote
/vote <proposal> adopt|reject - schedule a manual vote
/analyze <proposal> - run analysis now
/reset <proposal>|all - wipe analysis and re-run later`

func (t *TelegramChannel) pendingText(ctx context.Context) string {
	votes, err := t.svc.ListScheduledVotes(ctx, 50)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	var lines []string
	now := time.Now().Unix()
	for _, v := range votes {
		if v.Executed {
			continue
		}
		lines = append(lines, fmt.Sprintf("proposal %d: %s in %s", v.ProposalID, v.Direction, time.Duration(v.ScheduledTime-now)*time.Second))
	}
	if len(lines) == 0 {
		return "No votes pending."
	}
	return strings.Join(lines, "\n")
}

func (t *TelegramChannel) cancelVote(ctx context.Context, args []string) string {
	id, err := parseProposalID(args)
	if err != nil {
		return err.Error()
	}
	canceled, err := t.svc.CancelVote(ctx, id)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if !canceled {
		return fmt.Sprintf("Nothing scheduled for proposal %d.", id)
	}
	return fmt.Sprintf("Canceled the vote on proposal %d.", id)
}

func (t *TelegramChannel) manualVote(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "Usage: /vote <proposal> adopt|reject"
	}
	id, err := parseProposalID(args[:1])
	if err != nil {
		return err.Error()
	}
	vote, err := t.svc.ScheduleVote(ctx, id, args[1], nil)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Scheduled %s on proposal %d for %s.", vote.Direction, id, time.Unix(vote.ScheduledTime, 0).UTC().Format(time.RFC3339))
}

func (t *TelegramChannel) triggerAnalysis(ctx context.Context, args []string) string {
	id, err := parseProposalID(args)
	if err != nil {
		return err.Error()
	}
	t.svc.TriggerAnalysis(ctx, id)
	return fmt.Sprintf("Analysis started for proposal %d. Check back with /pending.", id)
}

func (t *TelegramChannel) resetAnalysis(ctx context.Context, args []string) string {
	if len(args) == 1 && strings.EqualFold(args[0], "all") {
		if err := t.svc.ResetAllAnalysis(ctx); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return "All analysis data reset. Proposals will be re-analyzed on the next sweep."
	}
	id, err := parseProposalID(args)
	if err != nil {
		return err.Error()
	}
	if err := t.svc.ResetAnalysis(ctx, id); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Analysis for proposal %d reset.", id)
}

func parseProposalID(args []string) (uint64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("a proposal ID is required")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a proposal ID", args[0])
	}
	return id, nil
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.logger.Error("telegram reply failed", "chat_id", chatID, "error", err)
	}
}
