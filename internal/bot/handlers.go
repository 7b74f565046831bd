package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"hetzner_bot/internal/matcher"
	"hetzner_bot/internal/model"
)

const helpText = `A handy bot which texts you as soon as a viable offer shows up on the server auction market.

Set the search parameters an offer has to satisfy to be sent to you.

Available commands:
/start Start receiving offers
/stop Stop receiving offers
/set Set an attribute, e.g. "/set hdd_count 3"
    Attributes are:
        - hdd_count      int (min number of hard drives)
        - hdd_size       int (min size per disk in GB)
        - raid           enum (raid5, raid6, None)
        - after_raid     int (min usable size after raid assembly in GB)
        - datacenter     enum (NBG, FSN, HEL, None)
        - ram            int (min RAM size in GB)
        - price          int (max price in Euro)
        - ecc            bool (0 or 1)
        - inic           bool (0 or 1)
        - hwr            bool (0 or 1)
        - ipv4           bool (0 or 1)
        - threads        int (min cpu threads)
        - release_date   int (min cpu release year)
        - multi_rating   int (min multi-thread benchmark rating)
        - single_rating  int (min single-thread benchmark rating)
/get Check the market now and show everything that matches
/info Show the current search attributes
/help Show this text`

func (b *Bot) handleStart(ctx context.Context, sub *model.Subscriber) {
	sub.Active = true
	if err := b.store.UpdateSubscriber(ctx, sub); err != nil {
		b.log.Error("activate subscriber", "chat_id", sub.ChatID, "error", err)
		b.reply(sub.ChatID, "An internal error occurred. Please try again later.")
		return
	}

	b.reply(sub.ChatID, helpText)
	b.reply(sub.ChatID, "You will now receive offers. Type /help for more info.")
	b.checkAndSend(ctx, sub, false)
}

func (b *Bot) handleStop(ctx context.Context, sub *model.Subscriber) {
	sub.Active = false
	if err := b.store.UpdateSubscriber(ctx, sub); err != nil {
		b.log.Error("deactivate subscriber", "chat_id", sub.ChatID, "error", err)
		b.reply(sub.ChatID, "An internal error occurred. Please try again later.")
		return
	}
	b.reply(sub.ChatID, "You won't receive any more offers.")
}

func (b *Bot) handleSet(ctx context.Context, sub *model.Subscriber, args string) {
	name, value, err := ParseSetCommand(args)
	if err != nil {
		b.reply(sub.ChatID, err.Error())
		return
	}

	if err := ApplySetting(sub, name, value); err != nil {
		b.reply(sub.ChatID, err.Error())
		return
	}

	if err := b.store.UpdateSubscriber(ctx, sub); err != nil {
		b.log.Error("update subscriber", "chat_id", sub.ChatID, "error", err)
		b.reply(sub.ChatID, "An internal error occurred. Please try again later.")
		return
	}

	if err := b.SendMarkdown(sub.ChatID, fmt.Sprintf("*%s* changed to %s", name, value)); err != nil {
		b.log.Error("send confirmation", "chat_id", sub.ChatID, "error", err)
	}
	b.checkAndSend(ctx, sub, false)
}

func (b *Bot) handleGet(ctx context.Context, sub *model.Subscriber) {
	b.checkAndSend(ctx, sub, true)
}

func (b *Bot) handleInfo(sub *model.Subscriber) {
	b.reply(sub.ChatID, FormatSubscriberInfo(sub))
}

func (b *Bot) handleAddCPU(ctx context.Context, chatID int64, args string) {
	cpu, err := ParseCPUArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	if err := b.store.UpsertCPU(ctx, cpu); err != nil {
		b.log.Error("upsert cpu", "name", cpu.Name, "error", err)
		b.reply(chatID, "An internal error occurred. Please try again later.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Benchmark data for %q saved.", cpu.Name))
}

func (b *Bot) handleAuthorize(ctx context.Context, chatID int64, args string) {
	target, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		b.reply(chatID, "Usage: /authorize <chat_id>")
		return
	}

	sub, err := b.store.GetOrCreateSubscriber(ctx, target)
	if err != nil {
		b.log.Error("load subscriber", "chat_id", target, "error", err)
		b.reply(chatID, "An internal error occurred. Please try again later.")
		return
	}

	sub.Authorized = true
	if err := b.store.UpdateSubscriber(ctx, sub); err != nil {
		b.log.Error("authorize subscriber", "chat_id", target, "error", err)
		b.reply(chatID, "An internal error occurred. Please try again later.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Subscriber %d is now authorized.", target))
}

// checkAndSend re-evaluates the subscriber's criteria against the active
// offer set, reconciles the match relations, and delivers the result.
// With includeNotified set, the full current match set is sent; otherwise
// only matches not yet delivered.
func (b *Bot) checkAndSend(ctx context.Context, sub *model.Subscriber, includeNotified bool) {
	offers, err := b.store.ListActiveOffers(ctx)
	if err != nil {
		b.log.Error("list active offers", "error", err)
		b.reply(sub.ChatID, "An internal error occurred. Please try again later.")
		return
	}
	cpus, err := b.store.ListCPUs(ctx)
	if err != nil {
		b.log.Error("list cpus", "error", err)
		b.reply(sub.ChatID, "An internal error occurred. Please try again later.")
		return
	}

	ids := matcher.MatchingOfferIDs(offers, *sub, cpus)
	if err := b.store.SyncSubscriberMatches(ctx, sub.ChatID, ids); err != nil {
		b.log.Error("sync matches", "chat_id", sub.ChatID, "error", err)
		b.reply(sub.ChatID, "An internal error occurred. Please try again later.")
		return
	}

	matches, err := b.store.ListSubscriberMatches(ctx, sub.ChatID)
	if err != nil {
		b.log.Error("list matches", "chat_id", sub.ChatID, "error", err)
		b.reply(sub.ChatID, "An internal error occurred. Please try again later.")
		return
	}

	chunks, includedIDs, overflow := FormatOffers(sub, matches, cpus, includeNotified)
	if len(chunks) == 0 {
		if includeNotified {
			b.reply(sub.ChatID, "There are currently no offers for your criteria.")
		}
		return
	}

	for _, chunk := range chunks {
		if err := b.SendMarkdown(sub.ChatID, chunk); err != nil {
			if errors.Is(err, ErrRecipientGone) {
				if err := b.store.DeleteSubscriber(ctx, sub.ChatID); err != nil {
					b.log.Error("delete subscriber", "chat_id", sub.ChatID, "error", err)
				}
				return
			}
			// Transient failure: flags stay uncommitted, the same content
			// is retried next cycle.
			b.log.Error("send offers", "chat_id", sub.ChatID, "error", err)
			return
		}
	}

	if err := b.store.MarkNotified(ctx, sub.ChatID, includedIDs); err != nil {
		b.log.Error("mark notified", "chat_id", sub.ChatID, "error", err)
	}

	if overflow {
		b.reply(sub.ChatID, "Too many results, please narrow down your search a little.")
	}
}
