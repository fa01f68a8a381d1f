package service

import (
	"context"
	"fmt"
	"log/slog"

	"arbor/internal/bus"
	"arbor/internal/domain/models"
	"arbor/internal/domain/repositories"
)

// titleRuneLimit caps conversation names derived from the first user
// message.
const titleRuneLimit = 30

// Reconciler mirrors settled session transcripts into the store. The
// session is the source of truth while streaming; the store only ever
// catches up after a settle, so a crash mid-stream loses at most the
// in-flight exchange.
type Reconciler struct {
	convs  repositories.ConversationRepository
	msgs   repositories.MessageRepository
	bus    *bus.Bus
	logger *slog.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(
	convs repositories.ConversationRepository,
	msgs repositories.MessageRepository,
	b *bus.Bus,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{convs: convs, msgs: msgs, bus: b, logger: logger}
}

// Reconcile persists the session's transcript entries that the store has
// not seen yet. It is a no-op unless the session is settled: a streaming
// transcript still has a partial tail and must not be written.
//
// On the first reconcile of a session a conversation is created and bound;
// later reconciles append. Entries are matched by sequence token, never by
// content, so identical consecutive messages persist as distinct rows.
// Storage failures leave the session intact; the unsynced entries are
// retried on the next settle.
func (r *Reconciler) Reconcile(ctx context.Context, session *Session) error {
	if session.State() != SessionSettled {
		return nil
	}

	pending := session.unsynced()
	if len(pending) == 0 {
		return nil
	}

	if session.ConversationID() == nil {
		if err := r.createAndBind(ctx, session, pending); err != nil {
			r.logger.Warn("conversation sync failed, will retry on next settle",
				"session_id", session.ID(),
				"error", err,
			)
			return err
		}
	} else {
		if err := r.appendPending(ctx, session, pending); err != nil {
			r.logger.Warn("conversation sync failed, will retry on next settle",
				"session_id", session.ID(),
				"error", err,
			)
			return err
		}
	}

	r.bus.Publish(bus.TopicReload)
	return nil
}

func (r *Reconciler) createAndBind(ctx context.Context, session *Session, pending []SessionMessage) error {
	conv := &models.Conversation{Name: titleFrom(pending)}
	if err := r.convs.Create(ctx, conv); err != nil {
		return err
	}

	session.Bind(conv.ID, 0)

	r.logger.Info("session bound to conversation",
		"session_id", session.ID(),
		"conversation_id", conv.ID,
	)

	return r.appendPending(ctx, session, pending)
}

func (r *Reconciler) appendPending(ctx context.Context, session *Session, pending []SessionMessage) error {
	convID := session.ConversationID()
	if convID == nil {
		return fmt.Errorf("session %s has no bound conversation", session.ID())
	}

	for _, m := range pending {
		if _, err := r.msgs.Add(ctx, *convID, m.Content, m.Sender); err != nil {
			return err
		}
		// Advance per message: a partial append must not be replayed.
		session.markSynced(m.Seq)
	}

	return nil
}

// titleFrom derives a conversation name from the first user entry,
// truncated at a rune boundary.
func titleFrom(pending []SessionMessage) string {
	title := "New conversation"
	for _, m := range pending {
		if m.Sender == models.SenderUser && m.Content != "" {
			title = m.Content
			break
		}
	}

	runes := []rune(title)
	if len(runes) > titleRuneLimit {
		return string(runes[:titleRuneLimit]) + "…"
	}
	return title
}
