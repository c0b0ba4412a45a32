// Package importer persists extracted conversations, enqueueing embedding
// jobs as it goes and skipping exact-duplicate re-imports.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/mbrichman/scry/internal/embedworker"
	"github.com/mbrichman/scry/internal/extract"
	"github.com/mbrichman/scry/internal/scryerr"
	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/store"
)

// Result reports the aggregate outcome of an import run.
type Result struct {
	Imported         int
	SkippedDuplicate int
	SkippedChanged   int
	ConversationIDs  []string
}

// Summary renders the bulk-progress line spec.md's Design Note calls for.
func (r Result) Summary() string {
	if r.Imported == 0 && (r.SkippedDuplicate > 0 || r.SkippedChanged > 0) {
		return "all conversations already indexed"
	}
	return ""
}

// Importer persists extract.ExtractedConversation batches, one transaction
// per conversation so a single bad conversation never poisons the batch.
type Importer struct {
	rawDB          *dbutil.Database
	reads          *store.UnitOfWork
	embeddingModel string
	guard          *DuplicateGuard
	log            zerolog.Logger
}

// New builds an Importer against db, the handle store.Open returned.
func New(db *dbutil.Database, embeddingModel string, log zerolog.Logger) *Importer {
	return &Importer{
		rawDB:          db,
		reads:          store.NewUnitOfWork(db),
		embeddingModel: embeddingModel,
		guard:          NewDuplicateGuard(),
		log:            log,
	}
}

// LoadGuard populates the duplicate guard from every conversation currently
// in the archive. Call once before ImportAll for a batch import run.
func (im *Importer) LoadGuard(ctx context.Context) error {
	// LIMIT -1 is SQLite's "no limit" sentinel.
	conversations, err := im.reads.Conversations.GetAll(ctx, -1)
	if err != nil {
		return scryerr.Wrap(scryerr.TransientBackendf("load conversations for duplicate guard"), err)
	}
	for _, c := range conversations {
		_, messages, ok, err := im.reads.Conversations.GetWithMessages(ctx, c.ID)
		if err != nil || !ok {
			continue
		}
		originID := originIDFromMessages(messages)
		if originID == "" {
			continue
		}
		im.guard.Record(c.Source, originID, contentHash(messages), c.ID)
	}
	return nil
}

// ImportAll imports every conversation in batch, skipping duplicates per
// DuplicateGuard, and returns an aggregate Result.
func (im *Importer) ImportAll(ctx context.Context, batch []extract.ExtractedConversation, source scrytype.Source) (Result, error) {
	var result Result
	for _, conv := range batch {
		status, id, err := im.importOne(ctx, conv, source)
		if err != nil {
			im.log.Warn().Err(err).Str("origin_id", conv.OriginID).Msg("import conversation failed")
			continue
		}
		switch status {
		case statusImported:
			result.Imported++
			result.ConversationIDs = append(result.ConversationIDs, id)
		case statusDuplicate:
			result.SkippedDuplicate++
		case statusChanged:
			result.SkippedChanged++
		}
	}
	return result, nil
}

type importStatus int

const (
	statusImported importStatus = iota
	statusDuplicate
	statusChanged
)

func (im *Importer) importOne(ctx context.Context, conv extract.ExtractedConversation, source scrytype.Source) (importStatus, string, error) {
	nonEmpty := filterNonEmpty(conv.Messages)
	if len(nonEmpty) == 0 {
		return statusDuplicate, "", nil
	}

	candidateHash := contentHashFromExtracted(nonEmpty)
	if existing, ok := im.guard.Lookup(source, conv.OriginID); ok {
		if existing.ContentHash == candidateHash {
			return statusDuplicate, existing.ConversationID, nil
		}
		im.log.Info().Str("origin_id", conv.OriginID).Msg("conversation content changed, not yet supported")
		return statusChanged, existing.ConversationID, nil
	}

	conversationID := uuid.NewString()
	createdAt, updatedAt := deriveConversationTimestamps(conv, nonEmpty)

	err := store.WithTransaction(ctx, im.rawDB, func(txCtx context.Context, uow *store.UnitOfWork) error {
		if err := uow.Conversations.Create(txCtx, scrytype.Conversation{
			ID:        conversationID,
			Title:     conv.Title,
			Source:    source,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		}, conv.OriginID); err != nil {
			return err
		}

		for seq, em := range nonEmpty {
			messageID := uuid.NewString()
			metadata := scrytype.MessageMetadata{
				Source:               source,
				OriginConversationID: conv.OriginID,
				Attachments:          em.Attachments,
				Extra:                em.Extra,
			}
			createdAt := em.CreatedAt
			if !em.HasTime {
				createdAt = updatedAt
			}
			if err := uow.Messages.Create(txCtx, scrytype.Message{
				ID:             messageID,
				ConversationID: conversationID,
				Role:           em.Role,
				Content:        em.Content,
				CreatedAt:      createdAt,
				InsertionSeq:   seq,
				Metadata:       metadata,
			}); err != nil {
				return err
			}

			if err := embedworker.Enqueue(txCtx, uow.Jobs, uuid.NewString(), scrytype.EmbeddingJobPayload{
				MessageID:      messageID,
				ConversationID: conversationID,
				Content:        em.Content,
				Model:          im.embeddingModel,
			}, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, "", scryerr.Wrap(scryerr.TransientBackendf("import conversation %s", conv.OriginID), err)
	}

	im.guard.Record(source, conv.OriginID, candidateHash, conversationID)
	return statusImported, conversationID, nil
}

func filterNonEmpty(messages []extract.ExtractedMessage) []extract.ExtractedMessage {
	out := make([]extract.ExtractedMessage, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

func deriveConversationTimestamps(conv extract.ExtractedConversation, messages []extract.ExtractedMessage) (time.Time, time.Time) {
	var earliest, latest time.Time
	for _, m := range messages {
		if !m.HasTime {
			continue
		}
		if earliest.IsZero() || m.CreatedAt.Before(earliest) {
			earliest = m.CreatedAt
		}
		if latest.IsZero() || m.CreatedAt.After(latest) {
			latest = m.CreatedAt
		}
	}
	if earliest.IsZero() {
		earliest = conv.CreatedAt
	}
	if latest.IsZero() {
		latest = conv.UpdatedAt
	}
	if earliest.IsZero() {
		earliest = time.Now().UTC()
	}
	if latest.IsZero() {
		latest = earliest
	}
	return earliest, latest
}

func contentHashFromExtracted(messages []extract.ExtractedMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, strings.TrimSpace(m.Content))
	}
	return hashLines(lines)
}

func contentHash(messages []scrytype.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, strings.TrimSpace(m.Content))
	}
	return hashLines(lines)
}

func hashLines(lines []string) string {
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func originIDFromMessages(messages []scrytype.Message) string {
	for _, m := range messages {
		if m.Metadata.OriginConversationID != "" {
			return m.Metadata.OriginConversationID
		}
	}
	return ""
}
