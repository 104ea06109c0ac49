package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

const defaultOutboxPullLimit = 100

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	attempts  int
	lastError string
	sentAt    time.Time
}

// OutboxRepository — outbox в памяти процесса. Записи хранятся в порядке
// вставки, поэтому PullPending отдаёт их FIFO.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
	now     func() time.Time
}

// NewOutboxRepository создаёт пустой outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		byID: make(map[string]*outboxEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = r.now()
	msg.Payload = append([]byte(nil), msg.Payload...)

	entry := &outboxEntry{msg: msg, status: domain.OutboxStatusPending}
	r.entries = append(r.entries, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(domain.OutboxStatusPending, limit), nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.entries {
		switch entry.status {
		case domain.OutboxStatusPending:
			if stats.PendingCount == 0 {
				stats.OldestPendingAt = entry.msg.CreatedAt
			}
			stats.PendingCount++
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusSent, "")
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id, reason string) error {
	return r.settle(id, domain.OutboxStatusFailed, reason)
}

// PurgeSent удаляет отправленные до before записи, начиная с самых ранних.
func (r *OutboxRepository) PurgeSent(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	purged := 0
	for _, entry := range r.entries {
		expired := entry.status == domain.OutboxStatusSent && !entry.sentAt.After(before)
		if expired && (limit <= 0 || purged < limit) {
			delete(r.byID, entry.msg.ID)
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = nil
	}
	r.entries = kept
	return purged, nil
}

// AllPending возвращает все pending-записи; удобно в тестах.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(domain.OutboxStatusPending, 0)
}

// LastError возвращает причину, сохранённую MarkFailed.
func (r *OutboxRepository) LastError(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.byID[id]; ok {
		return entry.lastError
	}
	return ""
}

func (r *OutboxRepository) settle(id string, status domain.OutboxStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	entry.status = status
	entry.attempts++
	entry.lastError = reason
	if status == domain.OutboxStatusSent {
		entry.sentAt = r.now()
	}
	return nil
}

// collect возвращает копии записей со статусом status; limit 0 снимает ограничение.
func (r *OutboxRepository) collect(status domain.OutboxStatus, limit int) []domain.OutboxMessage {
	result := make([]domain.OutboxMessage, 0)
	for _, entry := range r.entries {
		if entry.status != status {
			continue
		}
		msg := entry.msg
		msg.Payload = append([]byte(nil), entry.msg.Payload...)
		result = append(result, msg)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
