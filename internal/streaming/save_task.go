package streaming

import (
	"context"

	"github.com/annel0/chunkstream/internal/world"
)

// saveSlot отмечает чанк, для которого задача сохранения уже запущена.
// next: снимок из более позднего Release, который задача запишет следующим.
type saveSlot struct {
	next *world.Snapshot
}

// saveTask записывает снимки выгруженного чанка по одному.
// Успех снимает NEEDS_SAVE (если чанк не менялся после снимка); чистый чанк,
// которого не успели вернуть через Get, уходит в reclaim. Ошибка оставляет
// чанк в pending с NEEDS_SAVE для повторной попытки.
type saveTask struct {
	manager  *Manager
	chunk    *world.Chunk
	snapshot *world.Snapshot
}

func (t *saveTask) Run(ctx context.Context) bool {
	m := t.manager
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.saveCtx, cancel)
	defer stop()

	err := m.writeSnapshot(ctx, t.snapshot)

	m.mu.Lock()
	defer m.mu.Unlock()

	id := t.chunk.ID()
	if err != nil {
		m.logger.Error("Фоновое сохранение не удалось, чанк оставлен в памяти: %v", err)
	} else {
		t.chunk.CompleteSave(t.snapshot.Revision)
	}

	// Более новый снимок пишется той же задачей, чтобы записи не обгоняли друг друга
	if slot := m.saving[id]; slot != nil && slot.next != nil {
		t.snapshot = slot.next
		slot.next = nil
		return true
	}

	delete(m.saving, id)
	m.inFlight--
	if m.inFlight == 0 {
		m.idle.Broadcast()
	}

	if err == nil && m.pending[id] == t.chunk && !t.chunk.NeedsSave() {
		delete(m.pending, id)
		m.reclaim = append(m.reclaim, t.chunk)
	}
	return false
}
