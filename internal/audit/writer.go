package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

// Writer — асинхронный сборщик журнала изменений.
// Пайплайн не ждет диска: записи уходят в буферный канал, воркер
// копит пачку и пишет ее в хранилище по лимиту (100 записей) или
// по таймеру. При остановке буфер вычитывается до конца (Drain
// Pattern): запись журнала обязана пережить рестарт сервиса.
type Writer struct {
	ch      chan domain.ChangeLogEntry
	flushCh chan chan struct{}
	store   Store
	logger  *zap.Logger
	wg      sync.WaitGroup

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Append
	// после начала остановки
	isClosed int32
}

func NewWriter(store Store, logger *zap.Logger) *Writer {
	return &Writer{
		ch:      make(chan domain.ChangeLogEntry, 1000),
		flushCh: make(chan chan struct{}),
		store:   store,
		logger:  logger.With(zap.String("mod", "audit")),
	}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.worker()
}

// Stop запирает вход в канал и ждет, пока воркер все допишет
func (w *Writer) Stop() {
	atomic.StoreInt32(&w.isClosed, 1)

	// Пауза, чтобы текущие Append успели проскочить
	time.Sleep(10 * time.Millisecond)

	w.logger.Info("stopping audit writer: closing channel and flushing buffer...")
	close(w.ch)
	w.wg.Wait()
	w.logger.Info("audit writer stopped gracefully")
}

// Append ставит запись в очередь на персистентность.
// Не блокирует: при переполнении буфера запись уходит хотя бы
// в структурный лог (Load Shedding), терять ее молча нельзя.
func (w *Writer) Append(entry domain.ChangeLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&w.isClosed) == 1 {
		w.logger.Warn("change log entry dropped: writer is stopping",
			zap.String("change_id", entry.ChangeID))
		return
	}

	select {
	case w.ch <- entry:
	default:
		w.logger.Error("audit_buffer_overflow",
			zap.String("change_id", entry.ChangeID),
			zap.String("operator", entry.Operator),
			zap.String("status", string(entry.Status)),
		)
	}
}

// Flush синхронно доводит уже принятые записи до хранилища.
// Нужен читателям свежей записи: откат по только что завершенному
// изменению не должен ждать таймера пачки.
func (w *Writer) Flush() {
	if atomic.LoadInt32(&w.isClosed) == 1 {
		return
	}
	done := make(chan struct{})
	select {
	case w.flushCh <- done:
		<-done
	case <-time.After(2 * time.Second):
		// Воркер уже остановлен или завис на хранилище: записи
		// дойдут обычным путем
		w.logger.Warn("audit flush request timed out")
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()

	batch := make([]domain.ChangeLogEntry, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на остановке уже закрыт
			if err := w.store.WriteBatch(context.Background(), batch); err != nil {
				w.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case entry, ok := <-w.ch:
			if !ok {
				// Канал закрыт в Stop(): воркер сначала вычитал остатки,
				// теперь финальный сброс и выход
				flush()
				w.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case done := <-w.flushCh:
			// Сначала забираем все, что уже стоит в очереди
			for drained := false; !drained; {
				select {
				case entry, ok := <-w.ch:
					if !ok {
						drained = true
						break
					}
					batch = append(batch, entry)
				default:
					drained = true
				}
			}
			flush()
			close(done)
		}
	}
}
