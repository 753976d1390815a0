package stream

import (
	"errors"

	"github.com/thereayou/banya/internal/sublog"
)

var ErrQueueFull = errors.New("stream queue is full")

// Queue — буферизованный транспорт: fan-out кладёт записи в канал, а
// обработчик подключения выкачивает их в своём темпе. Застрявший клиент
// не задерживает комнату — при переполнении запись отбрасывается.
type Queue struct {
	C chan sublog.Entry
}

// NewQueue создает транспорт с буфером на size записей
func NewQueue(size int) *Queue {
	return &Queue{C: make(chan sublog.Entry, size)}
}

// Send кладет запись в буфер, ErrQueueFull при переполнении
func (q *Queue) Send(entry sublog.Entry) error {
	select {
	case q.C <- entry:
		return nil
	default:
		return ErrQueueFull
	}
}
