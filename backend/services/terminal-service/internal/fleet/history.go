package fleet

import (
	"container/list"
	"sync"
	"time"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

type historyKey struct {
	tenantID      string
	transactionID string
}

type historyItem struct {
	key    historyKey
	resp   terminal.TransactionResponse
	stored time.Time
}

// History keeps recently settled transactions so repeated polls for a final status do
// not reach the terminal. It holds at most size entries, each for at most ttl.
type History struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	now   func() time.Time
	order *list.List
	items map[historyKey]*list.Element
}

// NewHistory builds a history cache.
func NewHistory(size int, ttl time.Duration) *History {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &History{
		size:  size,
		ttl:   ttl,
		now:   time.Now,
		order: list.New(),
		items: make(map[historyKey]*list.Element),
	}
}

// Put records a settled response. Non-final responses are ignored.
func (h *History) Put(tenantID string, resp terminal.TransactionResponse) {
	if !resp.Final() || resp.TransactionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.expire(now)
	key := historyKey{tenantID, resp.TransactionID}
	if el, ok := h.items[key]; ok {
		el.Value = &historyItem{key: key, resp: resp, stored: now}
		h.order.MoveToFront(el)
		return
	}
	h.items[key] = h.order.PushFront(&historyItem{key: key, resp: resp, stored: now})
	for h.order.Len() > h.size {
		h.remove(h.order.Back())
	}
}

// Get returns the settled response for a transaction, if still held.
func (h *History) Get(tenantID, transactionID string) (terminal.TransactionResponse, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	el, ok := h.items[historyKey{tenantID, transactionID}]
	if !ok {
		return terminal.TransactionResponse{}, false
	}
	item := el.Value.(*historyItem)
	if h.now().Sub(item.stored) > h.ttl {
		h.remove(el)
		return terminal.TransactionResponse{}, false
	}
	return item.resp, true
}

// Forget drops every entry of a tenant.
func (h *History) Forget(tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, el := range h.items {
		if key.tenantID == tenantID {
			h.remove(el)
		}
	}
}

// Len reports the number of held entries, expired ones included until evicted.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.order.Len()
}

// expire drops entries older than ttl. The back of the list is the oldest write.
func (h *History) expire(now time.Time) {
	for el := h.order.Back(); el != nil; el = h.order.Back() {
		if now.Sub(el.Value.(*historyItem).stored) <= h.ttl {
			return
		}
		h.remove(el)
	}
}

func (h *History) remove(el *list.Element) {
	item := h.order.Remove(el).(*historyItem)
	delete(h.items, item.key)
}
