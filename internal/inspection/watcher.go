package inspection

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/data"
)

// latestQuerier is the slice of the inspection repository the watcher
// uses.
type latestQuerier interface {
	LatestPerProduct(ctx context.Context, productNos []string) ([]*data.Inspection, error)
}

const DefaultPollInterval = 500 * time.Millisecond

// Watcher polls for new inspection rows and pushes diffs to the hub.
// DB errors are swallowed and retried on the next tick.
type Watcher struct {
	model    latestQuerier
	hub      *Hub
	interval time.Duration

	quit chan struct{}
	wg   sync.WaitGroup

	// product_no -> latest inspection_id most recently broadcast
	snapshot map[string]int64
}

func NewWatcher(model latestQuerier, hub *Hub, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		model:    model,
		hub:      hub,
		interval: interval,
		quit:     make(chan struct{}),
		snapshot: make(map[string]int64),
	}
}

func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
	log.Printf("Inspection watcher: started (interval %v)", w.interval)
}

func (w *Watcher) Stop() {
	close(w.quit)
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	products := w.hub.Products()
	if len(products) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	rows, err := w.model.LatestPerProduct(ctx, products)
	if err != nil {
		log.Printf("[WARN] Inspection watcher: poll failed, retrying next tick: %v", err)
		return
	}

	fresh := make(map[string]int64, len(rows))
	for _, row := range rows {
		fresh[row.ProductNo] = row.InspectionID
		if w.snapshot[row.ProductNo] == row.InspectionID {
			continue
		}
		payload, err := json.Marshal(row)
		if err != nil {
			log.Printf("[ERROR] Inspection watcher: marshal inspection %d: %v", row.InspectionID, err)
			continue
		}
		sent := w.hub.Broadcast(row.ProductNo, payload)
		log.Printf("[DEBUG] Inspection watcher: inspection %d for %s pushed to %d clients", row.InspectionID, row.ProductNo, sent)
	}

	// Full replacement: products that lost their rows (or subscribers)
	// simply drop out of the snapshot.
	w.snapshot = fresh
}
