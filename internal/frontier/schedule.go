package frontier

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Schedule canonicalizes c and offers it to the already-seen filter. Only a
// first sighting (or a forced refetch) reaches a work queue.
func (f *Frontier) Schedule(_ context.Context, c Candidate) error {
	canonical, err := f.canon.Canonicalize(c.URI)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", c.URI, err)
	}
	fp := f.fingerprint.Fingerprint(canonical)
	item := newItem(c, canonical, fp, f.clock.Now())
	if c.Force {
		f.seen.AddForce(fp, item)
		return nil
	}
	f.seen.AddIfAbsent(fp, item)
	return nil
}

// ConsiderIncluded marks uri as seen without scheduling it.
func (f *Frontier) ConsiderIncluded(uri string) error {
	canonical, err := f.canon.Canonicalize(uri)
	if err != nil {
		return fmt.Errorf("consider included %q: %w", uri, err)
	}
	f.seen.Note(f.fingerprint.Fingerprint(canonical))
	return nil
}

// Forget removes uri from the already-seen filter so it can be rediscovered.
// It reports whether the filter knew the URI.
func (f *Frontier) Forget(uri string) (bool, error) {
	canonical, err := f.canon.Canonicalize(uri)
	if err != nil {
		return false, fmt.Errorf("forget %q: %w", uri, err)
	}
	return f.seen.Forget(f.fingerprint.Fingerprint(canonical)), nil
}

// receive is the already-seen filter's callback for accepted items.
func (f *Frontier) receive(item *CrawlItem) {
	key, err := f.classifier.Key(item)
	if err != nil {
		f.logger.Warn("classify item", zap.String("uri", item.URI), zap.Error(err))
		return
	}
	item.Key = key
	f.discovered.Add(1)
	f.queued.Add(1)
	if err := f.sendToQueue(f.ctx, item); err != nil {
		f.discovered.Add(-1)
		f.queued.Add(-1)
		f.logger.Error("enqueue item", zap.String("uri", item.URI), zap.String("key", key), zap.Error(err))
		return
	}
	f.emit(itemEvent(EventDiscovered, item))
}

// sendToQueue appends an already counted item to its key's queue, creating
// the queue on first use, and files the queue if this item made it non-empty.
// Items sent to a retired queue are parked there and move from the queued
// tally to retired-pending.
func (f *Frontier) sendToQueue(ctx context.Context, item *CrawlItem) error {
	wq, _ := f.table.getOrCreate(item.Key, f.newQueue)
	wq.mu.Lock()
	defer wq.mu.Unlock()

	if err := wq.enqueue(ctx, item); err != nil {
		wq.errorCount++
		return err
	}
	if wq.retired {
		f.queued.Add(-1)
		f.discovered.Add(-1)
		f.retiredPending.Add(1)
		return nil
	}
	if wq.held {
		return nil
	}
	wq.held = true
	switch {
	case f.cfg.HoldQueues:
		wq.sessionBalance = 0
		f.fileInactive(wq)
	default:
		f.reFile(wq)
	}
	return nil
}
