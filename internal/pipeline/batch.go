package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/streaming"
)

// IngestBatch ingests docs with at most Config.Concurrency documents in
// flight. Outcomes are returned in input order.
//
// An empty batchID gets a generated one; subscribe to the hub with a known ID
// before calling to receive every event. When ctx ends, no further documents
// are started and the remaining ones are reported as cancelled.
func (p *Pipeline) IngestBatch(ctx context.Context, batchID string, docs []*parser.Document) *BatchResult {
	if batchID == "" {
		batchID = uuid.NewString()
	}
	start := time.Now()
	result := &BatchResult{
		BatchID:  batchID,
		Outcomes: make([]Outcome, len(docs)),
	}
	log := p.log.With().Str("batch_id", batchID).Logger()
	log.Info().Int("documents", len(docs)).Int("concurrency", p.config.Concurrency).Msg("batch started")

	sem := semaphore.NewWeighted(int64(p.config.Concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0

	report := func(i int, out Outcome) {
		mu.Lock()
		result.Outcomes[i] = out
		processed++
		done := processed
		mu.Unlock()
		p.broadcast(batchID, documentEvent(batchID, out))
		p.broadcast(batchID, streaming.NewProgressEvent(streaming.ProgressEvent{
			BatchID:   batchID,
			Processed: done,
			Total:     len(docs),
		}))
	}

	scheduled := 0
	for i, doc := range docs {
		// Acquire may succeed on a done context, so check it as well.
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}
		scheduled++
		wg.Add(1)
		i, doc := i, doc
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			out := p.Ingest(ctx, doc)
			out.Index = i
			report(i, out)
		}()
	}
	wg.Wait()

	for i := scheduled; i < len(docs); i++ {
		out := cancelled(Outcome{Index: i, Document: docs[i].String()}, StageDispatch, ctx.Err())
		report(i, out)
	}

	result.Duration = time.Since(start)
	result.Cancelled = ctx.Err() != nil
	if result.Cancelled {
		log.Warn().Int("scheduled", scheduled).Int("documents", len(docs)).Msg("batch cancelled")
		p.broadcast(batchID, streaming.NewErrorEvent(streaming.ErrorEvent{
			BatchID: batchID,
			Message: "batch cancelled: " + ctx.Err().Error(),
		}))
	} else {
		p.broadcast(batchID, streaming.NewCompleteEvent(streaming.CompleteEvent{
			BatchID:  batchID,
			Counts:   result.Counts(),
			Duration: result.Duration,
		}))
	}

	log.Info().
		Int("committed", result.Count(StatusCommitted)).
		Int("unreconciled", result.Count(StatusUnreconciled)).
		Int("skipped", result.Count(StatusSkippedDuplicate)).
		Int("rejected", result.Count(StatusRejected)).
		Int("cancelled", result.Count(StatusCancelled)).
		Dur("duration", result.Duration).
		Msg("batch finished")
	return result
}

func (p *Pipeline) broadcast(batchID string, event streaming.Event) {
	if p.hub != nil {
		p.hub.Broadcast(batchID, event)
	}
}

func documentEvent(batchID string, out Outcome) streaming.Event {
	ev := streaming.DocumentEvent{
		BatchID:     batchID,
		Index:       out.Index,
		Document:    out.Document,
		Plugin:      out.Plugin,
		Status:      string(out.Status),
		Stage:       string(out.Stage),
		StatementID: out.StatementID,
		Duplicates:  out.Duplicates,
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	return streaming.NewDocumentEvent(ev)
}
