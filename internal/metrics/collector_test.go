package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpRetrieval, 10*time.Millisecond)
	c.RecordTiming(OpRetrieval, 30*time.Millisecond)

	snap := c.Snapshot()
	if snap.Retrieval == nil {
		t.Fatal("expected retrieval metrics")
	}
	if snap.Retrieval.Count != 2 {
		t.Errorf("Count = %d, want 2", snap.Retrieval.Count)
	}
	if snap.Retrieval.MinTimeMs != 10 || snap.Retrieval.MaxTimeMs != 30 {
		t.Errorf("Min/Max = %d/%d, want 10/30", snap.Retrieval.MinTimeMs, snap.Retrieval.MaxTimeMs)
	}
	if snap.Retrieval.AvgTimeMs != 20 {
		t.Errorf("AvgTimeMs = %f, want 20", snap.Retrieval.AvgTimeMs)
	}
}

func TestSnapshot_EmptyOpsAreNil(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()
	if snap.Embedding != nil || snap.LLMGenerate != nil || snap.IndexQuery != nil {
		t.Errorf("empty collector should have nil operation snapshots: %+v", snap)
	}
}

func TestRecordTiming_Concurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpEmbedding, time.Millisecond)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.Embedding == nil || snap.Embedding.Count != 50 {
		t.Fatalf("Embedding = %+v, want count 50", snap.Embedding)
	}
}
