package contextstore

import (
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain/entities"
)

func utterance(text string) entities.Utterance {
	return entities.NewUtterance(text, entities.OriginCustomer)
}

func TestAppendEvictsOldestFirst(t *testing.T) {
	const capacity = 5
	store := New(capacity, zap.NewNop())

	for i := 0; i < 2*capacity; i++ {
		store.Append("s1", utterance(fmt.Sprintf("u%d", i)))

		if got := store.Len("s1"); got > capacity {
			t.Fatalf("Context exceeded cap: %d > %d", got, capacity)
		}

		history := store.Read("s1")
		oldest := 0
		if i >= capacity {
			oldest = i - capacity + 1
		}
		if history[0].Text != fmt.Sprintf("u%d", oldest) {
			t.Errorf("After %d appends expected oldest u%d, got %s", i+1, oldest, history[0].Text)
		}
		if history[len(history)-1].Text != fmt.Sprintf("u%d", i) {
			t.Errorf("Expected newest u%d last, got %s", i, history[len(history)-1].Text)
		}
	}
}

func TestReadReturnsSnapshot(t *testing.T) {
	store := New(3, zap.NewNop())
	store.Append("s1", utterance("hello"))

	snapshot := store.Read("s1")
	snapshot[0].Text = "mutated"
	store.Append("s1", utterance("again"))

	if len(snapshot) != 1 {
		t.Errorf("Snapshot should not grow, got %d", len(snapshot))
	}
	if store.Read("s1")[0].Text != "hello" {
		t.Error("Mutating a snapshot must not affect the store")
	}
}

func TestRecent(t *testing.T) {
	store := New(10, zap.NewNop())
	for i := 0; i < 8; i++ {
		store.Append("s1", utterance(fmt.Sprintf("u%d", i)))
	}

	recent := store.Recent("s1", 5)
	if len(recent) != 5 {
		t.Fatalf("Expected 5 utterances, got %d", len(recent))
	}
	if recent[0].Text != "u3" || recent[4].Text != "u7" {
		t.Errorf("Expected u3..u7, got %s..%s", recent[0].Text, recent[4].Text)
	}

	if got := store.Recent("unknown", 5); len(got) != 0 {
		t.Errorf("Expected empty history for unknown session, got %d", len(got))
	}
}

func TestClearAndReset(t *testing.T) {
	store := New(0, zap.NewNop())
	if store.Capacity() != DefaultCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultCapacity, store.Capacity())
	}

	store.Append("s1", utterance("a"))
	store.Append("s2", utterance("b"))
	store.Append("s2", utterance("c"))

	sizes := store.Sizes()
	if sizes["s1"] != 1 || sizes["s2"] != 2 {
		t.Errorf("Unexpected sizes: %v", sizes)
	}

	store.Clear("s1")
	if store.Len("s1") != 0 || store.SessionCount() != 1 {
		t.Errorf("Expected only s2 left, got %d sessions", store.SessionCount())
	}

	store.Append("s1", utterance("fresh"))
	if store.Len("s1") != 1 {
		t.Error("Expected session to be usable after clear")
	}

	store.Reset()
	if store.SessionCount() != 0 {
		t.Errorf("Expected empty store after reset, got %d", store.SessionCount())
	}
}

func TestConcurrentAppendsRespectCap(t *testing.T) {
	const capacity = 20
	store := New(capacity, zap.NewNop())

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(s, w int) {
				defer wg.Done()
				sessionID := fmt.Sprintf("s%d", s)
				for i := 0; i < 50; i++ {
					store.Append(sessionID, utterance(fmt.Sprintf("w%d-%d", w, i)))
					if w == 0 && i == 25 {
						store.Clear(sessionID)
					}
					store.Read(sessionID)
				}
			}(s, w)
		}
	}
	wg.Wait()

	for id, size := range store.Sizes() {
		if size > capacity {
			t.Errorf("Session %s exceeded cap: %d", id, size)
		}
	}
}
