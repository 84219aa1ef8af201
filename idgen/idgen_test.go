package idgen

import (
	"sync"
	"testing"
)

func TestNextStrictlyIncreasing(t *testing.T) {
	g, err := New(1)
	if err != nil {
		t.Fatal(err)
	}

	var prev int64 = -1
	for i := 0; i < 10_000; i++ {
		id, err := g.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if id <= prev {
			t.Fatalf("Next() = %d, want > %d", id, prev)
		}
		prev = id
	}
}

func TestNextUniqueAcrossReplicas(t *testing.T) {
	g1, _ := New(1)
	g2, _ := New(2)

	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id1, _ := g1.Next()
		id2, _ := g2.Next()
		if seen[id1] {
			t.Fatalf("duplicate id %d from replica 1", id1)
		}
		if seen[id2] {
			t.Fatalf("duplicate id %d from replica 2", id2)
		}
		seen[id1] = true
		seen[id2] = true
	}
}

func TestNextConcurrentUnique(t *testing.T) {
	g, _ := New(5)
	const n = 2000
	ids := make([]int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := g.Next()
			if err != nil {
				t.Error(err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate concurrent id %d", id)
		}
		seen[id] = true
	}
}

func TestNewRejectsOutOfRangeReplicaID(t *testing.T) {
	if _, err := New(-1); err == nil {
		t.Error("expected error for negative replica id")
	}
	if _, err := New(maxReplicaID + 1); err == nil {
		t.Error("expected error for replica id over max")
	}
}
