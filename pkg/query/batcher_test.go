package query

import (
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Budget != 6500 {
		t.Errorf("Budget = %d, want 6500", cfg.Budget)
	}
	if cfg.Overhead != 147 {
		t.Errorf("Overhead = %d, want 147", cfg.Overhead)
	}
}

func TestRepoFragment(t *testing.T) {
	if got := RepoFragment("apache/commons-dbutils"); got != "+repo:apache/commons-dbutils" {
		t.Errorf("RepoFragment() = %q", got)
	}
}

func TestSplit_EmptyUnit(t *testing.T) {
	if got := Split(DefaultConfig(), nil); len(got) != 0 {
		t.Errorf("Split(nil) = %d batches, want 0", len(got))
	}
}

func TestSplit_TinyBudgetOnePerBatch(t *testing.T) {
	// A, B (fork), C: the fork is filtered before batching.
	items := []struct {
		name string
		fork bool
	}{{"A", false}, {"B", true}, {"C", false}}

	var frags []string
	for _, it := range items {
		if it.fork {
			continue
		}
		frags = append(frags, RepoFragment(it.name))
	}

	got := Split(Config{Budget: 1, Overhead: 0}, frags)
	if len(got) != 2 {
		t.Fatalf("got %d batches, want 2", len(got))
	}
	if got[0].Payload != "+repo:A" || got[1].Payload != "+repo:C" {
		t.Errorf("payloads = %q, %q", got[0].Payload, got[1].Payload)
	}
	if got[0].Index != 0 || got[1].Index != 1 {
		t.Errorf("indexes = %d, %d", got[0].Index, got[1].Index)
	}
}

func TestSplit_PacksUnderBudget(t *testing.T) {
	cfg := Config{Budget: 30, Overhead: 10}
	// Each fragment is 6 bytes: three fit (18+10 <= 30), a fourth would not (24+10 > 30).
	frags := []string{"+aaaaa", "+bbbbb", "+ccccc", "+ddddd", "+eeeee"}

	got := Split(cfg, frags)
	if len(got) != 2 {
		t.Fatalf("got %d batches, want 2", len(got))
	}
	if got[0].Payload != "+aaaaa+bbbbb+ccccc" {
		t.Errorf("batch 0 = %q", got[0].Payload)
	}
	if got[1].Payload != "+ddddd+eeeee" {
		t.Errorf("batch 1 = %q", got[1].Payload)
	}
}

func TestSplit_ExactBudgetFits(t *testing.T) {
	cfg := Config{Budget: 22, Overhead: 10}
	got := Split(cfg, []string{"+aaaaa", "+bbbbb", "+c"})
	// 6+6+10 = 22 fits; adding "+c" gives 24 > 22.
	if len(got) != 2 || got[0].Payload != "+aaaaa+bbbbb" || got[1].Payload != "+c" {
		t.Errorf("unexpected batches: %+v", got)
	}
}

func TestSplit_OversizeFragmentKept(t *testing.T) {
	cfg := Config{Budget: 20, Overhead: 5}
	huge := "+" + strings.Repeat("x", 40)
	got := Split(cfg, []string{"+a", huge, "+b"})

	if len(got) != 3 {
		t.Fatalf("got %d batches, want 3: %+v", len(got), got)
	}
	if got[1].Payload != huge {
		t.Errorf("oversize fragment not kept alone: %q", got[1].Payload)
	}
}

func TestSplit_OrderAndBudget(t *testing.T) {
	cfg := Config{Budget: 200, Overhead: 40}
	var frags []string
	for i := 0; i < 500; i++ {
		frags = append(frags, RepoFragment(strings.Repeat("r", i%37+1)))
	}

	batches := Split(cfg, frags)

	var joined []string
	for i, b := range batches {
		if len(b.Fragments) == 0 {
			t.Fatalf("batch %d is empty", i)
		}
		if b.Len()+cfg.Overhead > cfg.Budget && len(b.Fragments) > 1 {
			t.Errorf("batch %d exceeds budget: %d", i, b.Len()+cfg.Overhead)
		}
		if b.Payload != strings.Join(b.Fragments, "") {
			t.Errorf("batch %d payload does not match fragments", i)
		}
		// Flushed as soon as the next fragment would not fit.
		if i+1 < len(batches) {
			next := batches[i+1].Fragments[0]
			if b.Len()+len(next)+cfg.Overhead <= cfg.Budget {
				t.Errorf("batch %d flushed early", i)
			}
		}
		joined = append(joined, b.Fragments...)
	}

	if len(joined) != len(frags) {
		t.Fatalf("fragments in batches = %d, want %d", len(joined), len(frags))
	}
	for i := range frags {
		if joined[i] != frags[i] {
			t.Fatalf("order broken at %d", i)
		}
	}
}

func TestBatcher_AddFlush(t *testing.T) {
	b := New(Config{Budget: 10, Overhead: 0})

	if _, ok := b.Flush(); ok {
		t.Error("Flush on empty batcher should return false")
	}
	if _, ok := b.Add("12345"); ok {
		t.Error("first Add should not flush")
	}
	if b.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", b.Pending())
	}
	batch, ok := b.Add("123456")
	if !ok || batch.Payload != "12345" {
		t.Errorf("Add() flushed %q, %v", batch.Payload, ok)
	}
	last, ok := b.Flush()
	if !ok || last.Payload != "123456" || last.Index != 1 {
		t.Errorf("Flush() = %+v, %v", last, ok)
	}
	if _, ok := b.Flush(); ok {
		t.Error("second Flush should return false")
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{Budget: 0, Overhead: -1})
	if b.cfg.Budget != DefaultBudget || b.cfg.Overhead != 0 {
		t.Errorf("cfg = %+v", b.cfg)
	}
}
