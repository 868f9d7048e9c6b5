// Package query packs per-item query fragments into size-bounded batches so
// that many logical items travel in few search requests.
package query

import "strings"

// Default sizing used against the code search endpoint.
const (
	// DefaultBudget is the per-request character budget.
	DefaultBudget = 6500

	// DefaultOverhead is reserved for the fixed part of every request
	// (endpoint, credential, sort key, static filter clause).
	DefaultOverhead = 147

	// RepoQualifier is the fragment prefix for one repository.
	RepoQualifier = "+repo:"
)

// Config holds batcher sizing.
type Config struct {
	// Budget is the soft upper bound for packed fragments plus Overhead.
	Budget int

	// Overhead is the fixed per-request length reserved out of Budget.
	Overhead int
}

// DefaultConfig returns the sizing used by the retrieval pipeline.
func DefaultConfig() Config {
	return Config{
		Budget:   DefaultBudget,
		Overhead: DefaultOverhead,
	}
}

// Batch is an ordered group of fragments sent as one request.
type Batch struct {
	// Index is the zero-based flush order within a unit.
	Index int

	// Fragments holds the packed fragments in input order.
	Fragments []string

	// Payload is the concatenation of Fragments.
	Payload string
}

// Len returns the payload length in bytes.
func (b Batch) Len() int { return len(b.Payload) }

// Batcher accumulates fragments for one unit. It is not safe for concurrent
// use; each task owns its own Batcher.
type Batcher struct {
	cfg       Config
	buf       strings.Builder
	fragments []string
	next      int
}

// New creates a Batcher. Non-positive sizing falls back to the defaults.
func New(cfg Config) *Batcher {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Overhead < 0 {
		cfg.Overhead = 0
	}
	return &Batcher{cfg: cfg}
}

// Add appends fragment. If the pending batch is non-empty and adding the
// fragment would push pending+fragment+overhead past the budget, the pending
// batch is returned first and the fragment starts the next one. A fragment
// that exceeds the budget on its own is still accepted.
func (b *Batcher) Add(fragment string) (Batch, bool) {
	var flushed Batch
	var ok bool
	if b.buf.Len() > 0 && b.buf.Len()+len(fragment)+b.cfg.Overhead > b.cfg.Budget {
		flushed, ok = b.take()
	}
	b.buf.WriteString(fragment)
	b.fragments = append(b.fragments, fragment)
	return flushed, ok
}

// Flush returns the pending batch, if any. Call it once at end of unit.
func (b *Batcher) Flush() (Batch, bool) {
	if b.buf.Len() == 0 {
		return Batch{}, false
	}
	return b.take()
}

// Pending returns the number of fragments waiting in the current batch.
func (b *Batcher) Pending() int { return len(b.fragments) }

func (b *Batcher) take() (Batch, bool) {
	batch := Batch{
		Index:     b.next,
		Fragments: b.fragments,
		Payload:   b.buf.String(),
	}
	b.next++
	b.fragments = nil
	b.buf.Reset()
	return batch, true
}

// RepoFragment returns the search qualifier for one repository.
func RepoFragment(fullName string) string {
	return RepoQualifier + fullName
}

// Split packs all fragments and returns the resulting batches in order.
func Split(cfg Config, fragments []string) []Batch {
	b := New(cfg)
	var out []Batch
	for _, f := range fragments {
		if batch, ok := b.Add(f); ok {
			out = append(out, batch)
		}
	}
	if batch, ok := b.Flush(); ok {
		out = append(out, batch)
	}
	return out
}
