package scheduler

import (
	"github.com/vk/forgectl/internal/ctxlog"
	"github.com/vk/forgectl/internal/digest"
	"github.com/vk/forgectl/internal/fingerprint"
)

// Invalidate evicts every entry whose fingerprint embeds one of the changed
// digests, plus every entry that depended on one of those through a real
// dependency edge. Unrelated entries are untouched. Evicted entries are
// recreated lazily on next access, never recomputed eagerly.
//
// It returns the number of evicted entries.
func (s *Session) Invalidate(changed ...digest.Digest) int {
	changedSet := make(map[digest.Digest]struct{}, len(changed))
	for _, d := range changed {
		changedSet[d] = struct{}{}
	}

	s.mu.Lock()
	var queue []*entry
	marked := make(map[fingerprint.Fingerprint]*entry)
	for _, e := range s.entries {
		for _, d := range e.digests {
			if _, hit := changedSet[d]; hit {
				marked[e.fp] = e
				queue = append(queue, e)
				break
			}
		}
	}

	// Walk recorded dependency edges transitively; only real edges, so
	// siblings that merely shared a session stay cached.
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		for depFP := range e.dependents {
			dep, live := s.entries[depFP]
			if !live {
				continue
			}
			if _, seen := marked[depFP]; seen {
				continue
			}
			marked[depFP] = dep
			queue = append(queue, dep)
		}
	}

	for fp, e := range marked {
		delete(s.entries, fp)
		if !e.terminal() {
			// Same drain discipline as waiter abandonment: a recreated entry
			// must not run alongside the cancelled body.
			s.dying[fp] = e
		}
	}
	s.mu.Unlock()

	for _, e := range marked {
		if !e.terminal() {
			e.cancel()
		}
	}

	ctxlog.FromContext(s.baseCtx).Debug("Invalidated entries.", "session", s.id, "digests", len(changed), "evicted", len(marked))
	return len(marked)
}
