package dedupe

import (
	"fmt"

	"github.com/baitlab/scambaiter/internal/core"
)

// Mode describes how a forward batch relates to the stored log.
type Mode string

const (
	// ModeAppend: the batch's known prefix is a suffix of the stored
	// sequence; the remainder extends the tail.
	ModeAppend Mode = "append"
	// ModeBackfill: the batch overlaps a non-tail region or interleaves
	// known and new content. New items are still appended (conservative
	// default), but the overlap is ambiguous and reported.
	ModeBackfill Mode = "backfill"
	// ModeBlocked: nothing to do (empty batch, missing identities, or
	// everything already present).
	ModeBlocked Mode = "blocked"
)

// Plan is the outcome of matching an incoming batch against stored history.
// ToAppend preserves batch order; stored history is never reordered.
type Plan struct {
	Mode     Mode
	ToAppend []core.Event
	Skipped  int
	// Ambiguous is set when the overlap is not tail-adjacent, so the caller
	// can surface it for a human decision instead of trusting the merge.
	Ambiguous bool
	Reason    string
}

// PlanBatch decides which events of an ordered incoming batch are new. Every
// batch event must carry a resolved identity (see StampIdentity). Matching is
// by ordered identity sequence: the longest run of already-known batch keys
// that forms a suffix of the stored scammer-key sequence counts as a repeat;
// everything after it is appended in order. Content changes under a known
// key append a revision row rather than being dropped.
func PlanBatch(existing []core.Event, batch []core.Event) Plan {
	if len(batch) == 0 {
		return Plan{Mode: ModeBlocked, Reason: "batch empty"}
	}

	missing := 0
	for _, ev := range batch {
		if IdentityKeyOf(ev) == "" {
			missing++
		}
	}
	if missing > 0 {
		return Plan{
			Mode:    ModeBlocked,
			Skipped: len(batch),
			Reason:  fmt.Sprintf("%d item(s) missing forward identity", missing),
		}
	}

	existingByKey := map[string][]core.Event{}
	var existingScammerKeys []string
	seenScammer := map[string]bool{}
	for _, ev := range existing {
		key := IdentityKeyOf(ev)
		if key == "" {
			continue
		}
		existingByKey[key] = append(existingByKey[key], ev)
		if ev.Role == core.RoleScammer && !seenScammer[key] {
			seenScammer[key] = true
			existingScammerKeys = append(existingScammerKeys, key)
		}
	}

	var toAppend []core.Event
	var batchScammerKeys []string
	var newScammerKeys []string
	skipped := 0
	for _, ev := range batch {
		key := IdentityKeyOf(ev)
		rows := existingByKey[key]
		if ev.Role == core.RoleScammer {
			batchScammerKeys = append(batchScammerKeys, key)
			if len(rows) == 0 {
				newScammerKeys = append(newScammerKeys, key)
			}
		}

		same, changed := matchRows(rows, ev)
		if same {
			skipped++
			continue
		}
		candidate := ev
		if changed {
			meta := make(map[string]any, len(candidate.Meta)+2)
			for k, v := range candidate.Meta {
				meta[k] = v
			}
			meta[MetaRevisionOfKey] = key
			meta[MetaRevisionReason] = "content_changed"
			candidate.Meta = meta
		}
		toAppend = append(toAppend, candidate)
	}

	if len(toAppend) == 0 {
		return Plan{Mode: ModeBlocked, Skipped: skipped, Reason: "batch already present"}
	}

	plan := Plan{ToAppend: toAppend, Skipped: skipped}
	if len(newScammerKeys) > 0 {
		if len(existingScammerKeys) == 0 {
			plan.Mode = ModeAppend
			plan.Reason = fmt.Sprintf("append %d item(s)", len(toAppend))
			return plan
		}
		if tailAdjacent(existingScammerKeys, batchScammerKeys) {
			plan.Mode = ModeAppend
			plan.Reason = fmt.Sprintf("append %d item(s)", len(toAppend))
			return plan
		}
	}
	plan.Mode = ModeBackfill
	plan.Ambiguous = true
	plan.Reason = fmt.Sprintf("backfill %d item(s)", len(toAppend))
	return plan
}

// matchRows compares a batch event against stored rows sharing its identity
// key. An event-type downgrade to plain "forward" on the stored side counts
// as changed content: the capture-typed row supersedes it.
func matchRows(rows []core.Event, ev core.Event) (same bool, changed bool) {
	for _, row := range rows {
		if row.Type == core.EventForward && ev.Type != core.EventForward {
			changed = true
			continue
		}
		if row.Type == ev.Type && row.Text == ev.Text {
			return true, changed
		}
		changed = true
	}
	return false, changed
}

// tailAdjacent reports whether the batch's run of already-known scammer keys
// is a suffix of the stored scammer-key sequence with no known key appearing
// after the first new one.
func tailAdjacent(existingKeys, batchKeys []string) bool {
	existingPos := map[string]bool{}
	for _, key := range existingKeys {
		existingPos[key] = true
	}
	firstNew := len(batchKeys)
	for i, key := range batchKeys {
		if !existingPos[key] {
			firstNew = i
			break
		}
	}
	for _, key := range batchKeys[firstNew:] {
		if existingPos[key] {
			return false
		}
	}
	prefix := batchKeys[:firstNew]
	if len(prefix) == 0 {
		// No overlap at all: brand-new content is a plain tail append.
		return true
	}
	if len(prefix) > len(existingKeys) {
		return false
	}
	tail := existingKeys[len(existingKeys)-len(prefix):]
	for i := range prefix {
		if prefix[i] != tail[i] {
			return false
		}
	}
	return true
}
