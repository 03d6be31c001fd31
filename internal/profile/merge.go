package profile

import "time"

// Patch is a partial profile observation from a single source. Nil maps and
// nil Bio mean "no data", never "clear".
type Patch struct {
	Identity map[string]any
	Account  map[string]any
	Presence map[string]any
	Media    map[string]any
	Bio      *string
}

// IsEmpty reports whether the patch carries no data at all.
func (p Patch) IsEmpty() bool {
	return len(p.Identity) == 0 && len(p.Account) == 0 && len(p.Presence) == 0 &&
		len(p.Media) == 0 && p.Bio == nil
}

// Merge applies a partial observation to a profile and returns the merged
// copy. A source of equal or higher priority than a field's recorded source
// overwrites; a lower-priority source only fills fields that are unset or
// still pending. Every touched field becomes resolved and records the acting
// source; the input profile is never mutated.
func Merge(existing *Profile, incoming Patch, source Source, now time.Time) *Profile {
	if existing == nil {
		existing = New("")
	}
	merged := existing.Clone()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	touched := false
	touched = mergeGroup(merged.Identity, incoming.Identity, source, now) || touched
	touched = mergeGroup(merged.Account, incoming.Account, source, now) || touched
	touched = mergeGroup(merged.Presence, incoming.Presence, source, now) || touched
	touched = mergeGroup(merged.Media, incoming.Media, source, now) || touched
	if incoming.Bio != nil {
		if next, ok := mergeField(merged.Bio, *incoming.Bio, source, now); ok {
			merged.Bio = next
			touched = true
		}
	}

	if touched {
		if merged.FirstUpdate.IsZero() {
			merged.FirstUpdate = now
		}
		merged.LastUpdate = now
		if Priority(source) >= Priority(merged.PrimarySource) || merged.PrimarySource == "" {
			merged.PrimarySource = source
		}
	}
	return merged
}

func mergeGroup(dst map[string]Field, patch map[string]any, source Source, now time.Time) bool {
	touched := false
	for key, value := range patch {
		if value == nil {
			continue
		}
		if next, ok := mergeField(dst[key], value, source, now); ok {
			dst[key] = next
			touched = true
		}
	}
	return touched
}

// mergeField decides a single field write. Reports false when the source
// lacks the authority to change the current value.
func mergeField(current Field, value any, source Source, now time.Time) (Field, bool) {
	if !current.Unset() && Priority(source) < Priority(current.Source) {
		return current, false
	}
	return Field{
		Value:     value,
		Status:    StatusResolved,
		Source:    source,
		UpdatedAt: now,
	}, true
}
