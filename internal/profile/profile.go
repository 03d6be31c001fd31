package profile

import (
	"strings"
	"time"
)

// Source identifies where a profile observation came from. Sources form a
// fixed fidelity order; merges never ask the caller to resolve conflicts.
type Source string

const (
	// SourceLive is live-transport enrichment (full contact lookup).
	SourceLive Source = "live"
	// SourceControl is metadata observed on the operator control channel.
	SourceControl Source = "control"
	// SourceForward is metadata derived from forwarded messages.
	SourceForward Source = "botapi_forward"
	// SourceImport is bulk-imported historical data.
	SourceImport Source = "import"
)

var sourcePriority = map[Source]int{
	SourceLive:    3,
	SourceControl: 2,
	SourceForward: 1,
	SourceImport:  0,
}

// Priority returns the fidelity rank of a source. Unknown sources rank below
// every known one.
func Priority(s Source) int {
	if p, ok := sourcePriority[s]; ok {
		return p
	}
	return -1
}

// FieldStatus tracks whether a field has been confirmed by any source.
// A pending field may be filled by any source; a resolved field only by one
// of equal or higher priority.
type FieldStatus string

const (
	StatusPending  FieldStatus = "pending"
	StatusResolved FieldStatus = "resolved"
)

// Field is one profile attribute with its provenance. A Field with a nil
// Value is explicitly unknown, distinct from a resolved empty value.
type Field struct {
	Value     any         `json:"value"`
	Status    FieldStatus `json:"status"`
	Source    Source      `json:"source,omitempty"`
	UpdatedAt time.Time   `json:"updated_at,omitzero"`
}

// Unset reports whether no source has ever written the field.
func (f Field) Unset() bool {
	return f.Value == nil && f.Status != StatusResolved
}

// String returns the field's value as a trimmed string when it is one.
func (f Field) String() string {
	if s, ok := f.Value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Recognized field keys per group.
const (
	FieldUserID      = "user_id"
	FieldChatID      = "chat_id"
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldDisplayName = "display_name"
	FieldUsername    = "username"
	FieldPhone       = "phone"

	FieldIsBot        = "is_bot"
	FieldIsPremium    = "is_premium"
	FieldIsVerified   = "is_verified"
	FieldIsScam       = "is_scam"
	FieldIsFake       = "is_fake"
	FieldLanguageCode = "language_code"

	FieldStatusText = "status"
	FieldLastSeen   = "last_seen"

	FieldHasPhoto = "has_photo"
	FieldPhotoID  = "photo_id"
)

// Profile is the canonical contact snapshot for one conversation, grouped the
// way observations arrive: identity, account flags, presence, media, bio.
type Profile struct {
	ConversationID string           `json:"conversation_id"`
	Identity       map[string]Field `json:"identity,omitempty"`
	Account        map[string]Field `json:"account,omitempty"`
	Presence       map[string]Field `json:"presence,omitempty"`
	Media          map[string]Field `json:"media,omitempty"`
	Bio            Field            `json:"bio,omitzero"`
	PrimarySource  Source           `json:"primary_source,omitempty"`
	FirstUpdate    time.Time        `json:"first_update,omitzero"`
	LastUpdate     time.Time        `json:"last_update,omitzero"`
}

// New returns an empty profile for a conversation.
func New(conversationID string) *Profile {
	return &Profile{
		ConversationID: conversationID,
		Identity:       map[string]Field{},
		Account:        map[string]Field{},
		Presence:       map[string]Field{},
		Media:          map[string]Field{},
	}
}

// Clone returns a deep copy. Merge operates on copies so callers never see a
// half-applied profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := &Profile{
		ConversationID: p.ConversationID,
		Identity:       cloneFields(p.Identity),
		Account:        cloneFields(p.Account),
		Presence:       cloneFields(p.Presence),
		Media:          cloneFields(p.Media),
		Bio:            p.Bio,
		PrimarySource:  p.PrimarySource,
		FirstUpdate:    p.FirstUpdate,
		LastUpdate:     p.LastUpdate,
	}
	return out
}

func cloneFields(in map[string]Field) map[string]Field {
	out := make(map[string]Field, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// DisplayName derives a human-readable contact name: explicit display name,
// then first/last name, then @username.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if name := p.Identity[FieldDisplayName].String(); name != "" {
		return name
	}
	first := p.Identity[FieldFirstName].String()
	last := p.Identity[FieldLastName].String()
	if first != "" || last != "" {
		return strings.TrimSpace(first + " " + last)
	}
	if username := p.Identity[FieldUsername].String(); username != "" {
		return "@" + username
	}
	return ""
}
