package conversation

import "github.com/rs/zerolog"

// Fragment is one incremental piece of a message as produced by the event
// decoder. Fragments are transient: they are applied to a Buffer and then
// discarded, they are never stored.
//
// ContentFull is a pointer so that "replace with empty string" can be told
// apart from "no full content in this fragment".
type Fragment struct {
	ID           string
	Role         Role
	ContentDelta string
	ContentFull  *string
	Final        bool
	Metadata     map[string]interface{}
}

func (f *Fragment) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("id", f.ID).
		Str("role", string(f.Role)).
		Int("delta_length", len(f.ContentDelta)).
		Bool("has_full", f.ContentFull != nil).
		Bool("final", f.Final)
}
