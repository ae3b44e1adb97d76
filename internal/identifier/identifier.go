package identifier

import (
	"strings"
)

// DefaultChantypes are the channel prefixes assumed until the server
// advertises CHANTYPES.
const DefaultChantypes = "#&+!"

// Identifier is a nickname or channel name compared with IRC case folding.
// The zero value is the empty identifier.
type Identifier struct {
	raw       string
	folded    string
	chantypes string
}

// New returns an Identifier folded with the RFC1459 casemapping.
func New(s string) Identifier {
	return Factory{}.New(s)
}

// Factory builds identifiers sharing one casemapping and chantypes set.
type Factory struct {
	Casemapping Casemapping
	Chantypes   string
}

// New returns an Identifier for s.
func (f Factory) New(s string) Identifier {
	fold := f.Casemapping
	if fold == nil {
		fold = RFC1459
	}
	chantypes := f.Chantypes
	if chantypes == "" {
		chantypes = DefaultChantypes
	}
	return Identifier{raw: s, folded: fold(s), chantypes: chantypes}
}

// Fold returns s folded with the factory's casemapping.
func (f Factory) Fold(s string) string {
	if f.Casemapping == nil {
		return RFC1459(s)
	}
	return f.Casemapping(s)
}

// String returns the identifier with its original casing.
func (id Identifier) String() string { return id.raw }

// Key returns the folded form, suitable as a map key.
func (id Identifier) Key() string { return id.folded }

// Lower returns the identifier folded by its casemapping, the same text
// as Key.
func (id Identifier) Lower() string { return id.folded }

// IsZero reports whether the identifier is empty.
func (id Identifier) IsZero() bool { return id.raw == "" }

// Equal reports whether both identifiers fold to the same value.
func (id Identifier) Equal(other Identifier) bool {
	return id.folded == other.folded
}

// Compare orders identifiers by their folded form.
func (id Identifier) Compare(other Identifier) int {
	return strings.Compare(id.folded, other.folded)
}

// Less reports whether id sorts before other.
func (id Identifier) Less(other Identifier) bool {
	return id.folded < other.folded
}

// IsNick reports whether the identifier looks like a nickname rather
// than a channel name.
func (id Identifier) IsNick() bool {
	if id.raw == "" {
		return false
	}
	chantypes := id.chantypes
	if chantypes == "" {
		chantypes = DefaultChantypes
	}
	return !strings.ContainsRune(chantypes, rune(id.raw[0]))
}
