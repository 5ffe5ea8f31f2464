// Package registry holds the set of statement plugins available to the
// dispatcher. Plugins are registered at startup; the registry is sealed when
// dispatch begins and is read-only from then on.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/signature"
)

// Entry is one registered plugin with its validated descriptor.
type Entry struct {
	Descriptor parser.Descriptor
	Plugin     parser.Plugin
	Signature  *signature.Signature
}

// Registry holds all registered plugins
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	byName  map[string]int
	sealed  bool
	log     zerolog.Logger
}

// New creates an empty registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]int),
		log:    log.With().Str("component", "registry").Logger(),
	}
}

// Register validates the plugin's descriptor and adds it.
//
// Returns *InvalidDescriptorError for incomplete metadata, an unsupported
// suffix, a non-semver version or an uncompilable signature;
// *DuplicatePluginError if the name is taken; ErrRegistrySealed after Seal.
// A signature structurally similar to an already registered one for the same
// suffix is logged as a warning but accepted.
func (r *Registry) Register(p parser.Plugin) error {
	if p == nil {
		return &InvalidDescriptorError{Field: "plugin", Reason: "cannot register nil plugin"}
	}
	desc := p.Descriptor()
	sig, err := ValidateDescriptor(&desc)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.byName[desc.Name]; exists {
		return &DuplicatePluginError{Name: desc.Name}
	}

	for _, e := range r.entries {
		if e.Descriptor.Suffix == desc.Suffix && signature.Similar(e.Signature, sig) {
			r.log.Warn().
				Str("plugin", desc.Name).
				Str("similar_to", e.Descriptor.Name).
				Str("suffix", desc.Suffix).
				Msg("match signature is structurally similar to an existing plugin; dispatch may be ambiguous")
		}
	}

	r.byName[desc.Name] = len(r.entries)
	r.entries = append(r.entries, Entry{Descriptor: desc, Plugin: p, Signature: sig})
	r.log.Debug().Str("plugin", desc.Name).Str("version", desc.Version).Msg("registered plugin")
	return nil
}

// ValidateDescriptor checks every required field and compiles the signature.
// The suffix is normalized to lowercase in place.
func ValidateDescriptor(desc *parser.Descriptor) (*signature.Signature, error) {
	invalid := func(field, reason string) error {
		return &InvalidDescriptorError{Name: desc.Name, Field: field, Reason: reason}
	}

	required := []struct {
		field, value string
	}{
		{"name", desc.Name},
		{"version", desc.Version},
		{"suffix", desc.Suffix},
		{"institution", desc.Institution},
		{"statement type", desc.StatementType},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, invalid(f.field, "cannot be empty")
		}
	}

	desc.Suffix = strings.ToLower(desc.Suffix)
	if !parser.IsSupportedSuffix(desc.Suffix) {
		return nil, invalid("suffix", "unsupported document type "+desc.Suffix)
	}
	if !semver.IsValid(canonicalVersion(desc.Version)) {
		return nil, invalid("version", "not a semantic version: "+desc.Version)
	}

	sig, err := signature.Compile(desc.Signature)
	if err != nil {
		return nil, invalid("signature", err.Error())
	}
	return sig, nil
}

// Seal forbids further registration. It is idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sealed {
		r.sealed = true
		r.log.Debug().Int("plugins", len(r.entries)).Msg("registry sealed")
	}
}

// Sealed reports whether dispatch has begun.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// LookupAll returns a copy of every entry in registration order.
func (r *Registry) LookupAll() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	for i := range out {
		out[i].Descriptor.Signature = append([]string(nil), out[i].Descriptor.Signature...)
	}
	return out
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// ForSuffix returns the entries declaring the given suffix, in registration order.
func (r *Registry) ForSuffix(suffix string) []Entry {
	suffix = strings.ToLower(suffix)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Descriptor.Suffix == suffix {
			out = append(out, e)
		}
	}
	return out
}

// ListPlugins returns all registered plugin names in registration order.
func (r *Registry) ListPlugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Descriptor.Name
	}
	return names
}

// Suffixes returns the sorted set of suffixes at least one plugin handles.
func (r *Registry) Suffixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, e := range r.entries {
		seen[e.Descriptor.Suffix] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NewerVersion reports whether version a is strictly newer than b.
// Invalid versions sort before valid ones.
func NewerVersion(a, b string) bool {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b)) > 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
