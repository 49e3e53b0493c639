package payments

import (
	"fmt"
	"sort"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
)

// Registry resolves providers by name. It is built once at startup.
type Registry struct {
	providers map[enums.PaymentProvider]Provider
	def       enums.PaymentProvider
}

// NewRegistry registers providers; the first one becomes the default unless
// SetDefault is called.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[enums.PaymentProvider]Provider)}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Name()] = p
		if r.def == "" {
			r.def = p.Name()
		}
	}
	return r
}

// SetDefault selects the provider used when callers pass an empty name.
func (r *Registry) SetDefault(name enums.PaymentProvider) error {
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("payment provider %q not registered", name)
	}
	r.def = name
	return nil
}

// Get returns the named provider, or the default when name is empty.
func (r *Registry) Get(name enums.PaymentProvider) (Provider, error) {
	if r == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment registry not configured")
	}
	if name == "" {
		name = r.def
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment provider").
			WithDetails(map[string]any{"provider": string(name)})
	}
	return p, nil
}

// Default returns the default provider name.
func (r *Registry) Default() enums.PaymentProvider {
	return r.def
}

// Names lists registered providers, sorted.
func (r *Registry) Names() []enums.PaymentProvider {
	out := make([]enums.PaymentProvider, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
