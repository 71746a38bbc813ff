package freeenergy

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/config"
)

// WeightedTerm is a term and its fixed weight in the sum.
type WeightedTerm struct {
	Term   Term
	Weight float64
}

// Objective is a weighted sum of terms.
type Objective struct {
	Terms []WeightedTerm
}

// Value returns F(u).
func (o *Objective) Value(u r2.Vec, in *Input) float64 {
	var f float64
	for _, wt := range o.Terms {
		if wt.Weight == 0 {
			continue
		}
		f += wt.Weight * wt.Term.Value(u, in)
	}
	return f
}

// Gradient returns the analytic gradient and true when every weighted term
// implements Gradienter.
func (o *Objective) Gradient(u r2.Vec, in *Input) (r2.Vec, bool) {
	var g r2.Vec
	for _, wt := range o.Terms {
		if wt.Weight == 0 {
			continue
		}
		gt, ok := wt.Term.(Gradienter)
		if !ok {
			return r2.Vec{}, false
		}
		g = r2.Add(g, r2.Scale(wt.Weight, gt.Gradient(u, in)))
	}
	return g, true
}

// Names lists the active term names in order.
func (o *Objective) Names() []string {
	names := make([]string, 0, len(o.Terms))
	for _, wt := range o.Terms {
		if wt.Weight != 0 {
			names = append(names, wt.Term.Name())
		}
	}
	return names
}

// TermDefinition describes a registered objective term.
type TermDefinition struct {
	Name        string
	Description string
	// New builds the term and its weight from configuration.
	New func(cfg *config.TuningConfig) WeightedTerm
}

// Registry holds registered term definitions.
type Registry struct {
	mu    sync.RWMutex
	terms map[string]*TermDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{terms: make(map[string]*TermDefinition)}
}

// Register adds a definition, replacing any with the same name.
func (r *Registry) Register(def *TermDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terms[def.Name] = def
}

// Get retrieves a definition by name.
func (r *Registry) Get(name string) (*TermDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.terms[name]
	return def, ok
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.terms))
	for name := range r.terms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build assembles an Objective from the named terms.
func (r *Registry) Build(cfg *config.TuningConfig, names ...string) (*Objective, error) {
	obj := &Objective{}
	for _, name := range names {
		def, ok := r.Get(name)
		if !ok {
			return nil, &config.ConfigurationError{Field: "objective", Reason: fmt.Sprintf("unknown term %q", name)}
		}
		obj.Terms = append(obj.Terms, def.New(cfg))
	}
	return obj, nil
}

// DefaultTerms are the terms used when no list is configured.
var DefaultTerms = []string{"goal", "safety", "surprise"}

// DefaultRegistry returns a registry with the built-in terms.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(&TermDefinition{
		Name:        "goal",
		Description: "Squared divergence from the preferred velocity, or forward progress when none is set.",
		New: func(cfg *config.TuningConfig) WeightedTerm {
			return WeightedTerm{Term: GoalTerm{}, Weight: cfg.GetGoalWeight()}
		},
	})
	reg.Register(&TermDefinition{
		Name:        "safety",
		Description: "Precision-scaled approach penalty over SPM cells with intimate-zone penalty and detour.",
		New: func(cfg *config.TuningConfig) WeightedTerm {
			return WeightedTerm{
				Term:   SafetyTerm{InsidePenalty: cfg.GetInsidePenalty(), DetourWeight: cfg.GetDetourWeight()},
				Weight: cfg.GetSafetyWeight(),
			}
		},
	})
	reg.Register(&TermDefinition{
		Name:        "surprise",
		Description: "Squared divergence from the forward model's expected velocity.",
		New: func(cfg *config.TuningConfig) WeightedTerm {
			return WeightedTerm{Term: SurpriseTerm{}, Weight: cfg.GetSurpriseWeight()}
		},
	})
	reg.Register(&TermDefinition{
		Name:        "obstacle",
		Description: "Soft barrier around explicit obstacle points.",
		New: func(cfg *config.TuningConfig) WeightedTerm {
			return WeightedTerm{
				Term:   ObstacleTerm{Radius: cfg.GetPersonalRadius(), Softness: cfg.GetPersonalRadius() / 2},
				Weight: cfg.GetSafetyWeight(),
			}
		},
	})
	return reg
}
