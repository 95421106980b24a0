package ruleset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kakebuild/kake/internal/capability"
	"github.com/kakebuild/kake/internal/diagnostics"
	"github.com/kakebuild/kake/internal/log"
)

// Registry stores registered rules and resolves a concrete target to the
// rule (and bindings) that produces it. Registration happens once at host
// startup; Find is safe for unbounded concurrent readers afterward.
type Registry struct {
	mu sync.RWMutex

	// literal holds exact-output rules, keyed by OutputPattern, for O(1)
	// lookup; exact matches always win over patterns.
	literal map[string]*Rule

	// patterns holds every pattern rule (OutputPattern containing {name}
	// or **), in registration order, for the fewest-wildcards tie-break.
	patterns []*Rule

	nextOrder int

	// warnedMu guards warnedAmbiguous independently of mu: Find only ever
	// takes mu's read lock (concurrent Find is the common case), so
	// the once-per-target warning bookkeeping can't share that lock
	// without either upgrading to a write lock mid-read (deadlock-prone)
	// or racing plain map writes under RLock.
	warnedMu        sync.Mutex
	warnedAmbiguous map[string]bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		literal:         make(map[string]*Rule),
		warnedAmbiguous: make(map[string]bool),
	}
}

// Register adds rule to the registry. It fails with AmbiguousRuleError if
// OutputPattern collides with an already-registered rule: two identical
// literal outputs, or a new pattern that would also match an existing
// literal output (the pattern "subsumes" the literal).
func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule.registeredAt = r.nextOrder
	r.nextOrder++

	if rule.isLiteral() {
		if existing, ok := r.literal[rule.OutputPattern]; ok {
			return &diagnostics.AmbiguousRuleError{
				Output: rule.OutputPattern,
				Labels: []string{existing.Label, rule.Label},
			}
		}
		// A pre-existing pattern matching this new literal is not an
		// error — exact match always wins at resolve time, so this is an
		// intentional override, not ambiguity.
		r.literal[rule.OutputPattern] = &rule
		log.For("ruleset").WithField("output", rule.OutputPattern).Debug("registered literal rule")
		return nil
	}

	for lit, existing := range r.literal {
		if _, ok := matchOutput(rule.OutputPattern, lit); ok {
			return &diagnostics.AmbiguousRuleError{
				Output: lit,
				Labels: []string{existing.Label, rule.Label},
			}
		}
	}

	r.patterns = append(r.patterns, &rule)
	log.For("ruleset").WithField("pattern", rule.OutputPattern).Debug("registered pattern rule")
	return nil
}

// Find resolves target to its matching rule and bindings. Resolution
// order: exact literal wins; among matching patterns, fewest wildcard
// segments wins; ties break on earliest registration, logged once per
// ambiguous target.
func (r *Registry) Find(target string) (*Rule, map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rule, ok := r.literal[target]; ok {
		return rule, nil, true
	}

	type candidate struct {
		rule     *Rule
		bindings map[string]string
	}
	var matches []candidate
	for _, p := range r.patterns {
		if bindings, ok := matchOutput(p.OutputPattern, target); ok {
			matches = append(matches, candidate{rule: p, bindings: bindings})
		}
	}
	if len(matches) == 0 {
		return nil, nil, false
	}

	sort.SliceStable(matches, func(i, j int) bool {
		si, sj := matches[i].rule.specificity(), matches[j].rule.specificity()
		if si != sj {
			return si < sj
		}
		return matches[i].rule.registeredAt < matches[j].rule.registeredAt
	})

	if len(matches) > 1 && matches[0].rule.specificity() == matches[1].rule.specificity() {
		r.warnTieOnce(target, matches[0].rule, matches[1].rule)
	}

	winner := matches[0]
	return winner.rule, winner.bindings, true
}

func (r *Registry) warnTieOnce(target string, winner, runnerUp *Rule) {
	r.warnedMu.Lock()
	if r.warnedAmbiguous[target] {
		r.warnedMu.Unlock()
		return
	}
	r.warnedAmbiguous[target] = true
	r.warnedMu.Unlock()

	log.For("ruleset").WithFields(map[string]any{
		"target":    target,
		"winner":    winner.Label,
		"runner_up": runnerUp.Label,
	}).Warn("multiple rules match target with equal specificity; earliest registration wins")
}

// RegisterCompile is a convenience wrapper matching the embedded API's
// register_compile(label, output_pattern, input_patterns, capability).
func (r *Registry) RegisterCompile(label, outputPattern string, inputPatterns []string, cap capability.Capability) error {
	if cap == nil {
		return fmt.Errorf("ruleset: capability must not be nil for rule %q", label)
	}
	return r.Register(Rule{
		Label:               label,
		OutputPattern:       outputPattern,
		StaticInputPatterns: inputPatterns,
		Capability:          cap,
	})
}
