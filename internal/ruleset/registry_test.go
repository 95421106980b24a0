package ruleset

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopCapability struct{}

func (noopCapability) Build(context.Context, string, []string, []string, map[string]string) error {
	return nil
}

func TestFindExactLiteralWinsOverPattern(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Rule{Label: "pattern", OutputPattern: "genfiles/{name}.css", Capability: noopCapability{}}))
	require.NoError(t, r.Register(Rule{Label: "literal", OutputPattern: "genfiles/special.css", Capability: noopCapability{}}))

	rule, bindings, ok := r.Find("genfiles/special.css")
	require.True(t, ok)
	assert.Equal(t, "literal", rule.Label)
	assert.Nil(t, bindings)
}

func TestFindBindsPatternVariables(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Rule{Label: "lang", OutputPattern: "genfiles/i18n/{lang}.json", Capability: noopCapability{}}))

	rule, bindings, ok := r.Find("genfiles/i18n/fr.json")
	require.True(t, ok)
	assert.Equal(t, "lang", rule.Label)
	assert.Equal(t, "fr", bindings["lang"])
}

func TestFindFewestWildcardsWins(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Rule{Label: "broad", OutputPattern: "genfiles/**/{name}.css", Capability: noopCapability{}}))
	require.NoError(t, r.Register(Rule{Label: "narrow", OutputPattern: "genfiles/app/{name}.css", Capability: noopCapability{}}))

	rule, _, ok := r.Find("genfiles/app/main.css")
	require.True(t, ok)
	assert.Equal(t, "narrow", rule.Label)
}

func TestFindTieBreaksOnRegistrationOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Rule{Label: "first", OutputPattern: "genfiles/{a}.css", Capability: noopCapability{}}))
	require.NoError(t, r.Register(Rule{Label: "second", OutputPattern: "genfiles/{b}.css", Capability: noopCapability{}}))

	rule, _, ok := r.Find("genfiles/main.css")
	require.True(t, ok)
	assert.Equal(t, "first", rule.Label)
}

func TestFindGlobSegmentOutputPattern(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Rule{Label: "minified", OutputPattern: "genfiles/{{*.min.css}}", Capability: noopCapability{}}))

	rule, bindings, ok := r.Find("genfiles/app.min.css")
	require.True(t, ok)
	assert.Equal(t, "minified", rule.Label)
	assert.Empty(t, bindings)

	_, _, ok = r.Find("genfiles/app.css")
	assert.False(t, ok)
}

func TestFindNoMatch(t *testing.T) {
	r := New()
	_, _, ok := r.Find("genfiles/nope.css")
	assert.False(t, ok)
}

func TestRegisterDuplicateLiteralFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Rule{Label: "one", OutputPattern: "genfiles/out.css", Capability: noopCapability{}}))
	err := r.Register(Rule{Label: "two", OutputPattern: "genfiles/out.css", Capability: noopCapability{}})
	require.Error(t, err)
}

func TestRegisterPatternSubsumingLiteralFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Rule{Label: "literal", OutputPattern: "genfiles/out.css", Capability: noopCapability{}}))
	err := r.Register(Rule{Label: "pattern", OutputPattern: "genfiles/{name}.css", Capability: noopCapability{}})
	require.Error(t, err)
}

func TestRegisterGlobPatternSubsumingLiteralFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Rule{Label: "literal", OutputPattern: "genfiles/app.min.css", Capability: noopCapability{}}))
	err := r.Register(Rule{Label: "glob", OutputPattern: "genfiles/{{*.min.css}}", Capability: noopCapability{}})
	require.Error(t, err)
}

func TestRegisterCompileRejectsNilCapability(t *testing.T) {
	r := New()
	err := r.RegisterCompile("bad", "genfiles/out.css", nil, nil)
	require.Error(t, err)
}

// TestFindConcurrentOnAmbiguousTarget drives many goroutines through Find
// on a target that ties on specificity, so every call hits warnTieOnce's
// write to warnedAmbiguous. Run with -race: before warnedAmbiguous got its
// own mutex, this raced a plain map write under Find's RLock.
func TestFindConcurrentOnAmbiguousTarget(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Rule{Label: "first", OutputPattern: "genfiles/{a}.css", Capability: noopCapability{}}))
	require.NoError(t, r.Register(Rule{Label: "second", OutputPattern: "genfiles/{b}.css", Capability: noopCapability{}}))

	const goroutines = 32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			rule, _, ok := r.Find("genfiles/main.css")
			assert.True(t, ok)
			assert.Equal(t, "first", rule.Label)
		}()
	}
	wg.Wait()
}
