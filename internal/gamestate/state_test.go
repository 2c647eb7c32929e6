package gamestate

import (
	"sync"
	"testing"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/modules/operations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState() *State {
	return New(
		&domain.Turn{ID: 3, Number: 3},
		&domain.Semester{ID: 1},
		config.DefaultGameConfig(),
		[]domain.Company{{ID: 10, Name: "Alpha"}, {ID: 11, Name: "Beta"}},
		nil,
	)
}

func TestState_Company(t *testing.T) {
	gs := newState()
	c, ok := gs.Company(11)
	require.True(t, ok)
	assert.Equal(t, "Beta", c.Name)

	_, ok = gs.Company(99)
	assert.False(t, ok)
}

func TestState_CatastropheDeduplicates(t *testing.T) {
	gs := newState()
	assert.True(t, gs.AddCatastrophe(domain.Catastrophe{Name: "Storm", State: "FL", Severity: 2}))
	assert.False(t, gs.AddCatastrophe(domain.Catastrophe{Name: "Storm", State: "FL", Severity: 4}))
	assert.True(t, gs.AddCatastrophe(domain.Catastrophe{Name: "Storm", State: "TX", Severity: 2}))

	cats := gs.Catastrophes()
	require.Len(t, cats, 2)
	assert.Equal(t, 2.0, cats[0].Severity)

	cats[0].Name = "mutated"
	assert.Equal(t, "Storm", gs.Catastrophes()[0].Name, "callers get a copy")
}

func TestState_DemandModifiersCompound(t *testing.T) {
	gs := newState()
	seg := domain.Segment{State: "CA", Line: domain.LineHomeowners}
	gs.ApplyDemandModifier(seg, 1.2)
	gs.ApplyDemandModifier(seg, 0.5)

	mods := gs.DemandModifiers()
	assert.InDelta(t, 0.6, mods[seg], 1e-12)
	_, ok := mods[domain.Segment{State: "CA", Line: domain.LinePersonalAuto}]
	assert.False(t, ok)
}

func TestState_DecisionsAndTargets(t *testing.T) {
	gs := newState()
	gs.SetDecision(&domain.Decision{CompanyID: 10, TurnID: 3})
	gs.SetInvestmentTarget(10, domain.Characteristics{Risk: 70})

	d, ok := gs.Decision(10)
	require.True(t, ok)
	assert.Equal(t, int64(3), d.TurnID)
	assert.Len(t, gs.Decisions(), 1)
	assert.Equal(t, 70.0, gs.InvestmentTargets()[10].Risk)

	_, ok = gs.Decision(11)
	assert.False(t, ok)
}

func TestState_StageOutputs(t *testing.T) {
	gs := newState()
	assert.Nil(t, gs.Market())

	gs.SetOperations(&operations.CompanyResult{CompanyID: 10})
	r, ok := gs.Operations(10)
	require.True(t, ok)
	assert.Equal(t, int64(10), r.CompanyID)

	_, ok = gs.Investments(10)
	assert.False(t, ok)
}

func TestState_PluginScratchIsNamespaced(t *testing.T) {
	gs := newState()
	gs.Put("RegulatoryCompliance", "fines", 2)
	gs.Put("RegulatoryCompliance", "bands", "strict")
	gs.Put("Expansion", "fines", 9)

	v, ok := gs.Get("RegulatoryCompliance", "fines")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, []string{"bands", "fines"}, gs.Keys("RegulatoryCompliance"))
	assert.Empty(t, gs.Keys("Unknown"))

	_, ok = gs.Get("Unknown", "fines")
	assert.False(t, ok)
}

func TestState_ConcurrentWriters(t *testing.T) {
	gs := newState()
	seg := domain.Segment{State: "NY", Line: domain.LineWorkersComp}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gs.ApplyDemandModifier(seg, 1)
			gs.Put("p", "k", i)
			_ = gs.DemandModifiers()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1.0, gs.DemandModifiers()[seg])
}
