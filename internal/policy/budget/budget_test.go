package budget

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticBudgets(t *testing.T) {
	t.Parallel()

	src := map[string]Override{"big.test": {Session: 0, Total: -1}}
	s := NewStatic(50, 1000, src)
	src["mutated.test"] = Override{Total: 1}

	session, total := s.Budgets("example.com")
	require.EqualValues(t, 50, session)
	require.EqualValues(t, 1000, total)

	session, total = s.Budgets("big.test")
	require.Zero(t, session)
	require.EqualValues(t, -1, total)

	_, total = s.Budgets("mutated.test")
	require.EqualValues(t, 1000, total)

	s.SetOverride("example.com", Override{Session: 5, Total: 10})
	session, total = s.Budgets("example.com")
	require.EqualValues(t, 5, session)
	require.EqualValues(t, 10, total)
}
