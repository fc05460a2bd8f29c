package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/planopt/common"
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

func col(name string) *plan.ColumnExpr {
	return plan.NewColumnExpr(name, common.IntType)
}

func eq(column string, v int64) plan.Expr {
	return plan.NewComparisonExpr(col(column), plan.NewConstantExpr(common.NewIntValue(v)), plan.Equal)
}

func names(tree *plan.Tree) []string {
	var out []string
	for _, id := range tree.Reachable() {
		out = append(out, tree.Store().Step(id).Name())
	}
	return out
}

// firstPass runs only the rule catalog over tree.
func firstPass(t *testing.T, tree *plan.Tree, settings *optimizer.Settings) *optimizer.Stats {
	stats, err := optimizer.New(NewCatalog(), nil).Optimize(tree, settings)
	require.NoError(t, err)
	require.NoError(t, tree.Validate())
	return stats
}

func stepAt[T plan.Step](t *testing.T, tree *plan.Tree, index int) T {
	reachable := tree.Reachable()
	require.Greater(t, len(reachable), index)
	s, ok := tree.Store().Step(reachable[index]).(T)
	require.True(t, ok, "node %d is %s", index, tree.Store().Step(reachable[index]).Name())
	return s
}

func TestRules_Catalog(t *testing.T) {
	c := NewCatalog()
	var got []string
	for _, r := range c.Rules() {
		got = append(got, r.Name)
	}
	assert.Equal(t, []string{
		"pushDownLimit", "mergeExpressions", "mergeFilters", "filterPushDown",
		"removeRedundantSorting", "removeRedundantDistinct", "convertOuterJoinToInner",
	}, got)

	_, ok := optimizer.DefaultRules.Lookup("filterPushDown")
	assert.True(t, ok, "rules register into the default catalog")
}

func TestRules_PushDownLimit(t *testing.T) {
	t.Run("below expression", func(t *testing.T) {
		tree := plan.NewTree()
		s := tree.Store()
		read := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "t", []string{"a"}))
		expr := s.Add(plan.NewExpression(plan.Assignment{Name: "a", Expr: col("a")}), read)
		tree.SetRoot(s.Add(plan.NewLimit(5), expr))

		stats := firstPass(t, tree, nil)
		assert.Equal(t, 1, stats.Applied)
		assert.Equal(t, []string{"Expression", "Limit", "ReadFromTable"}, names(tree))
	})

	t.Run("into sort", func(t *testing.T) {
		tree := plan.NewTree()
		s := tree.Store()
		read := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "t", []string{"a"}))
		sort := s.Add(plan.NewSort([]plan.OrderByClause{{Column: "a"}}), read)
		tree.SetRoot(s.Add(&plan.Limit{Limit: 5, Offset: 2}, sort))

		firstPass(t, tree, nil)
		assert.Equal(t, 7, stepAt[*plan.Sort](t, tree, 1).Limit)
		assert.Equal(t, []string{"Limit", "Sort", "ReadFromTable"}, names(tree))
	})
}

func TestRules_MergeExpressions(t *testing.T) {
	tree := plan.NewTree()
	s := tree.Store()
	read := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "t", []string{"b"}))
	inner := s.Add(plan.NewExpression(plan.Assignment{Name: "a", Expr: col("b")}), read)
	tree.SetRoot(s.Add(plan.NewExpression(plan.Assignment{Name: "x", Expr: col("a")}), inner))

	firstPass(t, tree, nil)
	assert.Equal(t, []string{"Expression", "ReadFromTable"}, names(tree))
	expr := stepAt[*plan.Expression](t, tree, 0)
	require.Len(t, expr.Assignments, 1)
	assert.Equal(t, "x", expr.Assignments[0].Name)
	assert.Equal(t, []string{"b"}, expr.Assignments[0].Expr.Columns())
}

func TestRules_MergeFilters(t *testing.T) {
	tree := plan.NewTree()
	s := tree.Store()
	read := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "t", []string{"a", "b"}))
	sort := s.Add(plan.NewSort([]plan.OrderByClause{{Column: "a"}}), read)
	inner := s.Add(plan.NewFilter(eq("b", 2)), sort)
	tree.SetRoot(s.Add(plan.NewFilter(eq("a", 1)), inner))

	stats := firstPass(t, tree, nil)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, []string{"Filter", "Sort", "ReadFromTable"}, names(tree))
	assert.Len(t, plan.Conjuncts(stepAt[*plan.Filter](t, tree, 0).Predicate), 2)
}

func TestRules_FilterPushDown(t *testing.T) {
	t.Run("into read", func(t *testing.T) {
		tree := plan.NewTree()
		s := tree.Store()
		read := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "t", []string{"a", "b"}))
		inner := s.Add(plan.NewFilter(eq("b", 2)), read)
		tree.SetRoot(s.Add(plan.NewFilter(eq("a", 1)), inner))

		firstPass(t, tree, nil)
		assert.Equal(t, []string{"ReadFromTable"}, names(tree))
		assert.Len(t, plan.Conjuncts(stepAt[*plan.ReadFromTable](t, tree, 0).Filter), 2)
	})

	t.Run("column not read", func(t *testing.T) {
		tree := plan.NewTree()
		s := tree.Store()
		read := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "t", []string{"a"}))
		tree.SetRoot(s.Add(plan.NewFilter(eq("z", 1)), read))

		stats := firstPass(t, tree, nil)
		assert.Zero(t, stats.Applied)
		assert.Equal(t, []string{"Filter", "ReadFromTable"}, names(tree))
	})

	t.Run("below expression", func(t *testing.T) {
		tree := plan.NewTree()
		s := tree.Store()
		read := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "t", []string{"a"}))
		sort := s.Add(plan.NewSort([]plan.OrderByClause{{Column: "a"}}), read)
		expr := s.Add(plan.NewExpression(plan.Assignment{Name: "x", Expr: col("a")}), sort)
		tree.SetRoot(s.Add(plan.NewFilter(eq("x", 1)), expr))

		firstPass(t, tree, nil)
		assert.Equal(t, []string{"Expression", "Filter", "Sort", "ReadFromTable"}, names(tree))
		assert.Equal(t, []string{"a"}, stepAt[*plan.Filter](t, tree, 1).Predicate.Columns())
	})

	t.Run("into join inputs", func(t *testing.T) {
		tree := plan.NewTree()
		s := tree.Store()
		left := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "l", []string{"a", "b"}))
		right := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "r", []string{"c", "d"}))
		join := s.Add(plan.NewJoin(plan.InnerJoin, []string{"a"}, []string{"c"}), left, right)
		both := plan.NewComparisonExpr(col("b"), col("d"), plan.LessThan)
		tree.SetRoot(s.Add(plan.NewFilter(plan.And(eq("a", 1), eq("c", 2), both)), join))

		firstPass(t, tree, nil)
		assert.Equal(t, []string{"Filter", "Join", "ReadFromTable", "ReadFromTable"}, names(tree))
		assert.Equal(t, both, stepAt[*plan.Filter](t, tree, 0).Predicate)
		assert.Equal(t, "a = 1", plan.ExprString(stepAt[*plan.ReadFromTable](t, tree, 2).Filter))
		assert.Equal(t, "c = 2", plan.ExprString(stepAt[*plan.ReadFromTable](t, tree, 3).Filter))
	})

	t.Run("not into the right side of a left join", func(t *testing.T) {
		tree := plan.NewTree()
		s := tree.Store()
		left := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "l", []string{"a"}))
		right := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "r", []string{"c"}))
		join := s.Add(plan.NewJoin(plan.LeftJoin, []string{"a"}, []string{"c"}), left, right)
		tree.SetRoot(s.Add(plan.NewFilter(eq("c", 2)), join))

		settings := optimizer.NewSettings()
		settings.ConvertOuterJoinToInner = false
		stats := firstPass(t, tree, settings)
		assert.Zero(t, stats.Applied)
		assert.Equal(t, []string{"Filter", "Join", "ReadFromTable", "ReadFromTable"}, names(tree))
	})
}

func TestRules_ConvertOuterJoinToInner(t *testing.T) {
	tree := plan.NewTree()
	s := tree.Store()
	left := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "l", []string{"a"}))
	right := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "r", []string{"c", "d"}))
	join := s.Add(plan.NewJoin(plan.LeftJoin, []string{"a"}, []string{"c"}), left, right)
	tree.SetRoot(s.Add(plan.NewFilter(&plan.IsNullExpr{Child: col("d"), Negated: true}), join))

	firstPass(t, tree, nil)
	assert.Equal(t, []string{"Join", "ReadFromTable", "ReadFromTable"}, names(tree))
	assert.Equal(t, plan.InnerJoin, stepAt[*plan.Join](t, tree, 0).Kind)
	assert.Equal(t, "d IS NOT NULL", plan.ExprString(stepAt[*plan.ReadFromTable](t, tree, 2).Filter))
}

func TestRules_RejectsNull(t *testing.T) {
	right := []string{"c"}
	tests := []struct {
		name string
		expr plan.Expr
		want bool
	}{
		{name: "comparison", expr: eq("c", 1), want: true},
		{name: "left column", expr: eq("a", 1), want: false},
		{name: "is not null", expr: &plan.IsNullExpr{Child: col("c"), Negated: true}, want: true},
		{name: "is null", expr: &plan.IsNullExpr{Child: col("c")}, want: false},
		{name: "or with one side", expr: plan.NewLogicExpr(eq("c", 1), eq("a", 1), plan.LogicOr), want: false},
		{name: "or with both sides", expr: plan.NewLogicExpr(eq("c", 1), eq("c", 2), plan.LogicOr), want: true},
		{name: "not", expr: plan.NewNotExpr(eq("c", 1)), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rejectsNull(tt.expr, right))
		})
	}
}

func TestRules_RemoveRedundantSorting(t *testing.T) {
	build := func(top plan.Step, innerLimit int) *plan.Tree {
		tree := plan.NewTree()
		s := tree.Store()
		read := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "t", []string{"a", "b"}))
		inner := plan.NewSort([]plan.OrderByClause{{Column: "a"}})
		inner.Limit = innerLimit
		sort := s.Add(inner, read)
		tree.SetRoot(s.Add(top, sort))
		return tree
	}

	tree := build(plan.NewSort([]plan.OrderByClause{{Column: "b"}}), 0)
	firstPass(t, tree, nil)
	assert.Equal(t, []string{"Sort", "ReadFromTable"}, names(tree))
	assert.Equal(t, "b", stepAt[*plan.Sort](t, tree, 0).OrderBy[0].Column)

	tree = build(plan.NewAggregate([]string{"a"}, []plan.AggregateClause{{Type: plan.AggCount}}), 0)
	firstPass(t, tree, nil)
	assert.Equal(t, []string{"Aggregate", "ReadFromTable"}, names(tree))

	tree = build(plan.NewSort([]plan.OrderByClause{{Column: "b"}}), 10)
	stats := firstPass(t, tree, nil)
	assert.Zero(t, stats.Applied)
	assert.Equal(t, []string{"Sort", "Sort", "ReadFromTable"}, names(tree))
}

func TestRules_RemoveRedundantDistinct(t *testing.T) {
	tests := []struct {
		name  string
		inner plan.Step
		outer []string
		want  []string
	}{
		{name: "wider distinct", inner: plan.NewDistinct([]string{"a"}), outer: []string{"a", "b"}, want: []string{"Distinct", "ReadFromTable"}},
		{name: "narrower distinct", inner: plan.NewDistinct([]string{"a", "b"}), outer: []string{"a"}, want: []string{"Distinct", "Distinct", "ReadFromTable"}},
		{name: "over aggregate", inner: plan.NewAggregate([]string{"a"}, nil), outer: []string{"a", "b"}, want: []string{"Aggregate", "ReadFromTable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := plan.NewTree()
			s := tree.Store()
			read := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "t", []string{"a", "b"}))
			inner := s.Add(tt.inner, read)
			tree.SetRoot(s.Add(plan.NewDistinct(tt.outer), inner))

			firstPass(t, tree, nil)
			assert.Equal(t, tt.want, names(tree))
		})
	}
}

func TestRules_FixedPoint(t *testing.T) {
	tree := plan.NewTree()
	s := tree.Store()
	left := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "l", []string{"a", "b"}))
	right := s.Add(plan.NewReadFromTable(common.InvalidObjectID, "r", []string{"c", "d"}))
	join := s.Add(plan.NewJoin(plan.LeftJoin, []string{"a"}, []string{"c"}), left, right)
	f1 := s.Add(plan.NewFilter(eq("d", 4)), join)
	f2 := s.Add(plan.NewFilter(eq("a", 1)), f1)
	expr := s.Add(plan.NewExpression(plan.Assignment{Name: "a", Expr: col("a")}, plan.Assignment{Name: "d", Expr: col("d")}), f2)
	sort := s.Add(plan.NewSort([]plan.OrderByClause{{Column: "a"}}), expr)
	tree.SetRoot(s.Add(plan.NewLimit(3), sort))

	stats := firstPass(t, tree, nil)
	assert.Greater(t, stats.Applied, 0)
	first := tree.Explain()

	stats = firstPass(t, tree, nil)
	assert.Zero(t, stats.Applied)
	assert.Equal(t, first, tree.Explain())
}
