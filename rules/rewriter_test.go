package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/planopt/catalog"
	"mit.edu/dsg/planopt/common"
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// testCatalog holds
//
//	orders(id, customer, amount, note) primary key (id), 1M rows in 4 shards
//	customers(id, name) primary key (id), 1000 rows in 4 shards
//
// and two projections of orders: by_customer (all columns sorted by customer) and
// amount_per_customer (sum(amount), count() grouped by customer).
func testCatalog(t *testing.T) *catalog.Catalog {
	provider := &catalog.MemoryCatalogManager{}
	cat, err := catalog.NewCatalog(provider)
	require.NoError(t, err)

	_, err = cat.AddTable("orders", []catalog.Column{
		{Name: "id", Type: common.IntType},
		{Name: "customer", Type: common.IntType},
		{Name: "amount", Type: common.IntType},
		{Name: "note", Type: common.StringType},
	}, []string{"id"}, provider)
	require.NoError(t, err)
	_, err = cat.AddTable("customers", []catalog.Column{
		{Name: "id", Type: common.IntType},
		{Name: "name", Type: common.StringType},
	}, []string{"id"}, provider)
	require.NoError(t, err)

	require.NoError(t, cat.SetTableStats("orders", 1000000, 4, provider))
	require.NoError(t, cat.SetTableStats("customers", 1000, 4, provider))

	_, err = cat.AddProjection("orders", catalog.Projection{
		Name:    "by_customer",
		Kind:    catalog.NormalProjection,
		Columns: []string{"id", "customer", "amount", "note"},
		OrderBy: []string{"customer"},
	}, provider)
	require.NoError(t, err)
	_, err = cat.AddProjection("orders", catalog.Projection{
		Name:       "amount_per_customer",
		Kind:       catalog.AggregateProjection,
		GroupBy:    []string{"customer"},
		Aggregates: []string{"sum(amount)", "count()"},
	}, provider)
	require.NoError(t, err)
	return cat
}

func optimizeYAML(t *testing.T, cat *catalog.Catalog, src string, settings *optimizer.Settings) (*plan.Tree, *optimizer.Stats, error) {
	var tables plan.TableResolver
	if cat != nil {
		tables = cat
	}
	tree, err := plan.DecodeYAML([]byte(src), tables)
	require.NoError(t, err)
	stats, err := optimizer.New(NewCatalog(), NewRewriter(cat)).Optimize(tree, settings)
	return tree, stats, err
}

func mustOptimizeYAML(t *testing.T, cat *catalog.Catalog, src string, settings *optimizer.Settings) (*plan.Tree, *optimizer.Stats) {
	tree, stats, err := optimizeYAML(t, cat, src, settings)
	require.NoError(t, err)
	return tree, stats
}

func keyConditionStrings(read *plan.ReadFromTable) []string {
	var out []string
	for _, k := range read.KeyCondition {
		out = append(out, k.String())
	}
	return out
}

func TestRewriter_AggregateProjections(t *testing.T) {
	cat := testCatalog(t)

	t.Run("stored aggregates", func(t *testing.T) {
		tree, stats := mustOptimizeYAML(t, cat, `
step: aggregate
group_by: [customer]
aggregates: ["sum(amount)", "count()"]
children:
  - step: read
    table: orders
    columns: [customer, amount]
`, nil)
		assert.Equal(t, []string{"amount_per_customer"}, stats.Projections)
		assert.Equal(t, "amount_per_customer", stepAt[*plan.ReadFromTable](t, tree, 1).Projection)
	})

	t.Run("aggregate not stored", func(t *testing.T) {
		tree, stats := mustOptimizeYAML(t, cat, `
step: aggregate
group_by: [customer]
aggregates: ["max(amount)"]
children:
  - step: read
    table: orders
    columns: [customer, amount]
`, nil)
		assert.Empty(t, stats.Projections)
		assert.Empty(t, stepAt[*plan.ReadFromTable](t, tree, 1).Projection)
	})

	t.Run("implicit count", func(t *testing.T) {
		src := `
step: aggregate
aggregates: ["count()"]
children:
  - step: read
    table: customers
    columns: [id]
`
		_, stats := mustOptimizeYAML(t, cat, src, nil)
		assert.Equal(t, []string{ImplicitCountProjection}, stats.Projections)

		settings := optimizer.NewSettings()
		settings.OptimizeUseImplicitProjections = false
		_, stats = mustOptimizeYAML(t, cat, src, settings)
		assert.Empty(t, stats.Projections)
	})
}

const filterByCustomer = `
step: filter
where:
  - {column: customer, op: "=", int: 5}
children:
  - step: read
    table: orders
    columns: [id, customer, amount]
`

func TestRewriter_NormalProjections(t *testing.T) {
	cat := testCatalog(t)

	tree, stats := mustOptimizeYAML(t, cat, filterByCustomer, nil)
	assert.Equal(t, []string{"ReadFromTable"}, names(tree))
	read := stepAt[*plan.ReadFromTable](t, tree, 0)
	assert.Equal(t, "by_customer", read.Projection)
	assert.Equal(t, []string{"customer = 5"}, keyConditionStrings(read))
	assert.Equal(t, []string{"by_customer"}, stats.Projections)

	t.Run("primary key constrained", func(t *testing.T) {
		_, stats := mustOptimizeYAML(t, cat, `
step: read
table: orders
columns: [id, customer]
where:
  - {column: id, op: "=", int: 1}
  - {column: customer, op: "=", int: 5}
`, nil)
		assert.Empty(t, stats.Projections)
	})

	t.Run("forced projection", func(t *testing.T) {
		settings := optimizer.NewSettings()
		settings.ForceProjectionName = "by_customer"
		_, _, err := optimizeYAML(t, cat, filterByCustomer, settings)
		assert.NoError(t, err)

		settings.ForceProjectionName = "amount_per_customer"
		_, _, err = optimizeYAML(t, cat, filterByCustomer, settings)
		assert.True(t, common.IsCode(err, common.RequiredProjectionMissingError), "got %v", err)
	})
}

func TestRewriter_PrimaryKeyConditionAndLimit(t *testing.T) {
	cat := testCatalog(t)

	t.Run("key condition", func(t *testing.T) {
		tree, _ := mustOptimizeYAML(t, cat, `
step: filter
where:
  - {column: id, op: ">=", int: 100}
  - {column: amount, op: ">", int: 7}
children:
  - step: read
    table: orders
    columns: [id, amount]
`, nil)
		read := stepAt[*plan.ReadFromTable](t, tree, 0)
		assert.Equal(t, []string{"id >= 100"}, keyConditionStrings(read))
		assert.Zero(t, read.Limit)
	})

	t.Run("limit", func(t *testing.T) {
		tree, _ := mustOptimizeYAML(t, cat, `
step: limit
limit: 10
children:
  - step: read
    table: orders
    columns: [id, amount]
`, nil)
		assert.Equal(t, 10, stepAt[*plan.ReadFromTable](t, tree, 1).Limit)
	})
}

func TestRewriter_Prewhere(t *testing.T) {
	cat := testCatalog(t)
	settings := optimizer.NewSettings()
	settings.FilterPushDown = false
	settings.OptimizeProjection = false

	tree, _ := mustOptimizeYAML(t, cat, filterByCustomer, settings)
	assert.Equal(t, []string{"ReadFromTable"}, names(tree))
	read := stepAt[*plan.ReadFromTable](t, tree, 0)
	assert.Equal(t, "customer = 5", plan.ExprString(read.Prewhere))
	assert.Nil(t, read.Filter)

	settings.OptimizePrewhere = false
	tree, _ = mustOptimizeYAML(t, cat, filterByCustomer, settings)
	assert.Equal(t, []string{"Filter", "ReadFromTable"}, names(tree))
}

func TestRewriter_QueryConditionCache(t *testing.T) {
	cat := testCatalog(t)
	settings := optimizer.NewSettings()
	settings.UseQueryConditionCache = true
	settings.OptimizeProjection = false

	tree, err := plan.DecodeYAML([]byte(filterByCustomer), cat)
	require.NoError(t, err)
	opt := optimizer.New(NewCatalog(), NewRewriter(cat))
	_, err = opt.Optimize(tree, settings)
	require.NoError(t, err)
	read := stepAt[*plan.ReadFromTable](t, tree, 0)
	key := read.ConditionCacheKey
	assert.NotZero(t, key)
	require.NotNil(t, read.Prewhere)

	// the condition now sits in the prewhere
	_, err = opt.Optimize(tree, settings)
	require.NoError(t, err)
	assert.Equal(t, key, stepAt[*plan.ReadFromTable](t, tree, 0).ConditionCacheKey)

	settings.UseQueryConditionCache = false
	tree, _ = mustOptimizeYAML(t, cat, filterByCustomer, settings)
	assert.Zero(t, stepAt[*plan.ReadFromTable](t, tree, 0).ConditionCacheKey)
}

func TestRewriter_QueryConditionCacheFilterAboveRead(t *testing.T) {
	cat := testCatalog(t)
	settings := optimizer.NewSettings()
	settings.UseQueryConditionCache = true
	settings.OptimizeProjection = false
	tree, _ := mustOptimizeYAML(t, cat, filterByCustomer, settings)
	pushed := stepAt[*plan.ReadFromTable](t, tree, 0).ConditionCacheKey
	require.NotZero(t, pushed)

	settings.FilterPushDown = false
	tree, _ = mustOptimizeYAML(t, cat, filterByCustomer, settings)
	assert.Equal(t, []string{"ReadFromTable"}, names(tree))
	read := stepAt[*plan.ReadFromTable](t, tree, 0)
	assert.Equal(t, "customer = 5", plan.ExprString(read.Prewhere))
	assert.Equal(t, pushed, read.ConditionCacheKey)

	settings.OptimizePrewhere = false
	tree, _ = mustOptimizeYAML(t, cat, filterByCustomer, settings)
	assert.Equal(t, []string{"Filter", "ReadFromTable"}, names(tree))
	assert.Equal(t, pushed, stepAt[*plan.ReadFromTable](t, tree, 1).ConditionCacheKey)
}

func TestRewriter_OptimizeJoinLogicalSwapsInputs(t *testing.T) {
	cat := testCatalog(t)
	tree, err := plan.DecodeYAML([]byte(`
step: join
logical: true
left_keys: [id]
right_keys: [customer]
children:
  - {step: read, table: customers, columns: [id, name]}
  - {step: read, table: orders, columns: [customer, amount]}
`), cat)
	require.NoError(t, err)
	store := tree.Store()
	root := tree.Root()
	left, right := store.Child(root, 0), store.Child(root, 1)

	estimate := NewRewriter(cat).OptimizeJoinLogical(root, store, optimizer.NewSettings())
	require.NotNil(t, estimate)
	assert.True(t, estimate.Swapped)
	assert.Equal(t, []plan.NodeID{right, left}, store.Children(root))
	assert.NoError(t, tree.Validate())
}

func TestRewriter_HashTableCacheKeys(t *testing.T) {
	cat := testCatalog(t)
	settings := optimizer.NewSettings()
	settings.OptimizeProjection = false

	tree, _ := mustOptimizeYAML(t, cat, `
step: union
children:
  - step: aggregate
    group_by: [customer]
    aggregates: ["count()"]
    children:
      - {step: read, table: orders, columns: [customer]}
  - step: aggregate
    group_by: [customer]
    aggregates: ["count()"]
    children:
      - {step: read, table: orders, columns: [customer]}
  - step: aggregate
    group_by: [id]
    aggregates: ["count()"]
    children:
      - {step: read, table: orders, columns: [id]}
`, settings)
	first := stepAt[*plan.Aggregate](t, tree, 1).CacheKey
	assert.NotZero(t, first)
	assert.Equal(t, first, stepAt[*plan.Aggregate](t, tree, 3).CacheKey)
	assert.NotEqual(t, first, stepAt[*plan.Aggregate](t, tree, 5).CacheKey)
}

func TestRewriter_LazyMaterialization(t *testing.T) {
	cat := testCatalog(t)
	src := `
step: limit
limit: 5
children:
  - step: sort
    order_by: [{column: amount}]
    children:
      - step: read
        table: orders
        columns: [id, customer, amount, note]
`
	tree, _ := mustOptimizeYAML(t, cat, src, nil)
	assert.Equal(t, []string{"JoinLazyColumns", "Limit", "Sort", "ReadFromTable", "LazilyReadFromTable"}, names(tree))
	assert.Equal(t, []string{"amount"}, stepAt[*plan.ReadFromTable](t, tree, 3).Columns)
	assert.Equal(t, []string{"id", "customer", "note"}, stepAt[*plan.LazilyReadFromTable](t, tree, 4).Columns)
	assert.Equal(t, 5, stepAt[*plan.Sort](t, tree, 2).Limit)

	settings := optimizer.NewSettings()
	settings.MaxLimitForLazyMaterialization = 3
	tree, _ = mustOptimizeYAML(t, cat, src, settings)
	assert.Equal(t, []string{"Limit", "Sort", "ReadFromTable"}, names(tree))
}

func TestRewriter_Joins(t *testing.T) {
	cat := testCatalog(t)

	tests := []struct {
		name     string
		src      string
		settings func(*optimizer.Settings)
		strategy plan.JoinStrategy
		check    func(t *testing.T, tree *plan.Tree, j *plan.Join)
	}{
		{
			name: "logical join builds on the smaller side",
			src: `
step: join
logical: true
left_keys: [id]
right_keys: [customer]
children:
  - {step: read, table: customers, columns: [id, name]}
  - {step: read, table: orders, columns: [customer, amount]}
`,
			strategy: plan.HashJoin,
			check: func(t *testing.T, tree *plan.Tree, j *plan.Join) {
				assert.True(t, j.Swapped)
				assert.Equal(t, []string{"customer"}, j.LeftKeys)
				assert.Equal(t, "orders", stepAt[*plan.ReadFromTable](t, tree, 1).Table)
				assert.Equal(t, "customers", stepAt[*plan.ReadFromTable](t, tree, 2).Table)
			},
		},
		{
			name: "sorted inputs merge by shards",
			src: `
step: join
logical: true
left_keys: [id]
right_keys: [id]
children:
  - {step: read, table: orders, columns: [id, amount]}
  - {step: read, table: customers, columns: [id, name]}
`,
			settings: func(s *optimizer.Settings) { s.JoinShardByPKRanges = true },
			strategy: plan.FullSortingMergeJoin,
			check: func(t *testing.T, tree *plan.Tree, j *plan.Join) {
				assert.False(t, j.Swapped)
				assert.True(t, j.InputsSorted)
				assert.Equal(t, 4, j.Shards)
				assert.Equal(t, plan.ReadAscending, stepAt[*plan.ReadFromTable](t, tree, 1).Order)
				assert.Equal(t, plan.ReadAscending, stepAt[*plan.ReadFromTable](t, tree, 2).Order)
			},
		},
		{
			name: "forced hash algorithm",
			src: `
step: join
logical: true
left_keys: [id]
right_keys: [id]
children:
  - {step: read, table: orders, columns: [id, amount]}
  - {step: read, table: customers, columns: [id, name]}
`,
			settings: func(s *optimizer.Settings) { s.JoinAlgorithm = optimizer.JoinAlgorithmHash },
			strategy: plan.HashJoin,
			check: func(t *testing.T, tree *plan.Tree, j *plan.Join) {
				assert.Zero(t, j.Shards)
			},
		},
		{
			name: "index lookup",
			src: `
step: join
left_keys: [customer]
right_keys: [id]
children:
  - {step: read, table: orders, columns: [customer, amount]}
  - {step: read, table: customers, columns: [id, name]}
`,
			strategy: plan.IndexNestedLoopJoin,
		},
		{
			name: "index lookup disabled",
			src: `
step: join
left_keys: [customer]
right_keys: [id]
children:
  - {step: read, table: orders, columns: [customer, amount]}
  - {step: read, table: customers, columns: [id, name]}
`,
			settings: func(s *optimizer.Settings) { s.UseIndexForJoin = false },
			strategy: plan.HashJoin,
		},
		{
			name: "no keys",
			src: `
step: join
children:
  - {step: read, table: orders, columns: [customer, amount]}
  - {step: read, table: customers, columns: [id, name]}
`,
			strategy: plan.NestedLoopJoin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := optimizer.NewSettings()
			if tt.settings != nil {
				tt.settings(settings)
			}
			tree, _ := mustOptimizeYAML(t, cat, tt.src, settings)
			j := stepAt[*plan.Join](t, tree, 0)
			assert.Equal(t, tt.strategy, j.Strategy)
			assert.False(t, j.Logical)
			if tt.check != nil {
				tt.check(t, tree, j)
			}
		})
	}
}

func TestRewriter_ReadInOrder(t *testing.T) {
	cat := testCatalog(t)
	src := `
step: sort
order_by: [{column: id, desc: true}, {column: amount}]
children:
  - {step: read, table: orders, columns: [id, amount]}
`
	tree, _ := mustOptimizeYAML(t, cat, src, nil)
	assert.Equal(t, plan.ReadDescending, stepAt[*plan.ReadFromTable](t, tree, 1).Order)
	assert.Equal(t, 1, stepAt[*plan.Sort](t, tree, 0).PrefixSorted)

	settings := optimizer.NewSettings()
	settings.ReadInOrder = false
	tree, _ = mustOptimizeYAML(t, cat, src, settings)
	assert.Equal(t, plan.ReadUnordered, stepAt[*plan.ReadFromTable](t, tree, 1).Order)
	assert.Zero(t, stepAt[*plan.Sort](t, tree, 0).PrefixSorted)
}

func TestRewriter_InOrderAggregation(t *testing.T) {
	cat := testCatalog(t)

	tree, _ := mustOptimizeYAML(t, cat, `
step: distinct
columns: [id, amount]
children:
  - {step: read, table: orders, columns: [id, amount]}
`, nil)
	assert.True(t, stepAt[*plan.Distinct](t, tree, 0).InOrder)
	assert.Equal(t, plan.ReadAscending, stepAt[*plan.ReadFromTable](t, tree, 1).Order)

	settings := optimizer.NewSettings()
	settings.AggregationInOrder = true
	tree, _ = mustOptimizeYAML(t, cat, `
step: aggregate
group_by: [id]
aggregates: ["max(amount)"]
children:
  - {step: read, table: orders, columns: [id, amount]}
`, settings)
	assert.True(t, stepAt[*plan.Aggregate](t, tree, 0).InOrder)
	assert.Equal(t, plan.ReadAscending, stepAt[*plan.ReadFromTable](t, tree, 1).Order)
}

func TestRewriter_BuildSets(t *testing.T) {
	cat := testCatalog(t)

	t.Run("duplicate keys in one node", func(t *testing.T) {
		tree, stats := mustOptimizeYAML(t, cat, `
step: delayed_sets
sets:
  - key: s1
    plan: {step: read, table: customers, columns: [id]}
  - key: s2
    plan: {step: read, table: customers, columns: [name]}
  - key: s1
    plan: {step: read, table: customers, columns: [id]}
children:
  - {step: read, table: orders, columns: [id]}
`, nil)
		assert.Equal(t, []string{
			"CreatingSets", "ReadFromTable", "CreatingSet", "ReadFromTable", "CreatingSet", "ReadFromTable",
		}, names(tree))
		assert.Equal(t, []string{"s1", "s2"}, stats.SetsBuilt)
	})

	t.Run("set built by an earlier node", func(t *testing.T) {
		tree, stats := mustOptimizeYAML(t, cat, `
step: union
children:
  - step: delayed_sets
    sets:
      - key: s1
        plan: {step: read, table: customers, columns: [id]}
    children:
      - {step: read, table: orders, columns: [id]}
  - step: delayed_sets
    sets:
      - key: s1
        plan: {step: read, table: customers, columns: [id]}
    children:
      - {step: read, table: customers, columns: [name]}
`, nil)
		assert.Equal(t, []string{
			"Union", "CreatingSets", "ReadFromTable", "CreatingSet", "ReadFromTable", "ReadFromTable",
		}, names(tree))
		assert.Equal(t, []string{"name"}, stepAt[*plan.ReadFromTable](t, tree, 5).Columns)
		assert.Equal(t, []string{"s1"}, stats.SetsBuilt)
	})

	t.Run("disabled", func(t *testing.T) {
		settings := optimizer.NewSettings()
		settings.BuildSets = false
		tree, stats := mustOptimizeYAML(t, cat, `
step: delayed_sets
sets:
  - key: s1
    plan: {step: read, table: customers, columns: [id]}
children:
  - {step: read, table: orders, columns: [id]}
`, settings)
		assert.Equal(t, []string{"DelayedCreatingSets", "ReadFromTable"}, names(tree))
		assert.Empty(t, stats.SetsBuilt)
	})
}

func TestRewriter_LocalReplica(t *testing.T) {
	cat := testCatalog(t)
	tree, stats := mustOptimizeYAML(t, cat, `
step: union
children:
  - step: local_replica
    table: orders
    subplan:
      step: filter
      where:
        - {column: id, op: "<", int: 50}
      children:
        - {step: read, table: orders, columns: [id, amount]}
  - {step: remote, replicas: 2}
`, nil)
	assert.Equal(t, 1, stats.Splices)
	assert.Greater(t, stats.SubplanApplied, 0)
	assert.Equal(t, []string{"Union", "ReadFromTable", "ReadFromRemote"}, names(tree))
	assert.Equal(t, []string{"id < 50"}, keyConditionStrings(stepAt[*plan.ReadFromTable](t, tree, 1)))
}

func TestRewriter_NilCatalog(t *testing.T) {
	tree, stats := mustOptimizeYAML(t, nil, `
step: join
logical: true
left_keys: [a]
right_keys: [b]
children:
  - {step: read, table: l, columns: [a]}
  - {step: read, table: r, columns: [b]}
`, nil)
	assert.Equal(t, plan.HashJoin, stepAt[*plan.Join](t, tree, 0).Strategy)
	assert.Empty(t, stats.Projections)
}
