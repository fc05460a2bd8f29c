// Package rules holds the rewrite rules of the plan optimizer: the first-pass rule catalog,
// applied bottom-up to a fixed point, and the Rewriter that implements the ordered
// second-pass rewrites.
package rules

import (
	"mit.edu/dsg/planopt/optimizer"
)

// Rules returns the first-pass rules in application order.
func Rules() []*optimizer.Rule {
	return []*optimizer.Rule{
		{
			Name:    "pushDownLimit",
			Enabled: func(s *optimizer.Settings) bool { return s.PushDownLimit },
			Apply:   tryPushDownLimit,
		},
		{
			Name:    "mergeExpressions",
			Enabled: func(s *optimizer.Settings) bool { return s.MergeExpressions },
			Apply:   tryMergeExpressions,
		},
		{
			Name:    "mergeFilters",
			Enabled: func(s *optimizer.Settings) bool { return s.MergeFilters },
			Apply:   tryMergeFilters,
		},
		{
			Name:    "filterPushDown",
			Enabled: func(s *optimizer.Settings) bool { return s.FilterPushDown },
			Apply:   tryPushDownFilter,
		},
		{
			Name:    "removeRedundantSorting",
			Enabled: func(s *optimizer.Settings) bool { return s.RemoveRedundantSorting },
			Apply:   tryRemoveRedundantSorting,
		},
		{
			Name:    "removeRedundantDistinct",
			Enabled: func(s *optimizer.Settings) bool { return s.RemoveRedundantDistinct },
			Apply:   tryRemoveRedundantDistinct,
		},
		{
			Name:    "convertOuterJoinToInner",
			Enabled: func(s *optimizer.Settings) bool { return s.ConvertOuterJoinToInner },
			Apply:   tryConvertOuterJoinToInner,
		},
	}
}

// NewCatalog returns a fresh catalog holding Rules.
func NewCatalog() *optimizer.RuleCatalog {
	c := optimizer.NewRuleCatalog()
	c.MustRegister(Rules()...)
	return c
}

func init() {
	optimizer.DefaultRules.MustRegister(Rules()...)
}
