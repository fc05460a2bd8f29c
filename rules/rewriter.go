package rules

import (
	"go.uber.org/zap"
	"mit.edu/dsg/planopt/catalog"
	"mit.edu/dsg/planopt/common"
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// Rewriter implements the second-pass rewrites. Decisions that depend on table layout
// (primary keys, projections, row counts, shards) are taken from Catalog; a nil Catalog
// disables them.
type Rewriter struct {
	Catalog *catalog.Catalog
	Logger  *zap.Logger
}

var _ optimizer.Rewrites = (*Rewriter)(nil)

func NewRewriter(c *catalog.Catalog) *Rewriter {
	return &Rewriter{Catalog: c, Logger: zap.NewNop()}
}

func (r *Rewriter) WithLogger(log *zap.Logger) {
	r.Logger = log.With(zap.String("service", "rewriter"))
}

func (r *Rewriter) table(oid common.ObjectID) (*catalog.Table, bool) {
	if r.Catalog == nil || oid == common.InvalidObjectID {
		return nil, false
	}
	t, err := r.Catalog.GetTableByOid(oid)
	if err != nil {
		return nil, false
	}
	return t, true
}

// walk calls fn for every node reachable from the root, parents before children.
func walk(tree *plan.Tree, fn func(id plan.NodeID)) {
	for _, id := range tree.Reachable() {
		fn(id)
	}
}
