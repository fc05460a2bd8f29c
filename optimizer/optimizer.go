package optimizer

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
	"mit.edu/dsg/planopt/plan"
)

// Optimizer rewrites plan trees in place. It runs the rule catalog to a fixed point (first
// pass), then the ordered second-pass rewrites, then builds delayed sets. An Optimizer holds
// no per-plan state and may be shared by concurrent optimizations of different plans.
type Optimizer struct {
	Logger *zap.Logger

	rules    *RuleCatalog
	rewrites Rewrites
	metrics  *Metrics
}

// New returns an optimizer over the given rule catalog and second-pass rewrites. A nil
// catalog uses DefaultRules; nil rewrites leave the second pass without effect.
func New(rules *RuleCatalog, rewrites Rewrites) *Optimizer {
	if rules == nil {
		rules = DefaultRules
	}
	if rewrites == nil {
		rewrites = NopRewrites{}
	}
	return &Optimizer{
		Logger:   zap.NewNop(),
		rules:    rules,
		rewrites: rewrites,
		metrics:  NewMetrics(),
	}
}

func (o *Optimizer) WithLogger(log *zap.Logger) {
	o.Logger = log.With(zap.String("service", "optimizer"))
}

func (o *Optimizer) Metrics() *Metrics {
	return o.metrics
}

// Stats describes what one Optimize call did.
type Stats struct {
	RunID string
	// Applied counts first-pass rule applications that changed the plan.
	Applied int
	// SubplanApplied counts the same for the local sub-plans spliced into the plan.
	SubplanApplied int
	// Projections lists the distinct projections used by the plan and its sub-plans,
	// sorted by name.
	Projections []string
	Splices     int
	SetsBuilt   []string
	// Explained is set when the first pass stopped at the budget in explain mode.
	Explained bool
}

// run is the state of one optimization. Nested optimizations of sub-plans get their own.
type run struct {
	id       string
	settings *Settings
	logger   *zap.Logger

	applied        int
	subplanApplied int
	budgetStopped  bool
	projections    btree.Set[string]
	subplanProjs   btree.Set[string]
	readsTable     bool
	splices        int
	sets           []string
}

func (o *Optimizer) newRun(settings *Settings, parent *run) *run {
	r := &run{id: uuid.NewString(), settings: settings}
	if parent == nil {
		r.logger = o.Logger.With(zap.String("run_id", r.id))
	} else {
		r.logger = parent.logger.With(zap.String("subplan_run_id", r.id))
	}
	return r
}

// Optimize rewrites tree in place. A nil settings uses NewSettings.
func (o *Optimizer) Optimize(tree *plan.Tree, settings *Settings) (*Stats, error) {
	if settings == nil {
		settings = NewSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	r := o.newRun(settings, nil)
	err := o.optimize(r, tree)
	o.metrics.OptimizeDuration.Observe(time.Since(start).Seconds())

	stats := &Stats{
		RunID:          r.id,
		Applied:        r.applied,
		SubplanApplied: r.subplanApplied,
		Projections:    r.usedProjections(),
		Splices:        r.splices,
		SetsBuilt:      r.sets,
		Explained:      r.budgetStopped,
	}
	if err != nil {
		r.logger.Debug("Plan optimization failed", zap.Error(err))
		return stats, err
	}
	r.logger.Info("Optimized plan",
		zap.Int("applied", stats.Applied),
		zap.Strings("projections", stats.Projections),
		zap.Int("splices", stats.Splices),
		zap.Duration("duration", time.Since(start)))
	return stats, nil
}

func (o *Optimizer) optimize(r *run, tree *plan.Tree) error {
	if tree == nil || tree.Empty() {
		return nil
	}
	if err := tree.Validate(); err != nil {
		return errors.Wrap(err, "plan to optimize is malformed")
	}
	if err := o.firstPass(r, tree); err != nil {
		return err
	}
	if err := o.secondPass(r, tree); err != nil {
		return err
	}
	if r.settings.BuildSets {
		if err := o.buildSets(r, tree); err != nil {
			return err
		}
	}
	return errors.Wrap(tree.Validate(), "optimized plan is malformed")
}

// optimizeSubplan runs the whole pipeline on a plan extracted from a node of r's plan.
func (o *Optimizer) optimizeSubplan(r *run, sub *plan.Tree) error {
	child := o.newRun(r.settings, r)
	err := o.optimize(child, sub)
	r.subplanApplied += child.applied + child.subplanApplied
	r.splices += child.splices
	for _, set := range []*btree.Set[string]{&child.projections, &child.subplanProjs} {
		set.Scan(func(name string) bool {
			r.subplanProjs.Insert(name)
			return true
		})
	}
	return err
}

// usedProjections merges the projections of the plan and of its spliced sub-plans.
func (r *run) usedProjections() []string {
	var all btree.Set[string]
	for _, set := range []*btree.Set[string]{&r.projections, &r.subplanProjs} {
		set.Scan(func(name string) bool {
			all.Insert(name)
			return true
		})
	}
	return all.Keys()
}
