package planopt

import (
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"mit.edu/dsg/planopt/catalog"
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
	"mit.edu/dsg/planopt/rules"
)

// PlanOpt is the top-level container wiring the catalog, the rewrite rules and the
// optimizer driver together.
type PlanOpt struct {
	Catalog   *catalog.Catalog
	Rewriter  *rules.Rewriter
	Optimizer *optimizer.Optimizer
}

// New builds a PlanOpt over cat. cat may be nil, in which case plans read unknown tables
// and the catalog-driven rewrites do nothing.
func New(cat *catalog.Catalog) *PlanOpt {
	rewriter := rules.NewRewriter(cat)
	return &PlanOpt{
		Catalog:   cat,
		Rewriter:  rewriter,
		Optimizer: optimizer.New(rules.NewCatalog(), rewriter),
	}
}

// Open loads the catalog stored in catalogDir. An empty directory yields an empty catalog.
func Open(catalogDir string) (*PlanOpt, error) {
	if err := os.MkdirAll(catalogDir, 0755); err != nil {
		return nil, err
	}
	cat, err := catalog.NewCatalog(catalog.NewDiskCatalogManager(catalogDir))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open catalog in %s", catalogDir)
	}
	return New(cat), nil
}

func (p *PlanOpt) WithLogger(log *zap.Logger) {
	p.Optimizer.WithLogger(log)
	p.Rewriter.WithLogger(log)
}

// PrometheusCollectors returns the collectors of the optimizer metrics.
func (p *PlanOpt) PrometheusCollectors() []prometheus.Collector {
	return p.Optimizer.Metrics().PrometheusCollectors()
}

// DecodePlan builds a plan from its YAML description, resolving tables in the catalog.
func (p *PlanOpt) DecodePlan(data []byte) (*plan.Tree, error) {
	var tables plan.TableResolver
	if p.Catalog != nil {
		tables = p.Catalog
	}
	return plan.DecodeYAML(data, tables)
}

// Optimize decodes the YAML plan in data and optimizes it with settings.
func (p *PlanOpt) Optimize(data []byte, settings *optimizer.Settings) (*plan.Tree, *optimizer.Stats, error) {
	tree, err := p.DecodePlan(data)
	if err != nil {
		return nil, nil, err
	}
	stats, err := p.Optimizer.Optimize(tree, settings)
	return tree, stats, err
}
