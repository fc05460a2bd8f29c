package optimizer

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/planopt/common"
	"mit.edu/dsg/planopt/plan"
)

// ApplyFunc tries a rewrite at node and returns how many levels below (and including) node
// it changed. Zero means nothing changed. A rule may reshape the subtree rooted at node via
// the store, but must leave every reachable handle valid.
type ApplyFunc func(node plan.NodeID, store *plan.Store, extra ExtraSettings) int

// Rule is one entry of the first-pass catalog.
type Rule struct {
	Name string
	// Enabled returns the settings flag that turns the rule on. A nil Enabled means the
	// rule is always on.
	Enabled func(*Settings) bool
	Apply   ApplyFunc
}

func (r *Rule) enabled(s *Settings) bool {
	if r.Apply == nil {
		return false
	}
	return r.Enabled == nil || r.Enabled(s)
}

// RuleCatalog is an ordered list of rules. Registration order is the order in which the
// rules are tried at a node. Catalogs are registered into once, at start up, and then read
// concurrently by any number of optimizations.
type RuleCatalog struct {
	mu     sync.RWMutex
	rules  []*Rule
	byName *xsync.MapOf[string, *Rule]
}

func NewRuleCatalog() *RuleCatalog {
	return &RuleCatalog{byName: xsync.NewMapOf[string, *Rule]()}
}

// Register appends a rule to the catalog. Names must be unique.
func (c *RuleCatalog) Register(r *Rule) error {
	if r == nil || r.Name == "" {
		return common.NewOptError(common.InvalidConfigError, "rule must have a name")
	}
	if _, loaded := c.byName.LoadOrStore(r.Name, r); loaded {
		return common.NewOptError(common.DuplicateObjectError, "rule '%s' is already registered", r.Name)
	}
	c.mu.Lock()
	c.rules = append(c.rules, r)
	c.mu.Unlock()
	return nil
}

// MustRegister is Register for package initialization.
func (c *RuleCatalog) MustRegister(rules ...*Rule) {
	for _, r := range rules {
		if err := c.Register(r); err != nil {
			panic(err)
		}
	}
}

// Lookup finds a rule by name.
func (c *RuleCatalog) Lookup(name string) (*Rule, bool) {
	return c.byName.Load(name)
}

// Rules returns the rules in registration order.
func (c *RuleCatalog) Rules() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Len returns the number of registered rules.
func (c *RuleCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

// DefaultRules is the process-wide catalog the rules package registers into.
var DefaultRules = NewRuleCatalog()
