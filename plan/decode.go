package plan

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"mit.edu/dsg/planopt/common"
)

// TableResolver maps table names found in plan files to catalog object IDs.
type TableResolver interface {
	ResolveTable(name string) (common.ObjectID, error)
}

type nodeSpec struct {
	Step       string          `yaml:"step"`
	Table      string          `yaml:"table"`
	Columns    []string        `yaml:"columns"`
	Where      []conditionSpec `yaml:"where"`
	Assign     []assignSpec    `yaml:"assign"`
	GroupBy    []string        `yaml:"group_by"`
	Aggregates []string        `yaml:"aggregates"`
	OrderBy    []orderSpec     `yaml:"order_by"`
	Limit      int             `yaml:"limit"`
	Offset     int             `yaml:"offset"`
	Kind       string          `yaml:"kind"`
	LeftKeys   []string        `yaml:"left_keys"`
	RightKeys  []string        `yaml:"right_keys"`
	Logical    bool            `yaml:"logical"`
	Replicas   int             `yaml:"replicas"`
	Subplan    *nodeSpec       `yaml:"subplan"`
	Sets       []setSpec       `yaml:"sets"`
	Children   []*nodeSpec     `yaml:"children"`
}

type conditionSpec struct {
	Column  string  `yaml:"column"`
	Op      string  `yaml:"op"`
	Int     *int64  `yaml:"int"`
	String  *string `yaml:"string"`
	NotNull bool    `yaml:"not_null"`
}

type assignSpec struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
}

type orderSpec struct {
	Column string `yaml:"column"`
	Desc   bool   `yaml:"desc"`
}

type setSpec struct {
	Key  string    `yaml:"key"`
	Plan *nodeSpec `yaml:"plan"`
}

// DecodeYAML builds a plan tree from its YAML description. Each node names its step kind
// and lists its children in operand order; see the cmd/planopt examples for the format.
// tables may be nil, in which case reads carry InvalidObjectID.
func DecodeYAML(data []byte, tables TableResolver) (*Tree, error) {
	var root nodeSpec
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, "failed to parse plan")
	}
	return buildTree(&root, tables)
}

func buildTree(desc *nodeSpec, tables TableResolver) (*Tree, error) {
	t := NewTree()
	id, err := t.build(desc, tables)
	if err != nil {
		return nil, err
	}
	t.SetRoot(id)
	return t, nil
}

func (t *Tree) build(desc *nodeSpec, tables TableResolver) (NodeID, error) {
	children := make([]NodeID, 0, len(desc.Children))
	for _, c := range desc.Children {
		id, err := t.build(c, tables)
		if err != nil {
			return InvalidNodeID, err
		}
		children = append(children, id)
	}
	step, err := buildStep(desc, tables)
	if err != nil {
		return InvalidNodeID, err
	}
	return t.store.Add(step, children...), nil
}

func buildStep(desc *nodeSpec, tables TableResolver) (Step, error) {
	switch strings.ToLower(desc.Step) {
	case "read":
		oid := common.InvalidObjectID
		if tables != nil {
			var err error
			if oid, err = tables.ResolveTable(desc.Table); err != nil {
				return nil, err
			}
		}
		read := NewReadFromTable(oid, desc.Table, desc.Columns)
		pred, err := buildPredicate(desc.Where)
		if err != nil {
			return nil, err
		}
		read.Filter = pred
		return read, nil
	case "filter":
		pred, err := buildPredicate(desc.Where)
		if err != nil {
			return nil, err
		}
		if pred == nil {
			return nil, common.NewOptError(common.InvalidConfigError, "filter step without conditions")
		}
		return NewFilter(pred), nil
	case "expression":
		assignments := make([]Assignment, len(desc.Assign))
		for i, a := range desc.Assign {
			src := a.Column
			if src == "" {
				src = a.Name
			}
			assignments[i] = Assignment{Name: a.Name, Expr: NewColumnExpr(src, common.DefaultType)}
		}
		return NewExpression(assignments...), nil
	case "aggregate":
		aggs := make([]AggregateClause, len(desc.Aggregates))
		for i, a := range desc.Aggregates {
			clause, err := ParseAggregate(a)
			if err != nil {
				return nil, err
			}
			aggs[i] = clause
		}
		return NewAggregate(desc.GroupBy, aggs), nil
	case "sort":
		s := NewSort(buildOrderBy(desc.OrderBy))
		s.Limit = desc.Limit
		return s, nil
	case "limit":
		return &Limit{Limit: desc.Limit, Offset: desc.Offset}, nil
	case "distinct":
		return NewDistinct(desc.Columns), nil
	case "join":
		if len(desc.LeftKeys) != len(desc.RightKeys) {
			return nil, common.NewOptError(common.InvalidConfigError, "join key lists differ in length")
		}
		kind := InnerJoin
		if strings.EqualFold(desc.Kind, "left") {
			kind = LeftJoin
		}
		j := NewJoin(kind, desc.LeftKeys, desc.RightKeys)
		j.Logical = desc.Logical
		return j, nil
	case "union":
		return &Union{}, nil
	case "remote":
		return &ReadFromRemote{Replicas: desc.Replicas}, nil
	case "local_replica":
		if desc.Subplan == nil {
			return nil, common.NewOptError(common.InvalidConfigError, "local_replica step without subplan")
		}
		sub, err := buildTree(desc.Subplan, tables)
		if err != nil {
			return nil, errors.Wrap(err, "local_replica subplan")
		}
		return NewReadFromLocalReplica(desc.Table, sub), nil
	case "delayed_sets":
		sets := make([]*SetSubquery, len(desc.Sets))
		for i, s := range desc.Sets {
			if s.Plan == nil {
				return nil, common.NewOptError(common.InvalidConfigError, "set %q without plan", s.Key)
			}
			sub, err := buildTree(s.Plan, tables)
			if err != nil {
				return nil, errors.Wrapf(err, "set %q", s.Key)
			}
			sets[i] = &SetSubquery{Key: s.Key, Plan: sub}
		}
		return &DelayedCreatingSets{Sets: sets}, nil
	}
	return nil, common.NewOptError(common.InvalidConfigError, "unknown step %q", desc.Step)
}

func buildOrderBy(specs []orderSpec) []OrderByClause {
	out := make([]OrderByClause, len(specs))
	for i, o := range specs {
		out[i] = OrderByClause{Column: o.Column}
		if o.Desc {
			out[i].Direction = SortOrderDescending
		}
	}
	return out
}

func buildPredicate(conds []conditionSpec) (Expr, error) {
	var exprs []Expr
	for _, c := range conds {
		if c.NotNull {
			exprs = append(exprs, &IsNullExpr{Child: NewColumnExpr(c.Column, common.DefaultType), Negated: true})
			continue
		}
		var val common.Value
		switch {
		case c.Int != nil:
			val = common.NewIntValue(*c.Int)
		case c.String != nil:
			val = common.NewStringValue(*c.String)
		default:
			return nil, common.NewOptError(common.InvalidConfigError, "condition on %q has no value", c.Column)
		}
		op, ok := ParseComparison(c.Op)
		if !ok {
			return nil, common.NewOptError(common.InvalidConfigError, "unknown comparison %q", c.Op)
		}
		exprs = append(exprs, NewComparisonExpr(NewColumnExpr(c.Column, val.Type()), NewConstantExpr(val), op))
	}
	return And(exprs...), nil
}
