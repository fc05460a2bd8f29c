package optimizer

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"mit.edu/dsg/planopt/common"
)

// ExplainMode tells the optimizer whether the plan is only going to be shown. Budget
// overruns of the first pass are tolerated in explain mode.
type ExplainMode string

const (
	ExplainNone     ExplainMode = "none"
	ExplainPlan     ExplainMode = "plan"
	ExplainPipeline ExplainMode = "pipeline"
)

// JoinAlgorithm selects the physical join the logical join optimizer converts to.
type JoinAlgorithm string

const (
	JoinAlgorithmAuto             JoinAlgorithm = "auto"
	JoinAlgorithmHash             JoinAlgorithm = "hash"
	JoinAlgorithmFullSortingMerge JoinAlgorithm = "full_sorting_merge"
)

// NetworkTransferLimits bounds what a rule may plan to move between replicas.
type NetworkTransferLimits struct {
	MaxRowsToTransfer  int64 `toml:"max-rows-to-transfer"`
	MaxBytesToTransfer int64 `toml:"max-bytes-to-transfer"`
}

// ExtraSettings are rule specific thresholds forwarded verbatim to every rule.
type ExtraSettings struct {
	MaxLimitForVectorSearchQueries       int                   `toml:"max-limit-for-vector-search-queries"`
	VectorSearchFilterStrategy           string                `toml:"vector-search-filter-strategy"`
	UseIndexForInWithSubqueriesMaxValues int                   `toml:"use-index-for-in-with-subqueries-max-values"`
	NetworkTransferLimits                NetworkTransferLimits `toml:"network-transfer-limits"`
}

// Settings configures one optimization. Settings are read-only for the duration of an
// Optimize call.
type Settings struct {
	// OptimizePlan enables the first (fixed point) pass.
	OptimizePlan bool `toml:"optimize-plan"`
	// MaxOptimizationsToApply bounds the number of rule applications of the first pass and
	// the number of projections applied by the second pass. Zero means unlimited.
	MaxOptimizationsToApply int         `toml:"max-optimizations-to-apply"`
	Explain                 ExplainMode `toml:"explain"`

	PushDownLimit           bool `toml:"push-down-limit"`
	MergeExpressions        bool `toml:"merge-expressions"`
	MergeFilters            bool `toml:"merge-filters"`
	FilterPushDown          bool `toml:"filter-push-down"`
	RemoveRedundantSorting  bool `toml:"remove-redundant-sorting"`
	RemoveRedundantDistinct bool `toml:"remove-redundant-distinct"`
	ConvertOuterJoinToInner bool `toml:"convert-outer-join-to-inner"`

	OptimizePrewhere       bool          `toml:"optimize-prewhere"`
	UseQueryConditionCache bool          `toml:"use-query-condition-cache"`
	ReadInOrder            bool          `toml:"read-in-order"`
	DistinctInOrder        bool          `toml:"distinct-in-order"`
	AggregationInOrder     bool          `toml:"aggregation-in-order"`
	JoinAlgorithm          JoinAlgorithm `toml:"join-algorithm"`
	UseIndexForJoin        bool          `toml:"use-index-for-join"`

	OptimizeProjection             bool   `toml:"optimize-projection"`
	OptimizeUseImplicitProjections bool   `toml:"optimize-use-implicit-projections"`
	ForceUseProjection             bool   `toml:"force-use-projection"`
	ForceProjectionName            string `toml:"force-projection-name"`

	OptimizeLazyMaterialization    bool `toml:"optimize-lazy-materialization"`
	MaxLimitForLazyMaterialization int  `toml:"max-limit-for-lazy-materialization"`

	JoinShardByPKRanges bool `toml:"join-shard-by-pk-ranges"`
	BuildSets           bool `toml:"build-sets"`

	Extra ExtraSettings `toml:"extra"`
}

// NewSettings returns the default settings.
func NewSettings() *Settings {
	return &Settings{
		OptimizePlan:            true,
		MaxOptimizationsToApply: 10000,
		Explain:                 ExplainNone,

		PushDownLimit:           true,
		MergeExpressions:        true,
		MergeFilters:            true,
		FilterPushDown:          true,
		RemoveRedundantSorting:  true,
		RemoveRedundantDistinct: true,
		ConvertOuterJoinToInner: true,

		OptimizePrewhere:   true,
		ReadInOrder:        true,
		DistinctInOrder:    true,
		AggregationInOrder: false,
		JoinAlgorithm:      JoinAlgorithmAuto,
		UseIndexForJoin:    true,

		OptimizeProjection:             true,
		OptimizeUseImplicitProjections: true,

		OptimizeLazyMaterialization:    true,
		MaxLimitForLazyMaterialization: 10,

		BuildSets: true,

		Extra: ExtraSettings{
			MaxLimitForVectorSearchQueries: 1000,
			VectorSearchFilterStrategy:     "auto",
		},
	}
}

// IsExplain reports whether the plan is being optimized for EXPLAIN only.
func (s *Settings) IsExplain() bool {
	return s.Explain != "" && s.Explain != ExplainNone
}

// Clone returns an independent copy of the settings.
func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}

// Validate reports every setting that cannot be honored.
func (s *Settings) Validate() error {
	var result *multierror.Error
	invalid := func(format string, args ...any) {
		result = multierror.Append(result, common.NewOptError(common.InvalidConfigError, format, args...))
	}

	if s.MaxOptimizationsToApply < 0 {
		invalid("max-optimizations-to-apply must not be negative, got %d", s.MaxOptimizationsToApply)
	}
	if s.MaxLimitForLazyMaterialization < 0 {
		invalid("max-limit-for-lazy-materialization must not be negative, got %d", s.MaxLimitForLazyMaterialization)
	}
	switch s.Explain {
	case "", ExplainNone, ExplainPlan, ExplainPipeline:
	default:
		invalid("unknown explain mode %q", s.Explain)
	}
	switch s.JoinAlgorithm {
	case "", JoinAlgorithmAuto, JoinAlgorithmHash, JoinAlgorithmFullSortingMerge:
	default:
		invalid("unknown join algorithm %q", s.JoinAlgorithm)
	}
	// Rejected up front, whether or not the plan reads a table.
	if s.ForceProjectionName != "" && !s.OptimizeProjection {
		invalid("force-projection-name %q requires optimize-projection", s.ForceProjectionName)
	}
	if s.Extra.MaxLimitForVectorSearchQueries < 0 {
		invalid("extra.max-limit-for-vector-search-queries must not be negative")
	}
	return result.ErrorOrNil()
}

// DecodeSettings parses TOML on top of the default settings and validates the result.
func DecodeSettings(data string) (*Settings, error) {
	s := NewSettings()
	md, err := toml.Decode(data, s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse optimizer settings")
	}
	return s, checkDecoded(s, md)
}

// LoadSettings reads a TOML settings file on top of the default settings.
func LoadSettings(path string) (*Settings, error) {
	s := NewSettings()
	md, err := toml.DecodeFile(path, s)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load optimizer settings from %s", path)
	}
	return s, checkDecoded(s, md)
}

func checkDecoded(s *Settings, md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return common.NewOptError(common.InvalidConfigError, "unknown settings: %s", strings.Join(keys, ", "))
	}
	return s.Validate()
}
