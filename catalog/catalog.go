package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/planopt/common"
)

// Catalog holds the table metadata the rewrite rules consult: column lists, primary keys,
// secondary indexes, projections and shard layout. It is serialized as a single JSON blob.
//
// The optimizer treats the catalog as immutable while a query is being optimized. Several
// optimizations may run concurrently against the same Catalog, so lookups that are
// memoized (projection candidates per table) go through a concurrent map.
type Catalog struct {
	catalogState

	// In-memory structures for fast lookups
	tableMap  map[string]*Table   // TableName -> Table
	columnMap map[string][]*Table // ColumnName -> List of Tables containing this column
	oidMap    map[common.ObjectID]*Table

	projectionCache *xsync.MapOf[projectionCacheKey, []*Projection]
}

// Column represents the basic unit of a table schema.
type Column struct {
	Name string      `json:"name"`
	Type common.Type `json:"type"`
}

// Index describes a secondary access path of a table.
type Index struct {
	Oid       common.ObjectID `json:"oid"`
	TableOid  common.ObjectID `json:"table_oid"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`       // "hash" or "btree"
	KeySchema []string        `json:"key_schema"` // List of column names
}

// ProjectionKind distinguishes the two kinds of projections the optimizer can substitute
// for a raw table read.
type ProjectionKind string

const (
	// NormalProjection stores a copy of (a subset of) the table's columns in a different
	// sort order.
	NormalProjection ProjectionKind = "normal"
	// AggregateProjection stores pre-aggregated rows grouped by GroupBy.
	AggregateProjection ProjectionKind = "aggregate"
)

// Projection is a precomputed alternative physical representation of a table's data.
type Projection struct {
	Oid        common.ObjectID `json:"oid"`
	TableOid   common.ObjectID `json:"table_oid"`
	Name       string          `json:"name"`
	Kind       ProjectionKind  `json:"kind"`
	Columns    []string        `json:"columns,omitempty"`
	OrderBy    []string        `json:"order_by,omitempty"`
	GroupBy    []string        `json:"group_by,omitempty"`
	Aggregates []string        `json:"aggregates,omitempty"` // e.g. "count()", "sum(amount)"
}

// Table is the primary metadata structure. It groups columns and their
// associated indexes and projections under a unique ObjectID.
type Table struct {
	Oid         common.ObjectID `json:"oid"`
	Name        string          `json:"name"`
	Columns     []Column        `json:"columns"`
	PrimaryKey  []string        `json:"primary_key,omitempty"`
	Indexes     []Index         `json:"indexes"`
	Projections []Projection    `json:"projections,omitempty"`
	// Shards is the number of primary key ranges the table is split into. Two tables with
	// the same primary key layout and shard count have aligned ranges.
	Shards int `json:"shards,omitempty"`
	// RowCount is an estimate used by the join optimizer to choose a build side.
	RowCount int64 `json:"row_count,omitempty"`
}

// PersistenceProvider abstracts how the catalog is saved to and loaded from disk.
type PersistenceProvider interface {
	LoadCatalogState() (json string, err error)
	SaveCatalogState(json string) error
}

func (t *Table) String() string {
	b, _ := json.MarshalIndent(t, "", "  ")
	return string(b)
}

// HasColumn reports whether the table defines a column with the given name.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnType returns the declared type of the named column.
func (t *Table) ColumnType(name string) (common.Type, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c.Type, true
		}
	}
	return common.DefaultType, false
}

// PrimaryKeyPrefix returns how many leading primary key columns appear, in order, at the
// start of cols.
func (t *Table) PrimaryKeyPrefix(cols []string) int {
	n := 0
	for n < len(cols) && n < len(t.PrimaryKey) && cols[n] == t.PrimaryKey[n] {
		n++
	}
	return n
}

type catalogState struct {
	NextId uint32   `json:"next_id"`
	Tables []*Table `json:"tables"`
}

type projectionCacheKey struct {
	table common.ObjectID
	kind  ProjectionKind
}

func (c *Catalog) String() string {
	b, _ := json.MarshalIndent(c, "", "  ")
	return string(b)
}

func (c *Catalog) toJSON() (string, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Catalog) fromJSON(jsonData string) error {
	if err := json.Unmarshal([]byte(jsonData), c); err != nil {
		return err
	}
	for _, t := range c.Tables {
		c.index(t)
	}
	return nil
}

func (c *Catalog) index(t *Table) {
	c.tableMap[t.Name] = t
	c.oidMap[t.Oid] = t
	for _, f := range t.Columns {
		c.columnMap[f.Name] = append(c.columnMap[f.Name], t)
	}
}

func newEmptyCatalog() *Catalog {
	return &Catalog{
		catalogState: catalogState{
			NextId: 0,
			Tables: make([]*Table, 0),
		},
		tableMap:        make(map[string]*Table),
		columnMap:       make(map[string][]*Table),
		oidMap:          make(map[common.ObjectID]*Table),
		projectionCache: xsync.NewMapOf[projectionCacheKey, []*Projection](),
	}
}

// NewCatalog initializes a catalog. It attempts to load existing state
// from the provider; if no state exists, it starts with an empty catalog.
func NewCatalog(provider PersistenceProvider) (*Catalog, error) {
	result := newEmptyCatalog()

	jsonData, err := provider.LoadCatalogState()
	if errors.Is(err, os.ErrNotExist) {
		// Start from scratch
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if err = result.fromJSON(jsonData); err != nil {
		// Parsing errors are fatal, usually indicating a hand-edited file gone wrong
		return nil, errors.Wrap(err, "failed to parse catalog state")
	}

	return result, nil
}

func (c *Catalog) save(provider PersistenceProvider) error {
	jsonData, err := c.toJSON()
	if err != nil {
		return err
	}
	return provider.SaveCatalogState(jsonData)
}

// AddTable registers a new table in the catalog.
// It assigns a globally unique ObjectID to the table and persists the updated state. If the table with that name
// already exists, it returns DuplicateObjectError.
func (c *Catalog) AddTable(tableName string, columns []Column, primaryKey []string, provider PersistenceProvider) (*Table, error) {
	if _, exists := c.tableMap[tableName]; exists {
		return nil, common.OptError{
			Code:      common.DuplicateObjectError,
			ErrString: fmt.Sprintf("table '%s' already exists", tableName),
		}
	}

	t := &Table{
		Name:       tableName,
		Columns:    columns,
		PrimaryKey: primaryKey,
		Indexes:    make([]Index, 0),
	}
	if err := c.validateColumns(t, primaryKey); err != nil {
		return nil, err
	}

	// oid 0 is reserved for INVALID
	c.NextId++
	t.Oid = common.ObjectID(c.NextId)

	c.Tables = append(c.Tables, t)
	c.index(t)
	return t, c.save(provider)
}

// SetTableStats records the row count estimate and shard layout of a table.
func (c *Catalog) SetTableStats(tableName string, rowCount int64, shards int, provider PersistenceProvider) error {
	table, err := c.GetTableMetadata(tableName)
	if err != nil {
		return err
	}
	table.RowCount = rowCount
	table.Shards = shards
	return c.save(provider)
}

// GetTableMetadata fetches the schema for a specific table name.
func (c *Catalog) GetTableMetadata(tableName string) (*Table, error) {
	table, exists := c.tableMap[tableName]
	if !exists {
		return nil, common.OptError{
			Code:      common.NoSuchObjectError,
			ErrString: fmt.Sprintf("table '%s' does not exist", tableName),
		}
	}
	return table, nil
}

// GetTableByOid fetches a table by its ObjectID.
func (c *Catalog) GetTableByOid(oid common.ObjectID) (*Table, error) {
	table, exists := c.oidMap[oid]
	if !exists {
		return nil, common.OptError{
			Code:      common.NoSuchObjectError,
			ErrString: fmt.Sprintf("table with oid %d does not exist", oid),
		}
	}
	return table, nil
}

// ResolveTable implements plan.TableResolver.
func (c *Catalog) ResolveTable(name string) (common.ObjectID, error) {
	table, err := c.GetTableMetadata(name)
	if err != nil {
		return common.InvalidObjectID, err
	}
	return table.Oid, nil
}

// FindTablesWithColumnName returns all tables that contain a column with
// the given name.
func (c *Catalog) FindTablesWithColumnName(columnName string) []*Table {
	return c.columnMap[columnName]
}

func (c *Catalog) validateColumns(table *Table, columnNames []string) error {
	for _, colName := range columnNames {
		if !table.HasColumn(colName) {
			return common.OptError{
				Code:      common.NoSuchObjectError,
				ErrString: fmt.Sprintf("column '%s' does not exist in table '%s'", colName, table.Name),
			}
		}
	}
	return nil
}

// AddIndex attaches a new index definition to a table. If an index with that name
// already exists, it returns DuplicateObjectError.
func (c *Catalog) AddIndex(indexName string, tableName string, indexType string, columnNames []string, provider PersistenceProvider) (*Index, error) {
	table, err := c.GetTableMetadata(tableName)
	if err != nil {
		return nil, err
	}

	for _, idx := range table.Indexes {
		if idx.Name == indexName {
			return nil, common.OptError{
				Code:      common.DuplicateObjectError,
				ErrString: fmt.Sprintf("index '%s' already exists on table '%s'", indexName, tableName),
			}
		}
	}
	if err := c.validateColumns(table, columnNames); err != nil {
		return nil, err
	}

	c.NextId++
	idx := Index{
		Oid:       common.ObjectID(c.NextId),
		TableOid:  table.Oid,
		Name:      indexName,
		Type:      indexType,
		KeySchema: columnNames,
	}

	table.Indexes = append(table.Indexes, idx)
	return &idx, c.save(provider)
}

// AddProjection attaches a projection definition to a table. Normal projections must
// list their columns and sort order; aggregate projections their grouping keys.
func (c *Catalog) AddProjection(tableName string, proj Projection, provider PersistenceProvider) (*Projection, error) {
	table, err := c.GetTableMetadata(tableName)
	if err != nil {
		return nil, err
	}
	for _, p := range table.Projections {
		if p.Name == proj.Name {
			return nil, common.OptError{
				Code:      common.DuplicateObjectError,
				ErrString: fmt.Sprintf("projection '%s' already exists on table '%s'", proj.Name, tableName),
			}
		}
	}
	switch proj.Kind {
	case NormalProjection:
		if err := c.validateColumns(table, append(append([]string(nil), proj.Columns...), proj.OrderBy...)); err != nil {
			return nil, err
		}
	case AggregateProjection:
		if err := c.validateColumns(table, proj.GroupBy); err != nil {
			return nil, err
		}
	default:
		return nil, common.NewOptError(common.InvalidConfigError, "unknown projection kind %q", proj.Kind)
	}

	c.NextId++
	proj.Oid = common.ObjectID(c.NextId)
	proj.TableOid = table.Oid
	table.Projections = append(table.Projections, proj)
	// appending may have moved the slice the cached pointers refer to
	c.projectionCache.Delete(projectionCacheKey{table: table.Oid, kind: NormalProjection})
	c.projectionCache.Delete(projectionCacheKey{table: table.Oid, kind: AggregateProjection})
	return &table.Projections[len(table.Projections)-1], c.save(provider)
}

// ProjectionsOf returns the projections of the given kind defined on a table, in
// definition order.
func (c *Catalog) ProjectionsOf(table *Table, kind ProjectionKind) []*Projection {
	key := projectionCacheKey{table: table.Oid, kind: kind}
	projs, _ := c.projectionCache.LoadOrCompute(key, func() []*Projection {
		var out []*Projection
		for i := range table.Projections {
			if table.Projections[i].Kind == kind {
				out = append(out, &table.Projections[i])
			}
		}
		return out
	})
	return projs
}

const CatalogFileName = "catalog.json"

type DiskCatalogManager struct {
	rootPath string
}

func NewDiskCatalogManager(rootPath string) *DiskCatalogManager {
	return &DiskCatalogManager{
		rootPath: rootPath,
	}
}

// LoadCatalogState implements the catalog.PersistenceProvider interface.
func (dcm *DiskCatalogManager) LoadCatalogState() (string, error) {
	path := filepath.Join(dcm.rootPath, CatalogFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err // Let the caller (Catalog) handle os.ErrNotExist
	}
	return string(content), nil
}

// SaveCatalogState implements the catalog.PersistenceProvider interface.
func (dcm *DiskCatalogManager) SaveCatalogState(jsonData string) error {
	// write to a temporary file and rename it over the old state
	tmpPath := filepath.Join(dcm.rootPath, CatalogFileName+".tmp")
	finalPath := filepath.Join(dcm.rootPath, CatalogFileName)

	if err := os.WriteFile(tmpPath, []byte(jsonData), 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, finalPath)
}

// MemoryCatalogManager keeps the catalog state in memory. It backs catalogs built by
// tests and by the command line tool when no catalog directory is given.
type MemoryCatalogManager struct {
	state string
}

// LoadCatalogState implements the catalog.PersistenceProvider interface.
func (m *MemoryCatalogManager) LoadCatalogState() (string, error) {
	if m.state == "" {
		return "", os.ErrNotExist
	}
	return m.state, nil
}

// SaveCatalogState implements the catalog.PersistenceProvider interface.
func (m *MemoryCatalogManager) SaveCatalogState(jsonData string) error {
	m.state = jsonData
	return nil
}
