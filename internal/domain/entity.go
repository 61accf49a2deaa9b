package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// AttributeType is the declared storage type of an attribute.
type AttributeType string

const (
	AttrString AttributeType = "string"
	AttrInt    AttributeType = "int"
	AttrFloat  AttributeType = "float"
	AttrBool   AttributeType = "bool"
	AttrTime   AttributeType = "time"
)

// DefaultMaxLength bounds string attributes that declare no explicit limit.
const DefaultMaxLength = 4000

// AttributeInfo describes one statically registered attribute. Used both for
// validation/truncation and for compiler column resolution.
type AttributeInfo struct {
	Name          string
	StorageColumn string
	Type          AttributeType

	NotNull   bool
	NotEmpty  bool
	MaxLength int
	MinLength int

	// LargeText marks attributes exempt from the default length cap.
	LargeText bool

	// StoredAsString marks temporal attributes persisted as formatted strings
	// rather than native timestamps. Drives compiler value coercion.
	StoredAsString bool
}

// Column returns the storage column, falling back to the attribute name.
func (a *AttributeInfo) Column() string {
	if a.StorageColumn != "" {
		return a.StorageColumn
	}
	return a.Name
}

// EffectiveMaxLength returns the truncation limit for string values.
func (a *AttributeInfo) EffectiveMaxLength() int {
	if a.MaxLength > 0 {
		return a.MaxLength
	}
	if a.LargeText {
		return 0 // unbounded
	}
	return DefaultMaxLength
}

// ExtendedPropertyKind classifies a per-tenant custom field.
type ExtendedPropertyKind string

const (
	ExtShortText ExtendedPropertyKind = "shortText"
	ExtLongText  ExtendedPropertyKind = "longText"
	ExtNumber    ExtendedPropertyKind = "number"
	ExtDate      ExtendedPropertyKind = "date"
	ExtFlag      ExtendedPropertyKind = "flag"
)

// MaxLength returns the truncation limit for the kind. Short text is capped
// at 250 characters, long text at the shared 4000 default.
func (k ExtendedPropertyKind) MaxLength() int {
	switch k {
	case ExtShortText:
		return 250
	case ExtLongText:
		return DefaultMaxLength
	default:
		return 0
	}
}

// ExtendedPropertyInfo describes a custom field attached to one business
// entity's extended schema, stored in a side table (SQL) or sub-document.
type ExtendedPropertyInfo struct {
	Name          string
	Kind          ExtendedPropertyKind
	StorageColumn string
}

// Column returns the side-table column, falling back to the property name.
func (p *ExtendedPropertyInfo) Column() string {
	if p.StorageColumn != "" {
		return p.StorageColumn
	}
	return p.Name
}

// DocPath returns the sub-document path used by the document compiler.
func (p *ExtendedPropertyInfo) DocPath() string {
	return "ExtendedProperties." + p.Name
}

// ParentAssociation declares a many-parent mapping for one attribute. When
// present, an Equals filter on Attribute expands across all supplied parent
// IDs, testing both the direct column and the link-table column.
type ParentAssociation struct {
	// Attribute is the parent-association property on the entity.
	Attribute string

	// Column is the direct association column on the origin table.
	Column string

	// LinkTable is the mapping table joined (aliased "Link") when the
	// expansion is in play.
	LinkTable string

	// LinkColumn is the mapping table's parent-side linking column.
	LinkColumn string

	// LinkChildColumn is the mapping table's child-side column joined back
	// to the origin primary key.
	LinkChildColumn string

	// CollectionProperty is the multi-parent collection property on the
	// document representation.
	CollectionProperty string
}

// EntityDefinition is the per-type description of attributes, key, storage
// names and associated data sources. One instance per registered type,
// created at startup, read-only thereafter and shared by all operations.
type EntityDefinition struct {
	// Type is the short type name, used in cache keys and logs.
	Type string

	// Table is the SQL table and document collection name.
	Table string

	// PrimaryKey is the attribute holding the object identity.
	PrimaryKey string

	Attributes []AttributeInfo

	// ExtendedProperties maps a business entity ID to that tenant's custom
	// field set.
	ExtendedProperties map[string][]ExtendedPropertyInfo

	// Discriminator is the attribute that scopes rows to one business entity
	// in the multi-tenant extended-schema case.
	Discriminator string

	// Data source names, resolved through the DataSourceRegistry.
	PrimaryDataSource   string
	SecondaryDataSource string
	VersionDataSource   string
	TrashDataSource     string
	SyncDataSources     []string

	// AutoSync schedules fan-out after committed mutations.
	AutoSync bool

	// CreateNewVersionWhenUpdated snapshots the pre-update state on updates.
	CreateNewVersionWhenUpdated bool

	// CacheEnabled turns the cache gateway on for this type.
	CacheEnabled    bool
	CacheExpiration time.Duration

	// Parent declares the optional many-parent mapping.
	Parent *ParentAssociation

	// ServiceName stamps version and trash snapshots.
	ServiceName string
}

// Attribute resolves an attribute by name, case-insensitively. Returns nil
// for unknown names; the compiler treats that as literal pass-through.
func (d *EntityDefinition) Attribute(name string) *AttributeInfo {
	if d == nil || name == "" {
		return nil
	}
	for i := range d.Attributes {
		if strings.EqualFold(d.Attributes[i].Name, name) {
			return &d.Attributes[i]
		}
	}
	return nil
}

// ExtendedProperty resolves a custom field for one business entity.
func (d *EntityDefinition) ExtendedProperty(businessEntityID, name string) *ExtendedPropertyInfo {
	if d == nil || businessEntityID == "" || name == "" {
		return nil
	}
	props := d.ExtendedProperties[businessEntityID]
	for i := range props {
		if strings.EqualFold(props[i].Name, name) {
			return &props[i]
		}
	}
	return nil
}

// ExtendedTable returns the side-table name holding extended property rows.
func (d *EntityDefinition) ExtendedTable() string {
	return d.Table + "_extended"
}

// EntityRegistry is the process-wide entity metadata lookup. Same lifecycle
// contract as DataSourceRegistry: populate at startup, read-only after.
type EntityRegistry struct {
	mu       sync.RWMutex
	entities map[string]*EntityDefinition
}

// NewEntityRegistry creates an empty registry.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{entities: make(map[string]*EntityDefinition)}
}

// Register adds an entity definition after minimal structural validation.
func (r *EntityRegistry) Register(def *EntityDefinition) error {
	if def == nil || def.Type == "" {
		return fmt.Errorf("entity type is required")
	}
	if def.PrimaryKey == "" {
		return fmt.Errorf("entity %s: primary key is required", def.Type)
	}
	if def.Attribute(def.PrimaryKey) == nil {
		return fmt.Errorf("entity %s: primary key %q is not a declared attribute", def.Type, def.PrimaryKey)
	}
	if def.Table == "" {
		def.Table = strings.ToLower(def.Type)
	}
	if def.Discriminator == "" {
		def.Discriminator = "BusinessEntityID"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entities[def.Type]; ok {
		return fmt.Errorf("entity %s: already registered", def.Type)
	}
	r.entities[def.Type] = def
	return nil
}

// Get returns the definition registered for the type, or nil.
func (r *EntityRegistry) Get(entityType string) *EntityDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.entities[entityType]; ok {
		return def
	}
	for name, def := range r.entities {
		if strings.EqualFold(name, entityType) {
			return def
		}
	}
	return nil
}

// Types returns the registered entity type names.
func (r *EntityRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entities))
	for t := range r.entities {
		types = append(types, t)
	}
	return types
}
