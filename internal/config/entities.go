package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-mediary/mediary/internal/domain"
)

// Catalog is the deployment's entity and data source description, loaded
// from YAML at startup.
type Catalog struct {
	Sources  []SourceSpec `yaml:"sources"`
	Entities []EntitySpec `yaml:"entities"`
}

// SourceSpec declares one data source.
type SourceSpec struct {
	Name          string `yaml:"name"`
	Mode          string `yaml:"mode"`
	ConnectionRef string `yaml:"connectionRef"`
}

// EntitySpec declares one entity type.
type EntitySpec struct {
	Type       string          `yaml:"type"`
	Table      string          `yaml:"table"`
	PrimaryKey string          `yaml:"primaryKey"`
	Attributes []AttributeSpec `yaml:"attributes"`

	ExtendedProperties map[string][]ExtendedSpec `yaml:"extendedProperties,omitempty"`
	Discriminator      string                    `yaml:"discriminator,omitempty"`

	PrimaryDataSource   string   `yaml:"primaryDataSource"`
	SecondaryDataSource string   `yaml:"secondaryDataSource,omitempty"`
	VersionDataSource   string   `yaml:"versionDataSource,omitempty"`
	TrashDataSource     string   `yaml:"trashDataSource,omitempty"`
	SyncDataSources     []string `yaml:"syncDataSources,omitempty"`

	AutoSync                    bool `yaml:"autoSync,omitempty"`
	CreateNewVersionWhenUpdated bool `yaml:"createNewVersionWhenUpdated,omitempty"`

	CacheEnabled    bool          `yaml:"cacheEnabled,omitempty"`
	CacheExpiration time.Duration `yaml:"cacheExpiration,omitempty"`

	Parent *ParentSpec `yaml:"parent,omitempty"`

	ServiceName string `yaml:"serviceName,omitempty"`
}

// AttributeSpec declares one attribute.
type AttributeSpec struct {
	Name           string `yaml:"name"`
	StorageColumn  string `yaml:"storageColumn,omitempty"`
	Type           string `yaml:"type"`
	NotNull        bool   `yaml:"notNull,omitempty"`
	NotEmpty       bool   `yaml:"notEmpty,omitempty"`
	MaxLength      int    `yaml:"maxLength,omitempty"`
	MinLength      int    `yaml:"minLength,omitempty"`
	LargeText      bool   `yaml:"largeText,omitempty"`
	StoredAsString bool   `yaml:"storedAsString,omitempty"`
}

// ExtendedSpec declares one extended property for a business entity.
type ExtendedSpec struct {
	Name          string `yaml:"name"`
	Kind          string `yaml:"kind"`
	StorageColumn string `yaml:"storageColumn,omitempty"`
}

// ParentSpec declares the many-parent association.
type ParentSpec struct {
	Attribute          string `yaml:"attribute"`
	Column             string `yaml:"column"`
	LinkTable          string `yaml:"linkTable"`
	LinkColumn         string `yaml:"linkColumn"`
	LinkChildColumn    string `yaml:"linkChildColumn"`
	CollectionProperty string `yaml:"collectionProperty,omitempty"`
}

// LoadCatalog reads the entity catalog file and populates fresh registries.
func LoadCatalog(path string) (*domain.EntityRegistry, *domain.DataSourceRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return BuildCatalog(&catalog)
}

// BuildCatalog turns a parsed catalog into populated registries.
func BuildCatalog(catalog *Catalog) (*domain.EntityRegistry, *domain.DataSourceRegistry, error) {
	sources := domain.NewDataSourceRegistry()
	for _, s := range catalog.Sources {
		if err := sources.Register(&domain.DataSource{
			Name:          s.Name,
			Mode:          domain.Mode(s.Mode),
			ConnectionRef: s.ConnectionRef,
		}); err != nil {
			return nil, nil, err
		}
	}

	entities := domain.NewEntityRegistry()
	for _, e := range catalog.Entities {
		def, err := buildEntity(&e)
		if err != nil {
			return nil, nil, err
		}
		if err := entities.Register(def); err != nil {
			return nil, nil, err
		}
	}
	return entities, sources, nil
}

var attrTypes = map[string]domain.AttributeType{
	"string": domain.AttrString,
	"int":    domain.AttrInt,
	"float":  domain.AttrFloat,
	"bool":   domain.AttrBool,
	"time":   domain.AttrTime,
}

var extKinds = map[string]domain.ExtendedPropertyKind{
	"shortText": domain.ExtShortText,
	"longText":  domain.ExtLongText,
	"number":    domain.ExtNumber,
	"date":      domain.ExtDate,
	"flag":      domain.ExtFlag,
}

func buildEntity(e *EntitySpec) (*domain.EntityDefinition, error) {
	def := &domain.EntityDefinition{
		Type:                        e.Type,
		Table:                       e.Table,
		PrimaryKey:                  e.PrimaryKey,
		Discriminator:               e.Discriminator,
		PrimaryDataSource:           e.PrimaryDataSource,
		SecondaryDataSource:         e.SecondaryDataSource,
		VersionDataSource:           e.VersionDataSource,
		TrashDataSource:             e.TrashDataSource,
		SyncDataSources:             e.SyncDataSources,
		AutoSync:                    e.AutoSync,
		CreateNewVersionWhenUpdated: e.CreateNewVersionWhenUpdated,
		CacheEnabled:                e.CacheEnabled,
		CacheExpiration:             e.CacheExpiration,
		ServiceName:                 e.ServiceName,
	}

	for _, a := range e.Attributes {
		at, ok := attrTypes[a.Type]
		if !ok {
			return nil, fmt.Errorf("entity %s: attribute %s has unknown type %q", e.Type, a.Name, a.Type)
		}
		def.Attributes = append(def.Attributes, domain.AttributeInfo{
			Name:           a.Name,
			StorageColumn:  a.StorageColumn,
			Type:           at,
			NotNull:        a.NotNull,
			NotEmpty:       a.NotEmpty,
			MaxLength:      a.MaxLength,
			MinLength:      a.MinLength,
			LargeText:      a.LargeText,
			StoredAsString: a.StoredAsString,
		})
	}

	if len(e.ExtendedProperties) > 0 {
		def.ExtendedProperties = make(map[string][]domain.ExtendedPropertyInfo, len(e.ExtendedProperties))
		for businessEntityID, props := range e.ExtendedProperties {
			for _, p := range props {
				kind, ok := extKinds[p.Kind]
				if !ok {
					return nil, fmt.Errorf("entity %s: extended property %s has unknown kind %q", e.Type, p.Name, p.Kind)
				}
				def.ExtendedProperties[businessEntityID] = append(def.ExtendedProperties[businessEntityID], domain.ExtendedPropertyInfo{
					Name:          p.Name,
					Kind:          kind,
					StorageColumn: p.StorageColumn,
				})
			}
		}
	}

	if e.Parent != nil {
		def.Parent = &domain.ParentAssociation{
			Attribute:          e.Parent.Attribute,
			Column:             e.Parent.Column,
			LinkTable:          e.Parent.LinkTable,
			LinkColumn:         e.Parent.LinkColumn,
			LinkChildColumn:    e.Parent.LinkChildColumn,
			CollectionProperty: e.Parent.CollectionProperty,
		}
	}
	return def, nil
}
