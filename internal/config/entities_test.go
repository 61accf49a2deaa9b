package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-mediary/mediary/internal/domain"
)

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.yaml")
	data := `
sources:
  - name: primary
    mode: sql
    connectionRef: sql-main
  - name: reporting
    mode: document
    connectionRef: doc-main

entities:
  - type: Contact
    table: contacts
    primaryKey: ID
    attributes:
      - name: ID
        type: string
        notNull: true
        notEmpty: true
      - name: Name
        type: string
        notNull: true
        maxLength: 120
      - name: Age
        type: int
    extendedProperties:
      acme:
        - name: Region
          kind: shortText
    primaryDataSource: primary
    syncDataSources: [reporting]
    autoSync: true
    cacheEnabled: true
    cacheExpiration: 5m
    createNewVersionWhenUpdated: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	entities, sources, err := LoadCatalog(path)
	require.NoError(t, err)

	require.NotNil(t, sources.Get("primary"))
	require.Equal(t, domain.ModeDocument, sources.Get("reporting").Mode)

	def := entities.Get("Contact")
	require.NotNil(t, def)
	require.Equal(t, "contacts", def.Table)
	require.True(t, def.AutoSync)
	require.True(t, def.CreateNewVersionWhenUpdated)
	require.Equal(t, 120, def.Attribute("Name").MaxLength)
	require.NotNil(t, def.ExtendedProperty("acme", "Region"))
	require.Equal(t, domain.ExtShortText, def.ExtendedProperty("acme", "Region").Kind)

	// Registration defaults apply.
	require.Equal(t, "BusinessEntityID", def.Discriminator)
}

func TestLoadCatalogRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad mode", "sources:\n  - name: p\n    mode: graph\n    connectionRef: x\n"},
		{"bad attribute type", `
entities:
  - type: T
    primaryKey: ID
    attributes:
      - name: ID
        type: uuid
    primaryDataSource: p
`},
		{"missing primary key attribute", `
entities:
  - type: T
    primaryKey: ID
    attributes:
      - name: Name
        type: string
    primaryDataSource: p
`},
		{"bad extended kind", `
entities:
  - type: T
    primaryKey: ID
    attributes:
      - name: ID
        type: string
    extendedProperties:
      acme:
        - name: X
          kind: blob
    primaryDataSource: p
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "entities.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			_, _, err := LoadCatalog(path)
			require.Error(t, err)
		})
	}
}
