package auth

import (
	"embed"
	"io/fs"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

//go:embed data/templates
var templatesFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() fs.FS {
	sub, err := fs.Sub(migrationsFS, "data/sql/migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetTemplatesFS returns the email templates for this package
func GetTemplatesFS() fs.FS {
	sub, err := fs.Sub(templatesFS, "data/templates")
	if err != nil {
		panic(err)
	}
	return sub
}
