package payment

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Package is one purchasable credit bundle. The table is static
// configuration, not computed logic; the server owns the authoritative
// copy and rejects unknown identifiers.
type Package struct {
	ID          string  `toml:"id"`
	Name        string  `toml:"name"`
	Credits     int     `toml:"credits"`
	Price       float64 `toml:"price"`
	Description string  `toml:"description"`
}

type packagesFile struct {
	Packages []Package `toml:"package"`
}

// DefaultPackages returns the built-in credit bundles.
func DefaultPackages() []Package {
	return []Package{
		{ID: "starter", Name: "Starter", Credits: 100, Price: 9.90, Description: "100 credits for occasional batches"},
		{ID: "pro", Name: "Pro", Credits: 500, Price: 39.90, Description: "500 credits for regular sellers"},
		{ID: "enterprise", Name: "Enterprise", Credits: 2000, Price: 129.90, Description: "2000 credits for storefront catalogs"},
	}
}

// LoadPackages reads the package table from a TOML file, falling back
// to the built-in defaults when no path is given.
func LoadPackages(path string) ([]Package, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPackages(), nil
	}
	var file packagesFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("payment: load packages: %w", err)
	}
	if len(file.Packages) == 0 {
		return nil, fmt.Errorf("payment: %s defines no packages", path)
	}
	for _, p := range file.Packages {
		if p.ID == "" || p.Credits <= 0 || p.Price <= 0 {
			return nil, fmt.Errorf("payment: invalid package entry %q in %s", p.ID, path)
		}
	}
	return file.Packages, nil
}

// FindPackage looks an identifier up in the table.
func FindPackage(packages []Package, id string) (Package, bool) {
	for _, p := range packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}
