package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Unit family names. Conversion only ever happens within one family.
const (
	FamilyWeight = "weight"
	FamilyVolume = "volume"
	FamilyCount  = "count"
)

// UnitCatalog maps each unit family to its units and their conversion rate into
// the family's standard unit (100g for weight, liter for volume). Count units
// carry no rate (nil): they are priced per item, never converted by ratio.
// The Version is stamped onto every price record standardized with this catalog
// so stale conversions can be detected after a rate change.
type UnitCatalog struct {
	Version  string                         `json:"version"`
	Families map[string]map[string]*float64 `json:"families"`
}

// Rate returns the conversion rate of a weight or volume unit into its family's
// standard unit. Count units and unknown units have no rate.
func (c *UnitCatalog) Rate(unit string) (float64, bool) {
	for family, units := range c.Families {
		if family == FamilyCount {
			continue
		}
		if rate, ok := units[unit]; ok && rate != nil {
			return *rate, true
		}
	}
	return 0, false
}

// Family returns the family a unit belongs to.
func (c *UnitCatalog) Family(unit string) (string, bool) {
	for family, units := range c.Families {
		if _, ok := units[unit]; ok {
			return family, true
		}
	}
	return "", false
}

// IsCountUnit reports whether a unit is priced per item. Total over all
// strings: unknown units are simply not count units.
func (c *UnitCatalog) IsCountUnit(unit string) bool {
	if units, ok := c.Families[FamilyCount]; ok {
		_, found := units[unit]
		return found
	}
	return false
}

func rate(v float64) *float64 { return &v }

// DefaultUnitCatalog returns the compiled-in catalog used when no catalog file
// is present. Weight standardizes to 100g, volume to liters.
func DefaultUnitCatalog() *UnitCatalog {
	return &UnitCatalog{
		Version: "1",
		Families: map[string]map[string]*float64{
			FamilyWeight: {
				"100g": rate(1),
				"kg":   rate(10),
				"lb":   rate(4.5359),
				"oz":   rate(0.28350),
			},
			FamilyVolume: {
				"l": rate(1),
			},
			FamilyCount: {
				"EA": nil,
				"PK": nil,
			},
		},
	}
}

var (
	unitCatalog *UnitCatalog
	catalogLock sync.RWMutex
	catalogPath = "config/unit_catalog.json"
)

// LoadUnitCatalog loads the unit catalog from the given file, falling back to
// the compiled-in default when the file does not exist. An empty path keeps
// the previously configured location.
func LoadUnitCatalog(path string) error {
	catalogLock.Lock()
	defer catalogLock.Unlock()

	if path != "" {
		catalogPath = path
	}

	absPath, err := filepath.Abs(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %v", err)
	}

	data, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		unitCatalog = DefaultUnitCatalog()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read catalog file: %v", err)
	}

	var catalog UnitCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("failed to parse catalog: %v", err)
	}
	if catalog.Version == "" {
		return fmt.Errorf("catalog file is missing a version")
	}

	unitCatalog = &catalog
	return nil
}

// SaveUnitCatalog saves the current catalog to file.
func SaveUnitCatalog() error {
	catalogLock.Lock()
	defer catalogLock.Unlock()

	if unitCatalog == nil {
		return fmt.Errorf("no catalog loaded")
	}

	absPath, err := filepath.Abs(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %v", err)
	}

	data, err := json.MarshalIndent(unitCatalog, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %v", err)
	}

	if err := os.WriteFile(absPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog file: %v", err)
	}

	return nil
}

// GetUnitCatalog returns the loaded catalog, or the compiled-in default when
// LoadUnitCatalog has not been called.
func GetUnitCatalog() *UnitCatalog {
	catalogLock.RLock()
	defer catalogLock.RUnlock()

	if unitCatalog == nil {
		return DefaultUnitCatalog()
	}
	return unitCatalog
}
