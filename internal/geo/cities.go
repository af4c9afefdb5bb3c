package geo

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed cities.yaml
var defaultTableYAML []byte

// ErrInvalidTable indicates the city table source could not be parsed or is inconsistent.
var ErrInvalidTable = errors.New("geo: invalid city table")

// City is a selectable city and the province it belongs to.
type City struct {
	Name     string `yaml:"name" json:"name"`
	Province string `yaml:"province" json:"province"`
}

// Region groups cities for the selection list.
type Region struct {
	Name   string `yaml:"name" json:"name"`
	Cities []City `yaml:"cities" json:"cities"`
}

type tableFile struct {
	Regions []Region `yaml:"regions"`
}

// Table is an immutable city -> province lookup preserving the display grouping.
type Table struct {
	regions   []Region
	provinces map[string]string
}

// Default returns the table embedded in the binary.
func Default() *Table {
	table, err := Parse(defaultTableYAML)
	if err != nil {
		panic(fmt.Sprintf("geo: embedded city table: %v", err))
	}
	return table
}

// Load reads a table from path, falling back to the embedded table when path is empty.
func Load(path string) (*Table, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geo: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML table. City names must be unique and every city needs a province.
func Parse(raw []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if len(file.Regions) == 0 {
		return nil, fmt.Errorf("%w: no regions", ErrInvalidTable)
	}

	table := &Table{provinces: make(map[string]string)}
	for _, region := range file.Regions {
		name := strings.TrimSpace(region.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: region without name", ErrInvalidTable)
		}
		out := Region{Name: name, Cities: make([]City, 0, len(region.Cities))}
		for _, city := range region.Cities {
			cityName := strings.TrimSpace(city.Name)
			province := strings.TrimSpace(city.Province)
			if cityName == "" || province == "" {
				return nil, fmt.Errorf("%w: incomplete city entry in %s", ErrInvalidTable, name)
			}
			if _, dup := table.provinces[cityName]; dup {
				return nil, fmt.Errorf("%w: duplicate city %s", ErrInvalidTable, cityName)
			}
			table.provinces[cityName] = province
			out.Cities = append(out.Cities, City{Name: cityName, Province: province})
		}
		table.regions = append(table.regions, out)
	}
	return table, nil
}

// Province returns the province for city, or "" when the city is not in the table.
func (t *Table) Province(city string) string {
	if t == nil {
		return ""
	}
	return t.provinces[city]
}

// Contains reports whether the city is selectable.
func (t *Table) Contains(city string) bool {
	if t == nil {
		return false
	}
	_, ok := t.provinces[city]
	return ok
}

// Regions returns a copy of the grouped selection list.
func (t *Table) Regions() []Region {
	if t == nil {
		return nil
	}
	out := make([]Region, len(t.regions))
	for i, region := range t.regions {
		cities := make([]City, len(region.Cities))
		copy(cities, region.Cities)
		out[i] = Region{Name: region.Name, Cities: cities}
	}
	return out
}

// Len returns the number of cities.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.provinces)
}
