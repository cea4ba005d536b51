// Package brands maps free-text bill vendors to the label patterns their
// payments carry on bank statements.
package brands

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed brands.yaml
var defaultDictionary []byte

// Brand is one known vendor
type Brand struct {
	Name    string   `yaml:"name"`
	Vendors []string `yaml:"vendors"`
	Pattern string   `yaml:"pattern"`

	re *regexp.Regexp
}

// MatchesLabel reports whether a bank label was issued by the brand
func (b *Brand) MatchesLabel(label string) bool {
	if b.re == nil {
		return false
	}
	return b.re.MatchString(label)
}

type dictionaryFile struct {
	Brands []*Brand `yaml:"brands"`
}

// Dictionary indexes brands by lowercased vendor alias
type Dictionary struct {
	brands  []*Brand
	byAlias map[string]*Brand
}

// Parse builds a dictionary from YAML content
func Parse(data []byte) (*Dictionary, error) {
	var file dictionaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse brand dictionary: %w", err)
	}

	d := &Dictionary{byAlias: make(map[string]*Brand)}
	for i, b := range file.Brands {
		if strings.TrimSpace(b.Name) == "" {
			return nil, fmt.Errorf("brand %d has no name", i)
		}
		if b.Pattern != "" {
			re, err := regexp.Compile("(?i)" + b.Pattern)
			if err != nil {
				return nil, fmt.Errorf("brand %s has invalid pattern: %w", b.Name, err)
			}
			b.re = re
		}
		d.brands = append(d.brands, b)
		d.byAlias[normalize(b.Name)] = b
		for _, v := range b.Vendors {
			d.byAlias[normalize(v)] = b
		}
	}
	return d, nil
}

// Load reads a dictionary from a YAML file
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read brand dictionary %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the embedded dictionary
func Default() *Dictionary {
	d, err := Parse(defaultDictionary)
	if err != nil {
		panic(fmt.Sprintf("embedded brand dictionary is invalid: %v", err))
	}
	return d
}

// Find returns the brand a vendor belongs to
func (d *Dictionary) Find(vendor string) (*Brand, bool) {
	if d == nil {
		return nil, false
	}
	b, ok := d.byAlias[normalize(vendor)]
	return b, ok
}

// Len returns the number of brands
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.brands)
}

// LabelAgrees reports whether an operation label is consistent with a vendor.
// A known brand is checked against its pattern; any other vendor must appear
// in the label. An empty vendor carries no hint and always agrees.
func (d *Dictionary) LabelAgrees(vendor, label string) bool {
	vendor = normalize(vendor)
	if vendor == "" {
		return true
	}
	if b, ok := d.Find(vendor); ok && b.re != nil {
		if b.MatchesLabel(label) {
			return true
		}
	}
	return strings.Contains(normalize(label), vendor)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
