package alerting

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadCatalogFromFile loads threshold overrides from a YAML file.
func LoadCatalogFromFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open thresholds file: %w", err)
	}
	defer f.Close()

	return LoadCatalog(f)
}

// LoadCatalog reads threshold overrides and merges them over the defaults.
// Rules in the document replace the default rule for the same parameter.
// The whole document is rejected if any rule is invalid.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var config CatalogConfig
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse thresholds YAML: %w", err)
	}
	return mergeDefaults(config.Thresholds)
}

// LoadCatalogFromBytes loads threshold overrides from YAML bytes.
func LoadCatalogFromBytes(data []byte) (*Catalog, error) {
	var config CatalogConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds YAML: %w", err)
	}
	return mergeDefaults(config.Thresholds)
}

func mergeDefaults(overrides []*ThresholdRule) (*Catalog, error) {
	// Duplicates within the document are an error.
	if _, err := NewCatalog(overrides); err != nil {
		return nil, err
	}

	replaced := make(map[string]bool, len(overrides))
	for _, r := range overrides {
		replaced[string(r.Parameter)] = true
	}

	rules := make([]*ThresholdRule, 0, len(overrides)+8)
	for _, r := range DefaultRules() {
		if !replaced[string(r.Parameter)] {
			rules = append(rules, r)
		}
	}
	rules = append(rules, overrides...)
	return NewCatalog(rules)
}
