package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type plansFile struct {
	Plans []Plan `yaml:"plans"`
}

// LoadRegistry builds the plan enumeration from the compiled-in defaults,
// optionally overridden or extended by a YAML file. A missing file is not an
// error; a malformed one is.
func LoadRegistry(path string) (*Registry, error) {
	plans := DefaultPlans()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read plans file: %w", err)
			}
		} else {
			var f plansFile
			if err := yaml.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("parse plans file: %w", err)
			}
			plans = append(plans, f.Plans...)
		}
	}

	return NewRegistry(plans)
}
