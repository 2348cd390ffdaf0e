package signal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// specFile is the on-disk shape of the feature configuration.
type specFile struct {
	Features []FeatureSpec `yaml:"features"`
}

// LoadSpecs reads feature normalization specs from a YAML file.
func LoadSpecs(path string) ([]FeatureSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature specs: %w", err)
	}

	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse feature specs: %w", err)
	}

	// Defaults: reject missing features and target [0, 1] unless declared.
	for i := range file.Features {
		if file.Features[i].MissingPolicy == "" {
			file.Features[i].MissingPolicy = MissingReject
		}
		if file.Features[i].TargetLow == 0 && file.Features[i].TargetHigh == 0 {
			file.Features[i].TargetHigh = 1
		}
		if file.Features[i].Transform == TransformZScore && file.Features[i].ClipStdDevs == 0 {
			file.Features[i].ClipStdDevs = 3
		}
	}

	for _, spec := range file.Features {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Features, nil
}
