package config

// StorageConfig configures the observation and belief dual stores.
type StorageConfig struct {
	// Dir holds observations.{db,idx} and beliefs.{db,idx}.
	Dir string `yaml:"dir"`

	// Dimensions is the fixed embedding length of every vector index.
	Dimensions int `yaml:"dimensions"`

	// CompressIndex gzips the serialized vector index.
	CompressIndex bool `yaml:"compress_index"`

	// RepairOnOpen rebuilds a vector index from stored embeddings when it
	// has diverged from its record store.
	RepairOnOpen bool `yaml:"repair_on_open"`
}

// DefaultStorageConfig returns the reference deployment layout.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Dir:          ".patina/storage",
		Dimensions:   384,
		RepairOnOpen: true,
	}
}
