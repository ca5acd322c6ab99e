// Package devseed loads fixture files used by the mock runtime and the
// sandbox server. Files are YAML; JSON documents are accepted as well.
package devseed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the top-level layout of a seed document. Every section is
// optional.
type File struct {
	CStore  []CStoreSeedEntry `yaml:"cstore"`
	Cache   []CacheSeedEntry  `yaml:"cache"`
	Records []RecordSeedEntry `yaml:"records"`
}

// CStoreSeedEntry preloads a key in the mock chainstore. Value holds the JSON
// encoding of the YAML value.
type CStoreSeedEntry struct {
	Key   string
	Value json.RawMessage
}

// CacheSeedEntry preloads an object cache entry. A zero TTL means the cache
// default.
type CacheSeedEntry struct {
	Key   string        `yaml:"key"`
	Value any           `yaml:"value"`
	TTL   time.Duration `yaml:"ttl"`
}

// RecordSeedEntry is a record served by the sandbox under Path. ID lists the
// primary key parts in declaration order.
type RecordSeedEntry struct {
	Path string         `yaml:"path"`
	ID   []any          `yaml:"id"`
	Data map[string]any `yaml:"data"`
}

type rawCStoreEntry struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

// UnmarshalYAML converts the YAML value into its JSON form.
func (e *CStoreSeedEntry) UnmarshalYAML(node *yaml.Node) error {
	var raw rawCStoreEntry
	if err := node.Decode(&raw); err != nil {
		return err
	}
	e.Key = raw.Key
	if raw.Value == nil {
		e.Value = json.RawMessage("null")
		return nil
	}
	data, err := json.Marshal(raw.Value)
	if err != nil {
		return fmt.Errorf("devseed: encode value for %q: %w", raw.Key, err)
	}
	e.Value = data
	return nil
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("devseed: path is required")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("devseed: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a seed document.
func Parse(data []byte) (*File, error) {
	var file File
	if len(bytes.TrimSpace(data)) == 0 {
		return &file, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("devseed: decode: %w", err)
	}
	if err := file.validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *File) validate() error {
	for i, e := range f.CStore {
		if strings.TrimSpace(e.Key) == "" {
			return fmt.Errorf("devseed: cstore entry %d missing key", i)
		}
	}
	for i, e := range f.Cache {
		if strings.TrimSpace(e.Key) == "" {
			return fmt.Errorf("devseed: cache entry %d missing key", i)
		}
	}
	for i, r := range f.Records {
		if strings.TrimSpace(r.Path) == "" {
			return fmt.Errorf("devseed: record %d missing path", i)
		}
		if len(r.ID) == 0 {
			return fmt.Errorf("devseed: record %d missing id", i)
		}
	}
	return nil
}

// LoadCStoreSeed returns the cstore section of the seed file at path.
func LoadCStoreSeed(path string) ([]CStoreSeedEntry, error) {
	file, err := Load(path)
	if err != nil {
		return nil, err
	}
	return file.CStore, nil
}

// LoadCacheSeed returns the cache section of the seed file at path.
func LoadCacheSeed(path string) ([]CacheSeedEntry, error) {
	file, err := Load(path)
	if err != nil {
		return nil, err
	}
	return file.Cache, nil
}
