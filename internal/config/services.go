package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/authgate/authgate/model"
)

// LoadServiceFiles scans the given directories for service descriptor files
// (*.json, *.yaml, *.yml, *.toml) and parses them. Missing directories are
// skipped; unparsable files are errors.
func LoadServiceFiles(dirs []string) ([]model.CreateService, error) {
	var services []model.CreateService

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read service dir %s: %w", dir, err)
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if !entry.IsDir() {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir, name)
			create, ok, err := parseServiceFile(path)
			if err != nil {
				return nil, err
			}
			if ok {
				services = append(services, create)
			}
		}
	}

	return services, nil
}

func parseServiceFile(path string) (model.CreateService, bool, error) {
	var create model.CreateService

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json", ".yaml", ".yml", ".toml":
	default:
		return create, false, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return create, false, fmt.Errorf("read service file %s: %w", path, err)
	}

	switch ext {
	case ".json":
		err = json.Unmarshal(contents, &create)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(contents, &create)
	case ".toml":
		err = toml.Unmarshal(contents, &create)
	}
	if err != nil {
		return create, false, fmt.Errorf("parse service file %s: %w", path, err)
	}

	if create.To == "" {
		return create, false, fmt.Errorf("service file %s: missing destination URL", path)
	}

	return create, true, nil
}
