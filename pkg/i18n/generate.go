package i18n

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocaleReport summarises one generated locale file
type LocaleReport struct {
	Locale  string `json:"locale"`
	Path    string `json:"path"`
	Keys    int    `json:"keys"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Created bool   `json:"created"`
}

// GenerateLocales reads dir/en.json and writes dir/<locale>.json for every
// other supported locale. Existing translations are kept, missing keys get the
// English text, and keys no longer present in en.json are dropped.
func GenerateLocales(dir string) ([]LocaleReport, error) {
	source, err := readLocale(filepath.Join(dir, DefaultLocale+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read source locale: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("source locale %s.json not found in %s", DefaultLocale, dir)
	}
	total := countLeaves(source)

	var reports []LocaleReport
	for _, locale := range Supported {
		if locale == DefaultLocale {
			continue
		}
		path := filepath.Join(dir, locale+".json")
		existing, err := readLocale(path)
		if err != nil {
			return reports, fmt.Errorf("failed to read %s: %w", path, err)
		}

		report := LocaleReport{Locale: locale, Path: path, Keys: total, Created: existing == nil}
		merged := merge(source, existing, &report)
		var stale []string
		walkMissing(existing, source, "", &stale)
		report.Removed = len(stale)

		if err := writeLocale(path, merged); err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// MissingKeys lists dotted key paths present in en.json but absent from locale
func MissingKeys(dir, locale string) ([]string, error) {
	source, err := readLocale(filepath.Join(dir, DefaultLocale+".json"))
	if err != nil {
		return nil, err
	}
	target, err := readLocale(filepath.Join(dir, locale+".json"))
	if err != nil {
		return nil, err
	}
	var missing []string
	walkMissing(source, target, "", &missing)
	sort.Strings(missing)
	return missing, nil
}

func readLocale(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func writeLocale(path string, data map[string]interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// merge follows the shape of source, taking leaf strings from existing where
// they exist with a matching shape
func merge(source, existing map[string]interface{}, report *LocaleReport) map[string]interface{} {
	out := make(map[string]interface{}, len(source))
	for key, srcVal := range source {
		var have interface{}
		if existing != nil {
			have = existing[key]
		}
		switch sv := srcVal.(type) {
		case map[string]interface{}:
			sub, _ := have.(map[string]interface{})
			out[key] = merge(sv, sub, report)
		default:
			if s, ok := have.(string); ok && strings.TrimSpace(s) != "" {
				out[key] = s
			} else {
				out[key] = srcVal
				report.Added++
			}
		}
	}
	return out
}

func countLeaves(m map[string]interface{}) int {
	n := 0
	for _, v := range m {
		if sub, ok := v.(map[string]interface{}); ok {
			n += countLeaves(sub)
		} else {
			n++
		}
	}
	return n
}

func walkMissing(source, target map[string]interface{}, prefix string, missing *[]string) {
	for key, srcVal := range source {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		var have interface{}
		if target != nil {
			have = target[key]
		}
		if sub, ok := srcVal.(map[string]interface{}); ok {
			tsub, _ := have.(map[string]interface{})
			walkMissing(sub, tsub, path, missing)
			continue
		}
		if _, ok := have.(string); !ok {
			*missing = append(*missing, path)
		}
	}
}
