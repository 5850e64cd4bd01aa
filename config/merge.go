package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// mergeIncludePath merges every *.yml/*.yaml fragment under ipath into
// raw: per-key union for mappings, concatenation for sequences, override
// for scalars (spec.md §6, §9 — implemented correctly regardless of the
// original's j2/k2 merge typo).
func mergeIncludePath(raw map[string]interface{}, ipath string) error {
	entries, err := os.ReadDir(ipath)
	if err != nil {
		log.WithFields(log.Fields{
			"include_path": ipath,
			"error":        err,
		}).Warn("config: include_path does not exist, skipping")
		return nil
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
			files = append(files, filepath.Join(ipath, name))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("reading include %s: %w", f, err)
		}
		var frag map[string]interface{}
		if err := yaml.Unmarshal(data, &frag); err != nil {
			return fmt.Errorf("parsing include %s: %w", f, err)
		}
		mergeInto(raw, frag)
		log.WithField("file", f).Info("config: loaded additional configuration")
	}
	return nil
}

// mergeInto merges src into dst in place, per spec.md's three merge rules.
func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		existing, present := dst[k]
		if !present {
			dst[k] = v
			continue
		}

		dstMap, dstIsMap := asMap(existing)
		srcMap, srcIsMap := asMap(v)
		if dstIsMap && srcIsMap {
			mergeInto(dstMap, srcMap)
			dst[k] = dstMap
			continue
		}

		dstSlice, dstIsSlice := existing.([]interface{})
		srcSlice, srcIsSlice := v.([]interface{})
		if dstIsSlice && srcIsSlice {
			dst[k] = append(append([]interface{}{}, dstSlice...), srcSlice...)
			continue
		}

		// Scalar (or mismatched types): override.
		dst[k] = v
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	}
	return nil, false
}
