package model

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// LabelTable is the class list of a detector. It is read either from a JSON
// sidecar file or from the metadata Ultralytics embeds in exported models.
type LabelTable struct {
	Names     []string `json:"names"`
	ImageSize int      `json:"image_size,omitempty"`
}

// ReadLabelFile reads a JSON label table such as
//
//	{"names": ["Bechamel", "Koshary", "Molokhya"], "image_size": 640}
func ReadLabelFile(path string) (*LabelTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}

	var table LabelTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}
	if err := table.validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

func (t *LabelTable) validate() error {
	if len(t.Names) == 0 {
		return fmt.Errorf("label table has no names")
	}
	for i, name := range t.Names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("label %d is empty", i)
		}
	}
	if t.ImageSize < 0 {
		return fmt.Errorf("invalid image size %d", t.ImageSize)
	}
	return nil
}

var namesEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")`)

// ParseNames parses the "names" metadata value of an Ultralytics export, a
// Python dict literal like {0: 'Bechamel', 1: "Om Ali's"}. Indices must
// cover 0..n-1.
func ParseNames(s string) ([]string, error) {
	matches := namesEntry.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no class names in %q", s)
	}

	names := make([]string, len(matches))
	seen := make([]bool, len(matches))
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx >= len(names) {
			return nil, fmt.Errorf("class index %s out of range", m[1])
		}
		if seen[idx] {
			return nil, fmt.Errorf("duplicate class index %d", idx)
		}
		name := m[2]
		if name == "" {
			name = m[3]
		}
		name = strings.NewReplacer(`\'`, `'`, `\"`, `"`, `\\`, `\`).Replace(name)
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("class %d has an empty name", idx)
		}
		names[idx] = name
		seen[idx] = true
	}
	return names, nil
}

// ParseImageSize parses the "imgsz" metadata value, "[640, 640]" or "640".
// It returns 0 when the value is absent or not square.
func ParseImageSize(s string) int {
	s = strings.Trim(strings.TrimSpace(s), "[]()")
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ",")
	first, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || first <= 0 {
		return 0
	}
	for _, p := range parts[1:] {
		if v, err := strconv.Atoi(strings.TrimSpace(p)); err != nil || v != first {
			return 0
		}
	}
	return first
}
