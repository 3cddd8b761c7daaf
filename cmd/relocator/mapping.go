package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadMapping merges a yaml mapping file (source id: destination id) with
// src=dst pairs from the command line. Pairs win over the file.
func loadMapping(pairs []string, file string) (map[string]string, error) {
	mapping := make(map[string]string)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read mapping file: %w", err)
		}
		if err := yaml.Unmarshal(data, &mapping); err != nil {
			return nil, fmt.Errorf("parse mapping file %s: %w", file, err)
		}
	}
	for _, p := range pairs {
		src, dst, ok := strings.Cut(p, "=")
		src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
		if !ok || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid user mapping %q (want source=destination)", p)
		}
		mapping[src] = dst
	}
	for src, dst := range mapping {
		if src == "" || dst == "" {
			return nil, fmt.Errorf("user mapping has an empty id (%q: %q)", src, dst)
		}
	}
	return mapping, nil
}
