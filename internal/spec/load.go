package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML document into a Specification. Unknown keys are rejected
// so that typos surface before composition.
func Parse(name string, data []byte) (*Specification, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Specification
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return &s, nil
		}
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &s, nil
}

// LoadFile reads a single specification file.
func LoadFile(path string) (*Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Load reads path as a file, or every *.yaml / *.yml file below it when path is a
// directory, and merges them into one Specification. Files are visited in lexical
// order; at most one file may declare an authenticator.
func Load(path string) (*Specification, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return LoadFile(path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	out := &Specification{}
	for _, f := range files {
		s, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		if err := Merge(out, s); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
	}
	return out, nil
}

// Merge appends src into dst.
func Merge(dst, src *Specification) error {
	dst.Models = append(dst.Models, src.Models...)
	dst.Entrypoints = append(dst.Entrypoints, src.Entrypoints...)
	dst.Validators = append(dst.Validators, src.Validators...)
	dst.Runtimes = append(dst.Runtimes, src.Runtimes...)
	if src.Authenticator != nil {
		if dst.Authenticator != nil {
			return fmt.Errorf("authenticator declared more than once")
		}
		dst.Authenticator = src.Authenticator
	}
	return nil
}
