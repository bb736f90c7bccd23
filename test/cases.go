package test

import (
	"embed"
	"io/fs"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed cases
var casesFS embed.FS

// TestCase is a merge scenario between two leaves of a common root.
type TestCase struct {
	// Description is a simple description for the test case.
	Description string
	// Schema is the template source of the collection.
	Schema string
	// Trivial marks a collection without record identity.
	Trivial bool
	// Root contains the records of the common root changeset.
	Root []Record
	// Leaves contains the edits applied on top of the root by each leaf.
	Leaves []Leaf
	// Expect contains the expected merge outcome.
	Expect Expect
}

// Record is a record staged by a changeset.
type Record struct {
	RecID  string         `yaml:"recid"`
	Type   string         `yaml:"type"`
	Fields map[string]any `yaml:"fields"`
}

// Leaf is a changeset committed on top of the root.
type Leaf struct {
	User      string
	Timestamp int64
	// Add contains records added or replaced by the leaf.
	Add []Record
	// Set contains single field updates.
	Set []Update
	// Delete contains the identities of deleted records.
	Delete []string
}

// Update sets a field of an existing record. A null value removes the field.
type Update struct {
	RecID string `yaml:"recid"`
	Field string `yaml:"field"`
	Value any    `yaml:"value"`
}

// Expect is the expected outcome of merging the leaves.
type Expect struct {
	// Error is a substring of the expected error.
	Error string
	// State is the final automerge state.
	State string
	// Counts contains the expected classification counts.
	Counts map[string]int
	// Uniqified is the expected number of uniqify decisions.
	Uniqified int
	// Records contains the expected records of the merged changeset per
	// record type. Record ids are compared only when the expectation sets them.
	Records map[string][]Record
}

// TestCasePaths returns a list of all test case file paths.
func TestCasePaths() (paths []string, _ error) {
	return paths, fs.WalkDir(casesFS, "cases", func(path string, d fs.DirEntry, err error) error {
		if filepath.Ext(path) == ".yaml" {
			paths = append(paths, path)
		}
		return err
	})
}

// LoadTestCase loads and parses a test case file.
func LoadTestCase(path string) (*TestCase, error) {
	data, err := fs.ReadFile(casesFS, path)
	if err != nil {
		return nil, err
	}
	var testCase TestCase
	if err := yaml.Unmarshal(data, &testCase); err != nil {
		return nil, err
	}
	return &testCase, nil
}
