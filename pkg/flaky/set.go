package flaky

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultReportFile is the file name of the flaky test report
const DefaultReportFile = "xfailflake.json"

// Entry attaches a marker to a test
type Entry struct {
	// Name is the test name as printed by go test, subtests included
	Name string `yaml:"name"`

	// Package is the import path of the test package; empty matches any package
	Package string `yaml:"package,omitempty"`

	// Path is the file declaring the test, informational only
	Path string `yaml:"path,omitempty"`

	Marker `yaml:",inline"`
}

// Set is a collection of flaky markers, usually loaded from a YAML file
type Set struct {
	// JiraPrefix overrides DefaultJiraPrefix
	JiraPrefix string `yaml:"jira_prefix,omitempty"`

	Tests []Entry `yaml:"tests"`
}

// LoadFile reads a marker set from a YAML file
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is supplied by the user
	if err != nil {
		return nil, fmt.Errorf("failed to read flaky markers: %w", err)
	}
	return Parse(data)
}

// Parse decodes a marker set from YAML
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse flaky markers: %w", err)
	}
	return &s, nil
}

// Validate checks every marker in the set
func (s *Set) Validate() error {
	var errs []error
	for _, e := range s.Tests {
		if err := e.Validate(s.JiraPrefix); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the marker for the named test in pkg
func (s *Set) Lookup(pkg, name string) (Marker, bool) {
	if s == nil {
		return Marker{}, false
	}
	for _, e := range s.Tests {
		if e.Name == name && (e.Package == "" || e.Package == pkg) {
			return e.Marker, true
		}
	}
	return Marker{}, false
}

// Expectation returns the expectation for the named test in pkg, nil when the test is not marked
func (s *Set) Expectation(pkg, name string) *Expectation {
	m, ok := s.Lookup(pkg, name)
	if !ok {
		return nil
	}
	return m.Expectation()
}

// ReportEntry is one element of the flaky test report
type ReportEntry struct {
	Name       string `json:"name"`
	Package    string `json:"package"`
	Path       string `json:"path"`
	XFailFlake Marker `json:"xfailflake"`
}

// Report lists every marked test
func (s *Set) Report() []ReportEntry {
	report := make([]ReportEntry, 0, len(s.Tests))
	for _, e := range s.Tests {
		report = append(report, ReportEntry{
			Name:       e.Name,
			Package:    e.Package,
			Path:       e.Path,
			XFailFlake: e.Marker,
		})
	}
	return report
}

// WriteReport writes entries as a JSON array to path
func WriteReport(path string, entries []ReportEntry) error {
	if entries == nil {
		entries = []ReportEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode flaky report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 - report is meant to be shared
		return fmt.Errorf("failed to write flaky report: %w", err)
	}
	return nil
}
