package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"docgen/pkg/domain"
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Enum       []string          `yaml:"enum"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

// errorCodes are the values the HTTP layer puts in ErrorResponse.code.
var errorCodes = []string{"validation_error", "not_found", "not_ready", "rate_limited", "unavailable", "internal_error"}

// operations lists every route the server registers.
var operations = []struct {
	path   string
	method string
}{
	{"/health", "get"},
	{"/api/info", "get"},
	{"/providers", "get"},
	{"/upload", "post"},
	{"/generate", "post"},
	{"/status/{job_id}", "get"},
	{"/download/{job_id}", "get"},
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := checkDoc(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI contract check passed.")
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// checkDoc returns every contract violation found in doc.
func checkDoc(doc openAPIDoc) error {
	var errs []error
	for _, op := range operations {
		methods, ok := doc.Paths[op.path]
		if !ok {
			errs = append(errs, fmt.Errorf("path %s missing", op.path))
			continue
		}
		if _, ok := methods[op.method]; !ok {
			errs = append(errs, fmt.Errorf("%s %s missing", strings.ToUpper(op.method), op.path))
		}
	}

	if s, err := getSchema(doc, "ErrorResponse"); err != nil {
		errs = append(errs, err)
	} else if err := validateErrorResponse(s); err != nil {
		errs = append(errs, err)
	}

	statuses := []string{
		string(domain.JobPending),
		string(domain.JobGenerating),
		string(domain.JobRendering),
		string(domain.JobCompleted),
		string(domain.JobFailed),
	}
	if s, err := getSchema(doc, "JobStatus"); err != nil {
		errs = append(errs, err)
	} else if err := ensureSameSet("JobStatus.enum", s.Enum, statuses); err != nil {
		errs = append(errs, err)
	}

	if s, err := getSchema(doc, "FileResult"); err != nil {
		errs = append(errs, err)
	} else {
		fileStatuses := []string{string(domain.FileExtracted), string(domain.FileFailed)}
		if err := ensureSameSet("FileResult.status.enum", s.Properties["status"].Enum, fileStatuses); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	return ensureSameSet("ErrorResponse.code.enum", s.Properties["code"].Enum, errorCodes)
}

func ensureSameSet(name string, got, want []string) error {
	g := append([]string(nil), got...)
	w := append([]string(nil), want...)
	sort.Strings(g)
	sort.Strings(w)
	if strings.Join(g, ",") != strings.Join(w, ",") {
		return fmt.Errorf("%s mismatch: %v vs %v", name, g, w)
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
