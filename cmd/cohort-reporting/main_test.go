package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const definitionsYAML = `
- name: Male
  kind: gender
- name: EnrolledOnDate
  kind: patient-state
  parameters:
    - name: untilDate
      type: Date
- name: AgeRange
  kind: age
  parameters:
    - name: minAge
      type: Number
      default: "0"
    - name: maxAge
      type: Number
`

func definitionsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cohorts.yaml"), []byte(definitionsYAML), 0o644); err != nil {
		t.Fatalf("write definitions: %v", err)
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "cohort-reporting version dev") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestParseCommand(t *testing.T) {
	dir := definitionsDir(t)

	tests := []struct {
		name    string
		args    []string
		wantOut []string
		wantErr string
	}{
		{
			name:    "table",
			args:    []string{"--definitions-dir", dir, "parse", "[Male] and [AgeRange|maxAge=65]"},
			wantOut: []string{"normalized: [Male] AND [AgeRange|maxAge=65]", "operator", "maxAge=65"},
		},
		{
			name: "bindings table",
			args: []string{"--definitions-dir", dir, "parse",
				"--context", `{"report":{"startDate":"2024-01-31"}}`,
				"[EnrolledOnDate|untilDate=${report.startDate}]"},
			wantOut: []string{"untilDate", "2024-01-31", "bound"},
		},
		{
			name:    "unresolved with suggestion",
			args:    []string{"--definitions-dir", dir, "parse", "[Males]"},
			wantErr: "did you mean Male?",
		},
		{
			name:    "syntax error",
			args:    []string{"--definitions-dir", dir, "parse", "[Male] AND"},
			wantErr: "SyntaxError",
		},
		{
			name:    "too long",
			args:    []string{"--definitions-dir", dir, "--max-length", "5", "parse", "[Male]"},
			wantErr: "SyntaxError",
		},
		{
			name:    "bad context",
			args:    []string{"--definitions-dir", dir, "parse", "--context", "{", "[Male]"},
			wantErr: "invalid --context",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			for _, want := range tt.wantOut {
				if !strings.Contains(out, want) {
					t.Errorf("output should contain %q, got:\n%s", want, out)
				}
			}
		})
	}
}

func TestParseCommandJSON(t *testing.T) {
	dir := definitionsDir(t)

	out, err := execute(t, "--definitions-dir", dir, "parse", "-o", "json",
		"--context", `{"limit": 40}`, "[AgeRange|maxAge=${limit + 25}]")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var res struct {
		Normalized string `json:"normalized"`
		Tokens     []map[string]any
		Bindings   []struct {
			Definition string `json:"definition"`
			Values     []struct {
				Value  any    `json:"value"`
				Source string `json:"source"`
			} `json:"values"`
		} `json:"bindings"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if res.Normalized != "[AgeRange|maxAge=${limit + 25}]" {
		t.Errorf("normalized = %q", res.Normalized)
	}
	if len(res.Tokens) != 1 || res.Tokens[0]["type"] != "reference" {
		t.Errorf("unexpected tokens %v", res.Tokens)
	}
	if len(res.Bindings) != 1 || len(res.Bindings[0].Values) != 2 {
		t.Fatalf("unexpected bindings %+v", res.Bindings)
	}
	if v := res.Bindings[0].Values[1]; v.Value != 65.0 || v.Source != "bound" {
		t.Errorf("maxAge = %+v, want 65 bound", v)
	}
	if v := res.Bindings[0].Values[0]; v.Value != 0.0 || v.Source != "default" {
		t.Errorf("minAge = %+v, want 0 default", v)
	}
}

func TestHumanizeCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"english", []string{"humanize", "2024-07-15", "2024-07-05"}, "10 days ago", false},
		{"french", []string{"--locale", "fr", "humanize", "2024-07-15", "2024-07-05"}, "il y a 10 jours", false},
		{"spanish months", []string{"--locale", "es", "humanize", "2024-07-15", "2024-03-15"}, "hace 4 meses", false},
		{"future", []string{"humanize", "2024-07-15", "2030-01-01"}, "in the future", false},
		{"json", []string{"humanize", "-o", "json", "2024-07-15T12:00:00Z", "2024-07-14T12:00:00Z"}, `"phrase": "reporting.dateUtil.yesterday"`, false},
		{"bad date", []string{"humanize", "2024-07-15", "soon"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output should contain %q, got: %s", tt.want, out)
			}
		})
	}
}

func TestDefinitionsList(t *testing.T) {
	dir := definitionsDir(t)

	out, err := execute(t, "--definitions-dir", dir, "definitions", "list")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"AgeRange", "EnrolledOnDate", "Male", "minAge:Number", "(3 definitions)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q, got:\n%s", want, out)
		}
	}

	out, err = execute(t, "--definitions-dir", dir, "definitions", "list", "--kind", "age", "-o", "json")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var defs []map[string]any
	if err := json.Unmarshal([]byte(out), &defs); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(defs) != 1 || defs[0]["name"] != "AgeRange" {
		t.Errorf("expected only AgeRange, got %v", defs)
	}
}

func TestDefinitionsPersistInSQLite(t *testing.T) {
	dir := definitionsDir(t)
	db := filepath.Join(t.TempDir(), "cohort.db")

	if _, err := execute(t, "--store", "sqlite", "--store-path", db, "--definitions-dir", dir, "definitions", "list"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	out, err := execute(t, "--store", "sqlite", "--store-path", db, "definitions", "list")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !strings.Contains(out, "(3 definitions)") {
		t.Errorf("expected definitions to persist, got:\n%s", out)
	}
}

func TestInvalidStoreBackend(t *testing.T) {
	_, err := execute(t, "--store", "postgres", "definitions", "list")
	if err == nil || !strings.Contains(err.Error(), "store.backend") {
		t.Fatalf("expected store.backend error, got %v", err)
	}
}
