package integration

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// These tests validate the watched definitions directory:
//   cohort-reporting serve --definitions-dir=./definitions --watch
//
// Files are hot-reloaded: add/modify/delete -> register/update/remove.
// They require COHORT_DEFINITIONS_DIR to point at the server's watched dir.

// skipIfNoWatchedDir skips the test if no watched directory is configured.
func skipIfNoWatchedDir(t *testing.T) string {
	t.Helper()
	requireServer(t)
	dir := os.Getenv("COHORT_DEFINITIONS_DIR")
	if dir == "" {
		t.Skip("COHORT_DEFINITIONS_DIR not set; skipping file-based directory watch test")
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Fatalf("COHORT_DEFINITIONS_DIR %q does not exist", dir)
	}
	return dir
}

// writeDefinitionFile writes content to name in the watched directory and
// removes it when the test ends.
func writeDefinitionFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write definition file %s: %v", path, err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}

func TestDirWatch_AddModifyRemove(t *testing.T) {
	dir := skipIfNoWatchedDir(t)

	name := uniqueName("Watched")
	path := writeDefinitionFile(t, dir, name+".yaml", "name: "+name+"\nkind: encounter\n")
	waitForStatus(t, name, http.StatusOK, 5*time.Second)

	v2 := "name: " + name + "\nkind: encounter\nparameters:\n  - name: program\n    type: Concept\n"
	if err := os.WriteFile(path, []byte(v2), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, body := parse(t, "["+name+"|program=1234]", nil)
		if status == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("parameter not picked up after modify: %d %v", status, body)
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitForStatus(t, name, http.StatusNotFound, 5*time.Second)
}

func TestDirWatch_JSONFile(t *testing.T) {
	dir := skipIfNoWatchedDir(t)

	name := uniqueName("WatchedJSON")
	writeDefinitionFile(t, dir, name+".json", `{"name": "`+name+`", "kind": "age"}`)
	body := waitForStatus(t, name, http.StatusOK, 5*time.Second)
	if body["kind"] != "age" {
		t.Errorf("kind = %v, want age", body["kind"])
	}
}

func TestDirWatch_InvalidFileIsIgnored(t *testing.T) {
	dir := skipIfNoWatchedDir(t)

	name := uniqueName("Broken")
	writeDefinitionFile(t, dir, name+".yaml", "name: "+name+"\nkind: planet\n")
	time.Sleep(time.Second)

	status, _ := doJSON(t, http.MethodGet, definitionURL(name), nil)
	if status != http.StatusNotFound {
		t.Errorf("invalid file should not register a definition, got %d", status)
	}
}
