package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteBundle writes a minimal valid persona bundle into dir and returns
// its path. Extra top-level JSON fields can be appended via extra (each a
// complete `"key": value` fragment).
func WriteBundle(t testing.TB, dir, id string, extra ...string) string {
	t.Helper()

	body := fmt.Sprintf(`{
  "id": %q,
  "name": "Test Persona %s",
  "version": "1.0.0",
  "voice": {"voice_id": "voice-test"},
  "system_prompt": "You are a test persona."`, id, id)
	for _, fragment := range extra {
		body += ",\n  " + fragment
	}
	body += "\n}\n"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir persona dir: %v", err)
	}
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write persona bundle: %v", err)
	}
	return path
}
