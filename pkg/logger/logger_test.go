package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONFileOutputCarriesContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := New(Config{Level: "debug", Format: "json", Output: path})

	log.WithComponent("pipeline").WithPostID("p1").WithStage("drafting").Info().Msg("Stage attempt")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	for key, want := range map[string]string{
		"component": "pipeline",
		"post_id":   "p1",
		"stage":     "drafting",
		"message":   "Stage attempt",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := New(Config{Level: "chatty", Format: "json", Output: path})

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") {
		t.Error("debug message written at info level")
	}
	if !strings.Contains(string(data), "shown") {
		t.Error("info message missing")
	}
}
