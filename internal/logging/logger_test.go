package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func initToFile(t *testing.T, cfg Config) string {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "patina.log")
	cfg.DebugMode = true
	cfg.OutputPaths = []string{logPath}
	if err := Initialize(cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		_ = Initialize(Config{})
	})
	return logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	Sync()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(data)
}

func TestCategoriesWriteNamedEntries(t *testing.T) {
	logPath := initToFile(t, Config{Level: "debug", Format: "json"})

	Store("inserted %d rows", 3)
	KernelDebug("evaluated %s", "validation")
	Get(CategoryEmbedding).Warn("slow provider: %s", "ollama")

	content := readLog(t, logPath)
	for _, want := range []string{
		`"logger":"store"`,
		"inserted 3 rows",
		`"logger":"kernel"`,
		"evaluated validation",
		`"logger":"embedding"`,
		"slow provider: ollama",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Expected log to contain %q, got:\n%s", want, content)
		}
	}
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logPath := initToFile(t, Config{
		Level:      "debug",
		Categories: map[string]bool{"store": false},
	})

	if IsCategoryEnabled(CategoryStore) {
		t.Error("Expected store category to be disabled")
	}
	if !IsCategoryEnabled(CategoryKernel) {
		t.Error("Expected unlisted category to default to enabled")
	}

	Store("should not appear")
	Kernel("should appear")

	content := readLog(t, logPath)
	if strings.Contains(content, "should not appear") {
		t.Errorf("Disabled category leaked into log:\n%s", content)
	}
	if !strings.Contains(content, "should appear") {
		t.Errorf("Enabled category missing from log:\n%s", content)
	}
}

func TestLevelFiltering(t *testing.T) {
	logPath := initToFile(t, Config{Level: "warn"})

	StoreDebug("debug line")
	Store("info line")
	StoreWarn("warn line")

	content := readLog(t, logPath)
	if strings.Contains(content, "debug line") || strings.Contains(content, "info line") {
		t.Errorf("Lines below warn should be filtered:\n%s", content)
	}
	if !strings.Contains(content, "warn line") {
		t.Errorf("Expected warn line in log:\n%s", content)
	}
}

func TestProductionModeIsNoop(t *testing.T) {
	if err := Initialize(Config{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if IsDebugMode() {
		t.Error("Expected debug mode to be off")
	}
	if IsCategoryEnabled(CategoryStore) {
		t.Error("Expected categories to be disabled in production mode")
	}
	// Must not panic.
	Store("nothing %d", 1)
	Get(CategoryCLI).With("k", "v").Error("nothing")
	Zap(CategoryStore).Info("nothing")
}

func TestInvalidLevel(t *testing.T) {
	err := Initialize(Config{DebugMode: true, Level: "chatty"})
	if err == nil {
		t.Fatal("Expected error for invalid level")
	}
}

func TestConcurrentGet(t *testing.T) {
	initToFile(t, Config{Level: "info"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Get(CategoryKnowledge).Info("concurrent")
		}()
	}
	wg.Wait()

	if Get(CategoryKnowledge) != Get(CategoryKnowledge) {
		t.Error("Expected Get to return a cached logger")
	}
}

func TestTimer(t *testing.T) {
	logPath := initToFile(t, Config{Level: "debug"})

	timer := StartTimer(CategoryStore, "Insert")
	if elapsed := timer.Stop(); elapsed < 0 {
		t.Errorf("Expected non-negative duration, got %v", elapsed)
	}
	StartTimer(CategoryStore, "Reindex").StopWithThreshold(time.Nanosecond)

	content := readLog(t, logPath)
	if !strings.Contains(content, "Insert completed in") {
		t.Errorf("Expected timer entry, got:\n%s", content)
	}
	if !strings.Contains(content, "Reindex took") {
		t.Errorf("Expected threshold warning, got:\n%s", content)
	}
}
