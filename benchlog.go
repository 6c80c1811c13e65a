package gemmbatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// BenchmarkResult captures one benchmark run of the batched pipeline.
type BenchmarkResult struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"` // "pass" or "fail"
	Batches   int           `json:"batches,omitempty"`
	GFlops    float64       `json:"gflops,omitempty"`
	NsPerOp   float64       `json:"ns_per_op,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// BenchmarkLogger appends results to a JSON session file, flushing after
// every record so a crash loses nothing.
type BenchmarkLogger struct {
	mu          sync.Mutex
	results     []BenchmarkResult
	sessionFile string
}

// NewBenchmarkLogger starts a session file named after sessionName in
// logDir, creating the directory as needed.
func NewBenchmarkLogger(logDir, sessionName string) (*BenchmarkLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	timestamp := time.Now().Format("20060102_150405")
	bl := &BenchmarkLogger{
		sessionFile: filepath.Join(logDir, fmt.Sprintf("%s_%s.json", sessionName, timestamp)),
	}
	return bl, bl.flush()
}

// Log records one result and flushes the session file.
func (bl *BenchmarkLogger) Log(result BenchmarkResult) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	result.Timestamp = time.Now()
	bl.results = append(bl.results, result)
	return bl.flush()
}

// SessionFile returns the path of the session file.
func (bl *BenchmarkLogger) SessionFile() string {
	return bl.sessionFile
}

func (bl *BenchmarkLogger) flush() error {
	data, err := json.MarshalIndent(bl.results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return os.WriteFile(bl.sessionFile, data, 0o644)
}
