// Package file provides file-based persistence of workflows and executions.
//
// Every record is a JSON file named after its id under workflows/ or
// executions/. A record expires when its file was last written longer ago
// than the kind's TTL; expired files are skipped and removed on load.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

const (
	workflowsDir  = "workflows"
	executionsDir = "executions"
)

var errInvalidID = errors.New("invalid record id")

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root    string
	options persistence.Options
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string, options persistence.Options, logger *slog.Logger) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:    cleanRoot,
		options: options,
		logger:  logger.With("module", "file_persistence"),
		now:     time.Now,
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists and is writable.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(fp.root, 0o750)
	if err != nil {
		return persistence.NewError("health", "root", fp.root, err)
	}

	marker, err := os.CreateTemp(fp.root, ".health-*")
	if err != nil {
		return persistence.NewError("health", "root", fp.root, err)
	}

	_ = marker.Close()

	return os.Remove(marker.Name())
}

func (fp *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return loadAll[models.Workflow](ctx, fp, workflowsDir, persistence.KindWorkflow, fp.options.WorkflowTTL)
}

func (fp *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	return fp.save(workflowsDir, persistence.KindWorkflow, workflow.ID, workflow)
}

func (fp *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	return fp.delete(workflowsDir, persistence.KindWorkflow, id)
}

func (fp *Persistence) Executions(ctx context.Context) ([]*models.WorkflowExecution, error) {
	return loadAll[models.WorkflowExecution](ctx, fp, executionsDir, persistence.KindExecution, fp.options.ExecutionTTL)
}

func (fp *Persistence) SaveExecution(_ context.Context, execution *models.WorkflowExecution) error {
	return fp.save(executionsDir, persistence.KindExecution, execution.ID, execution)
}

func (fp *Persistence) DeleteExecution(_ context.Context, id string) error {
	return fp.delete(executionsDir, persistence.KindExecution, id)
}

func (fp *Persistence) recordPath(dir, id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", errInvalidID, id)
	}

	return filepath.Join(fp.root, dir, id+".json"), nil
}

// save writes to a temporary file and renames it so readers never see a partial record.
func (fp *Persistence) save(dir, kind, id string, record any) error {
	filePath, err := fp.recordPath(dir, id)
	if err != nil {
		return persistence.NewError("save", kind, id, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return persistence.NewError("save", kind, id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err = os.MkdirAll(filepath.Dir(filePath), 0o750)
	if err != nil {
		return persistence.NewError("save", kind, id, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), "."+id+"-*.tmp")
	if err != nil {
		return persistence.NewError("save", kind, id, err)
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(tmp.Name(), filePath)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return persistence.NewError("save", kind, id, err)
	}

	return nil
}

func (fp *Persistence) delete(dir, kind, id string) error {
	filePath, err := fp.recordPath(dir, id)
	if err != nil {
		return persistence.NewError("delete", kind, id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err = os.Remove(filePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return persistence.NewError("delete", kind, id, err)
	}

	return nil
}

func loadAll[T any](ctx context.Context, fp *Persistence, dir, kind string, ttl time.Duration) ([]*T, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(fp.root, dir))
	if errors.Is(err, fs.ErrNotExist) {
		return []*T{}, nil
	}

	if err != nil {
		return nil, persistence.NewError("list", kind, "", err)
	}

	records := make([]*T, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}

		filePath := filepath.Join(fp.root, dir, name)

		info, err := entry.Info()
		if err != nil {
			return nil, persistence.NewError("list", kind, name, err)
		}

		if ttl > 0 && fp.now().Sub(info.ModTime()) > ttl {
			fp.logger.InfoContext(ctx, "Removing expired record", "kind", kind, "file", name)

			if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				fp.logger.WarnContext(ctx, "Failed to remove expired record", "kind", kind, "file", name, "error", err)
			}

			continue
		}

		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, persistence.NewError("list", kind, name, err)
		}

		record := new(T)
		if err := json.Unmarshal(data, record); err != nil {
			fp.logger.WarnContext(ctx, "Skipping unreadable record", "kind", kind, "file", name, "error", err)

			continue
		}

		records = append(records, record)
	}

	return records, nil
}
