package worker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/lifedash/receiptsd/internal/config"
)

// ErrNoWorkerCommand is returned when neither worker_run_cmd nor worker_dir is
// configured, so no worker executable can be resolved.
var ErrNoWorkerCommand = errors.New("no worker command configured: set WORKER_RUN_CMD or WORKER_DIR")

// Invocation is a ready-to-spawn worker command line. It is built once from a
// store selection and consumed exactly once by Runner.Run.
type Invocation struct {
	Path   string   // executable
	Args   []string // arguments, already in final shape
	Dir    string   // working directory; empty means inherit
	Stores []string // the originating store selection, tagged onto events
}

// BuildInvocation resolves the worker command from config and derives the
// argument shape from the store selection:
//
//	empty selection  -> --all
//	one store        -> --store <id>
//	two or more      -> --stores <id,id,...> (caller order preserved)
func BuildInvocation(cfg *config.Config, stores []string) (Invocation, error) {
	args := storeArgs(stores)

	if cfg.WorkerRunCmd != "" {
		return Invocation{
			Path:   cfg.WorkerRunCmd,
			Args:   args,
			Dir:    cfg.WorkerDir,
			Stores: stores,
		}, nil
	}

	if cfg.WorkerDir == "" {
		return Invocation{}, ErrNoWorkerCommand
	}
	// Fall back to the worker's own virtualenv interpreter, then to the
	// system python3.
	python := filepath.Join(cfg.WorkerDir, ".venv", "bin", "python")
	if _, err := os.Stat(python); err != nil {
		python = "python3"
	}
	return Invocation{
		Path:   python,
		Args:   append([]string{"-m", "src.runner"}, args...),
		Dir:    cfg.WorkerDir,
		Stores: stores,
	}, nil
}

func storeArgs(stores []string) []string {
	switch len(stores) {
	case 0:
		return []string{"--all"}
	case 1:
		return []string{"--store", stores[0]}
	default:
		return []string{"--stores", strings.Join(stores, ",")}
	}
}
