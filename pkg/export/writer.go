package export

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/sensboxd/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// WriteJobs writes each job to dir, at most concurrency files at a time. It
// returns the written paths in job order.
func WriteJobs(ctx context.Context, dir string, jobs []Job, concurrency int) ([]string, error) {
	if len(jobs) == 0 {
		return nil, ErrNoDataToExport
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	logger := logging.NewLogger("export")
	paths := make([]string, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, safeFilename(job.Filename))
			if err := writeFile(path, job); err != nil {
				return err
			}
			paths[i] = path
			logger.Debug().
				Str("file", path).
				Int("rows", job.ItemCount()).
				Msg("Export file written")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func writeFile(path string, job Job) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	if err := job.WriteCSV(w); err != nil {
		return err
	}
	return w.Flush()
}

// safeFilename keeps a job filename inside the output directory.
func safeFilename(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}
