// Package pipeline runs a cloud end to end: load, partition, infer,
// reattach and serialize, recording each stage in the provenance ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/banshee-data/cloudsplit/internal/config"
	"github.com/banshee-data/cloudsplit/internal/fsutil"
	"github.com/banshee-data/cloudsplit/internal/inference"
	"github.com/banshee-data/cloudsplit/internal/monitoring"
	"github.com/banshee-data/cloudsplit/internal/partition"
	"github.com/banshee-data/cloudsplit/internal/provenance"
	"github.com/banshee-data/cloudsplit/internal/serialize"
	"github.com/banshee-data/cloudsplit/internal/timeutil"
)

// Input names the cloud to process.
type Input struct {
	Path       string
	LabelsPath string // optional ground-truth labels, one per line
	Read       cloud.ReadOptions
}

// Summary describes a finished run.
type Summary struct {
	RunID          string
	Source         string
	Splits         partition.Splits
	InputPoints    int
	Partitions     int
	DroppedCells   int
	AssignedPoints int
	DroppedPoints  int
	Model          inference.ModelType
	Device         string
	Checkpoint     string
	OutputPath     string
	OutputWritten  bool
	Records        int
	Elapsed        time.Duration

	// Predictions holds one class per source point; 0 for points in
	// dropped cells.
	Predictions []int32
	Result      *partition.Result
}

// Runner wires the stages together. Store may be nil to run without a
// ledger. FS defaults to the OS filesystem and Clock to the wall clock.
type Runner struct {
	FS      fsutil.FileSystem
	Store   *provenance.Store
	Service inference.Server
	Clock   timeutil.Clock
}

func (r *Runner) fs() fsutil.FileSystem {
	if r.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return r.FS
}

func (r *Runner) clock() timeutil.Clock {
	if r.Clock == nil {
		return timeutil.RealClock{}
	}
	return r.Clock
}

// Run processes one cloud with cfg. Stages run strictly in order and the
// first error aborts; the ledger row is then marked failed.
func (r *Runner) Run(ctx context.Context, cfg *config.RunConfig, in Input) (*Summary, error) {
	if r.Service == nil {
		return nil, errors.New("pipeline: no inference service")
	}
	if cfg == nil {
		cfg = &config.RunConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	start := r.clock().Now()
	pc, err := load(in)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Source:      in.Path,
		Splits:      cfg.GetSplits(),
		InputPoints: pc.Len(),
	}
	if r.Store != nil {
		run := &provenance.Run{
			Source:      in.Path,
			Splits:      sum.Splits.String(),
			UseFeatures: cfg.GetUseFeatures(),
			InputPoints: pc.Len(),
		}
		if err := r.Store.StartRun(run); err != nil {
			return nil, err
		}
		sum.RunID = run.RunID
	}

	err = r.run(ctx, cfg, in, pc, sum)
	sum.Elapsed = r.clock().Since(start)
	if r.Store != nil {
		out := provenance.Outcome{
			AssignedPoints: sum.AssignedPoints,
			DroppedPoints:  sum.DroppedPoints,
			OutputPath:     sum.OutputPath,
			OutputWritten:  sum.OutputWritten,
		}
		if ferr := r.Store.FinishRun(sum.RunID, out, err); ferr != nil {
			if err == nil {
				return nil, ferr
			}
			monitoring.Logf("[pipeline] failed to record run failure: %v", ferr)
		}
	}
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[pipeline] %s: %d partitions, %d points predicted, %d dropped in %s",
		in.Path, sum.Partitions, sum.AssignedPoints, sum.DroppedPoints, sum.Elapsed.Round(time.Millisecond))
	return sum, nil
}

func load(in Input) (*cloud.PointCloud, error) {
	pc, err := cloud.Load(in.Path, in.Read)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", in.Path, err)
	}
	if in.LabelsPath != "" {
		labels, err := cloud.LoadLabels(in.LabelsPath)
		if err != nil {
			return nil, fmt.Errorf("load labels %s: %w", in.LabelsPath, err)
		}
		if len(labels) != pc.Len() {
			return nil, fmt.Errorf("labels file has %d rows for %d points", len(labels), pc.Len())
		}
		pc.Labels = labels
	}
	return pc, nil
}

func (r *Runner) run(ctx context.Context, cfg *config.RunConfig, in Input, pc *cloud.PointCloud, sum *Summary) error {
	res, err := partition.Split(sum.Splits, pc, partition.Options{
		UseFeatures: cfg.GetUseFeatures(),
		MinPoints:   cfg.GetMinPartitionPoints(),
	})
	if err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	sum.Result = res
	sum.Partitions = len(res.Partitions)
	sum.DroppedCells = len(res.Dropped)
	sum.AssignedPoints = res.PointCount()
	sum.DroppedPoints = pc.Len() - sum.AssignedPoints
	if r.Store != nil {
		if err := r.Store.RecordPartitions(sum.RunID, res); err != nil {
			return err
		}
	}
	if len(res.Partitions) == 0 {
		return fmt.Errorf("partition: every cell fell below %d points", cfg.GetMinPartitionPoints())
	}

	srcDir := filepath.Dir(in.Path)
	ckpt, err := inference.DiscoverCheckpoint(r.fs(), cfg.GetCheckpointDir(srcDir), cfg.GetCheckpointGlob(), cfg.GetCheckpointPath())
	if err != nil {
		return err
	}
	model, pipe, err := cfg.ModelSpecs()
	if err != nil {
		return err
	}
	resp, err := inference.Configure(ctx, r.Service, model, pipe, ckpt)
	if err != nil {
		return err
	}
	sum.Model, sum.Device, sum.Checkpoint = resp.Model, resp.Device, ckpt
	if r.Store != nil {
		if err := r.Store.SetModel(sum.RunID, string(resp.Model), ckpt, resp.Device); err != nil {
			return err
		}
	}

	results, err := inference.Run(ctx, r.Service, res.Partitions)
	if err != nil {
		return err
	}
	if sum.Predictions, err = inference.Reattach(results, pc.Len()); err != nil {
		return err
	}

	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return fmt.Errorf("resolve source directory: %w", err)
	}
	sum.OutputPath = filepath.Join(cfg.GetOutputDir(srcDir), serialize.ResultFileName(absSrc))
	records, written, err := serialize.Write(r.fs(), sum.OutputPath, results, cfg.GetChunkSize())
	if err != nil {
		return err
	}
	sum.OutputWritten = written
	if written {
		sum.Records = len(records)
		if r.Store != nil {
			if err := r.Store.RecordChunks(sum.RunID, records); err != nil {
				return err
			}
		}
	}
	return nil
}
