package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/banshee-data/cloudsplit/internal/config"
	"github.com/banshee-data/cloudsplit/internal/inference"
	"github.com/banshee-data/cloudsplit/internal/partition"
	"github.com/banshee-data/cloudsplit/internal/pipeline"
	"github.com/banshee-data/cloudsplit/internal/provenance"
	"github.com/banshee-data/cloudsplit/internal/security"
	"github.com/banshee-data/cloudsplit/internal/serialize"
	"github.com/banshee-data/cloudsplit/internal/slicer"
	"github.com/banshee-data/cloudsplit/internal/visualize"
)

// loadInput reads a cloud and, when labelsPath is set, attaches its labels.
func loadInput(path, labelsPath string, normalized bool) *cloud.PointCloud {
	if path == "" {
		log.Fatal("-input is required")
	}
	pc, err := cloud.Load(path, cloud.ReadOptions{Normalized: normalized})
	if err != nil {
		log.Fatalf("Failed to load %s: %v", path, err)
	}
	if labelsPath != "" {
		labels, err := cloud.LoadLabels(labelsPath)
		if err != nil {
			log.Fatalf("Failed to load labels %s: %v", labelsPath, err)
		}
		if len(labels) != pc.Len() {
			log.Fatalf("Labels file has %d rows for %d points", len(labels), pc.Len())
		}
		pc.Labels = labels
	}
	return pc
}

func handleIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	input := fs.String("input", "", "ASC/TXT/XYZ point cloud (required)")
	labels := fs.String("labels", "", "Optional label file, one integer per line")
	normalized := fs.Bool("normalized", false, "Colour columns are already in [0,1] (default: 16-bit values scaled by 1/65536)")
	out := fs.String("out", "", "Output path (default: <folder>_Data.pcb next to the input)")
	fs.Parse(args)

	pc := loadInput(*input, *labels, *normalized)
	if !pc.HasColor {
		log.Printf("%s has no colour channel, storing XYZ only", *input)
	}
	dest := *out
	if dest == "" {
		dest = ingestDest(*input)
	}
	if err := cloud.Save(dest, pc); err != nil {
		log.Fatalf("Failed to write %s: %v", dest, err)
	}
	bb, _ := pc.Bounds()
	log.Printf("Wrote %d points (colour=%t, labels=%t) to %s", pc.Len(), pc.HasColor, pc.Labels != nil, dest)
	log.Printf("Bounds: min=%v max=%v", bb.Min, bb.Max)
}

// ingestDest names the converted cloud after the folder holding the input.
func ingestDest(input string) string {
	dir := filepath.Dir(input)
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return filepath.Join(dir, security.SanitizeFilename(filepath.Base(abs))+"_Data"+cloud.BinaryExt)
}

func handleSlice(args []string) {
	fs := flag.NewFlagSet("slice", flag.ExitOnError)
	input := fs.String("input", "", "Point cloud to slice (required)")
	normalized := fs.Bool("normalized", false, "Colour columns are already in [0,1]")
	start := fs.String("start", "", "Line start x,y,z (required)")
	end := fs.String("end", "", "Line end x,y,z (required)")
	tolerance := fs.Float64("tolerance", 0.05, "Maximum in-plane distance to the line")
	planeName := fs.String("plane", "XY", "Plane the line is drawn in: XY, XZ or YZ")
	out := fs.String("out", "Sliced_points.pcb", "Output cloud (.pcb or .asc)")
	geoPath := fs.String("geojson", "", "Also write the cross-section as GeoJSON")
	pngPath := fs.String("png", "", "Also render the cross-section as PNG")
	fs.Parse(args)

	plane, err := slicer.ParsePlane(*planeName)
	if err != nil {
		log.Fatal(err)
	}
	p0, err := parsePoint(*start)
	if err != nil {
		log.Fatalf("Invalid -start: %v", err)
	}
	p1, err := parsePoint(*end)
	if err != nil {
		log.Fatalf("Invalid -end: %v", err)
	}

	pc := loadInput(*input, "", *normalized)
	slice, err := slicer.SliceToFile(p0, p1, *tolerance, pc, plane, *out)
	if err != nil {
		log.Fatalf("Slice failed: %v", err)
	}

	if *geoPath != "" {
		if err := slicer.WriteCrossSectionGeoJSON(*geoPath, p0, p1, *tolerance, plane, slice); err != nil {
			log.Fatalf("Failed to write GeoJSON: %v", err)
		}
		log.Printf("Wrote cross-section GeoJSON to %s", *geoPath)
	}
	if *pngPath != "" {
		rec := visualize.FromCloud("slice", slice, rand.New(rand.NewSource(1)))
		if err := visualize.SaveProjectionPNG([]visualize.Record{rec}, plane, *pngPath); err != nil {
			log.Fatalf("Failed to write PNG: %v", err)
		}
		log.Printf("Wrote cross-section plot to %s", *pngPath)
	}
}

func handlePartition(args []string) {
	fs := flag.NewFlagSet("partition", flag.ExitOnError)
	input := fs.String("input", "", "Point cloud to partition (required)")
	normalized := fs.Bool("normalized", false, "Colour columns are already in [0,1]")
	splits := fs.String("splits", "1,1,1", "Grid split counts x,y,z")
	minPoints := fs.Int("min-points", partition.DefaultMinPoints, "Drop cells with fewer points")
	features := fs.Bool("features", false, "Carry colour features into each partition")
	htmlPath := fs.String("html", "", "Write an HTML report of the partitions")
	fs.Parse(args)

	s, err := parseSplits(*splits)
	if err != nil || s == nil {
		log.Fatalf("Invalid -splits %q: %v", *splits, err)
	}
	grid := partition.Splits{X: s[0], Y: s[1], Z: s[2]}

	pc := loadInput(*input, "", *normalized)
	res, err := partition.Split(grid, pc, partition.Options{UseFeatures: *features, MinPoints: *minPoints})
	if err != nil {
		log.Fatalf("Partition failed: %v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCELL\tLIMIT\tPOINTS")
	for _, p := range res.Partitions {
		fmt.Fprintf(tw, "%s\t%d\t%.3f,%.3f,%.3f\t%d\n", p.Name, p.Cell, p.Limit[0], p.Limit[1], p.Limit[2], p.Len())
	}
	for _, d := range res.Dropped {
		fmt.Fprintf(tw, "(dropped)\t%d\t%.3f,%.3f,%.3f\t%d\n", d.Cell, d.Limit[0], d.Limit[1], d.Limit[2], len(d.Indices))
	}
	tw.Flush()
	log.Printf("%d partitions, %d dropped cells, %d of %d points assigned",
		len(res.Partitions), len(res.Dropped), res.PointCount(), pc.Len())

	if *htmlPath != "" {
		records := make([]visualize.Record, 0, len(res.Partitions))
		for _, p := range res.Partitions {
			records = append(records, visualize.FromPredictions(p.Name, p.Points, fillClass(p.Len(), int32(p.Seq+1))))
		}
		writeHTMLReport(*htmlPath, "Partitions of "+filepath.Base(*input), records, partitionSizes(res))
	}
}

func fillClass(n int, class int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = class
	}
	return out
}

func partitionSizes(res *partition.Result) []visualize.PartitionSize {
	sizes := make([]visualize.PartitionSize, 0, len(res.Partitions)+len(res.Dropped))
	for _, p := range res.Partitions {
		sizes = append(sizes, visualize.PartitionSize{Name: p.Name, Points: p.Len()})
	}
	for _, d := range res.Dropped {
		sizes = append(sizes, visualize.PartitionSize{Name: fmt.Sprintf("cell %d", d.Cell), Points: len(d.Indices), Dropped: true})
	}
	return sizes
}

func writeHTMLReport(path, title string, records []visualize.Record, sizes []visualize.PartitionSize) {
	if err := security.ValidateOutputPath(path); err != nil {
		log.Fatalf("Refusing to write %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := visualize.WriteHTML(bw, title, records, sizes); err != nil {
		f.Close()
		log.Fatalf("Failed to render report: %v", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		log.Fatalf("Failed to write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("Failed to close %s: %v", path, err)
	}
	log.Printf("Wrote report to %s", path)
}

// runFlags holds the run options that override the config file. Zero
// values leave the configured setting alone.
type runFlags struct {
	splits      string
	minPoints   int
	chunkSize   int
	features    bool
	checkpoint  string
	ckptDir     string
	ckptGlob    string
	model       string
	modelConfig string
	device      string
	outputDir   string
	db          string // "-" disables the ledger
	addr        string
}

func (f runFlags) apply(cfg *config.RunConfig) error {
	splits, err := parseSplits(f.splits)
	if err != nil {
		return err
	}
	if splits != nil {
		cfg.Splits = splits
	}
	if f.minPoints > 0 {
		cfg.MinPartitionPoints = config.PtrInt(f.minPoints)
	}
	if f.chunkSize > 0 {
		cfg.ChunkSize = config.PtrInt(f.chunkSize)
	}
	if f.features {
		cfg.UseFeatures = config.PtrBool(true)
	}
	setString(&cfg.CheckpointPath, f.checkpoint)
	setString(&cfg.CheckpointDir, f.ckptDir)
	setString(&cfg.CheckpointGlob, f.ckptGlob)
	setString(&cfg.ModelConfig, f.modelConfig)
	setString(&cfg.OutputDir, f.outputDir)
	setString(&cfg.InferenceAddr, f.addr)
	switch f.db {
	case "":
	case "-":
		cfg.ProvenanceDB = config.PtrString("")
	default:
		cfg.ProvenanceDB = config.PtrString(f.db)
	}
	if f.model != "" {
		if cfg.Model == nil {
			cfg.Model = &inference.ModelSpec{}
		}
		cfg.Model.Type = inference.ModelType(f.model)
	}
	if f.device != "" {
		if cfg.Pipeline == nil {
			cfg.Pipeline = &inference.PipelineSpec{}
		}
		cfg.Pipeline.Device = f.device
	}
	return cfg.Validate()
}

func setString(dst **string, v string) {
	if v != "" {
		*dst = config.PtrString(v)
	}
}

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "JSON run configuration")
	input := fs.String("input", "", "Point cloud to segment (required)")
	labels := fs.String("labels", "", "Optional ground-truth label file")
	normalized := fs.Bool("normalized", false, "Colour columns are already in [0,1]")
	timeout := fs.Duration("timeout", 0, "Abort the run after this long (0 = no limit)")
	htmlPath := fs.String("html", "", "Write an HTML report of the predictions")

	var f runFlags
	fs.StringVar(&f.splits, "splits", "", "Grid split counts x,y,z")
	fs.IntVar(&f.minPoints, "min-points", 0, "Drop cells with fewer points")
	fs.IntVar(&f.chunkSize, "chunk-size", 0, "Maximum points per result record")
	fs.BoolVar(&f.features, "features", false, "Send colour features to the model")
	fs.StringVar(&f.checkpoint, "checkpoint", "", "Model checkpoint (default: discover in -checkpoint-dir)")
	fs.StringVar(&f.ckptDir, "checkpoint-dir", "", "Directory searched for checkpoints (default: input directory)")
	fs.StringVar(&f.ckptGlob, "checkpoint-glob", "", "Checkpoint file pattern (default: *.pth)")
	fs.StringVar(&f.model, "model", "", "Model architecture: RandLANet or KPFCNN")
	fs.StringVar(&f.modelConfig, "model-config", "", "Model configuration YAML/JSON")
	fs.StringVar(&f.device, "device", "", "Inference device (default: gpu)")
	fs.StringVar(&f.outputDir, "output-dir", "", "Directory for the results file (default: input directory)")
	fs.StringVar(&f.db, "db", "", "Provenance database, '-' to disable (default: cloudsplit.db)")
	fs.StringVar(&f.addr, "addr", "", "Inference service address (default: localhost:50071)")
	fs.Parse(args)

	if *input == "" {
		log.Fatal("-input is required")
	}
	cfg := &config.RunConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadRunConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if err := f.apply(cfg); err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	client, err := inference.Dial(cfg.GetInferenceAddr())
	if err != nil {
		log.Fatalf("Failed to connect to inference service: %v", err)
	}
	defer client.Close()

	runner := &pipeline.Runner{Service: client}
	if dbPath := cfg.GetProvenanceDB(); dbPath != "" {
		store, err := provenance.Open(dbPath)
		if err != nil {
			log.Fatalf("Failed to open provenance database: %v", err)
		}
		defer store.Close()
		runner.Store = store
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	sum, err := runner.Run(ctx, cfg, pipeline.Input{
		Path:       *input,
		LabelsPath: *labels,
		Read:       cloud.ReadOptions{Normalized: *normalized},
	})
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	if sum.RunID != "" {
		log.Printf("Run %s complete", sum.RunID)
	}
	log.Printf("%s on %s, checkpoint %s", sum.Model, sum.Device, sum.Checkpoint)
	log.Printf("%d partitions (%d cells dropped), %d of %d points predicted",
		sum.Partitions, sum.DroppedCells, sum.AssignedPoints, sum.InputPoints)
	if sum.OutputWritten {
		log.Printf("Wrote %d records to %s", sum.Records, sum.OutputPath)
	} else {
		log.Printf("%s already existed and was left unchanged", sum.OutputPath)
	}

	if *htmlPath != "" {
		pc, err := cloud.Load(*input, cloud.ReadOptions{Normalized: *normalized})
		if err != nil {
			log.Fatalf("Failed to reload %s: %v", *input, err)
		}
		rec := visualize.FromPredictions(filepath.Base(*input), pc.Points, sum.Predictions)
		writeHTMLReport(*htmlPath, "Predictions for "+filepath.Base(*input), []visualize.Record{rec}, partitionSizes(sum.Result))
	}
}

func handleView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	input := fs.String("input", "", "Point cloud to view")
	normalized := fs.Bool("normalized", false, "Colour columns are already in [0,1]")
	results := fs.String("results", "", "Results JSON to view, coloured by predicted class")
	pngPath := fs.String("png", "", "Write a PNG projection")
	planeName := fs.String("plane", "XY", "Projection plane for -png")
	htmlPath := fs.String("html", "", "Write an HTML report")
	seed := fs.Int64("seed", time.Now().UnixNano(), "Seed for the fallback colour of uncoloured clouds")
	fs.Parse(args)

	if (*input == "") == (*results == "") {
		log.Fatal("Exactly one of -input or -results is required")
	}
	if *pngPath == "" && *htmlPath == "" {
		log.Fatal("Nothing to do: pass -png and/or -html")
	}

	var (
		records []visualize.Record
		sizes   []visualize.PartitionSize
		title   string
	)
	if *input != "" {
		pc := loadInput(*input, "", *normalized)
		records = append(records, visualize.FromCloud(filepath.Base(*input), pc, rand.New(rand.NewSource(*seed))))
		title = filepath.Base(*input)
	} else {
		f, err := os.Open(*results)
		if err != nil {
			log.Fatalf("Failed to open results: %v", err)
		}
		err = serialize.Each(bufio.NewReaderSize(f, 1<<20), func(r serialize.Record) error {
			records = append(records, visualize.FromResult(r))
			sizes = append(sizes, visualize.PartitionSize{Name: r.Name, Points: r.Len()})
			return nil
		})
		f.Close()
		if err != nil {
			log.Fatalf("Failed to read results: %v", err)
		}
		title = filepath.Base(*results)
	}

	if *pngPath != "" {
		plane, err := slicer.ParsePlane(*planeName)
		if err != nil {
			log.Fatal(err)
		}
		if err := security.ValidateOutputPath(*pngPath); err != nil {
			log.Fatalf("Refusing to write %s: %v", *pngPath, err)
		}
		if err := visualize.SaveProjectionPNG(records, plane, *pngPath); err != nil {
			log.Fatalf("Failed to write PNG: %v", err)
		}
		log.Printf("Wrote %s projection to %s", plane, *pngPath)
	}
	if *htmlPath != "" {
		writeHTMLReport(*htmlPath, title, records, sizes)
	}
}

func handleHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("db", config.DefaultProvenanceDB, "Provenance database")
	limit := fs.Int("limit", 20, "Number of runs to list (0 = all)")
	runID := fs.String("run", "", "Show partitions and chunks of one run")
	fs.Parse(args)

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("No provenance database at %s: %v", *dbPath, err)
	}
	store, err := provenance.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open provenance database: %v", err)
	}
	defer store.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if *runID == "" {
		runs, err := store.ListRuns(*limit)
		if err != nil {
			log.Fatalf("Failed to list runs: %v", err)
		}
		fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tSOURCE\tSPLITS\tMODEL\tPOINTS\tDURATION")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				r.RunID, time.Unix(0, r.CreatedAt).Format(time.DateTime), r.Status, r.Source,
				r.Splits, r.ModelType, r.InputPoints, r.Duration().Round(time.Millisecond))
		}
		return
	}

	r, err := store.GetRun(*runID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Fprintf(tw, "Run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "Status\t%s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", r.Error)
	}
	fmt.Fprintf(tw, "Source\t%s\n", r.Source)
	fmt.Fprintf(tw, "Model\t%s on %s (%s)\n", r.ModelType, r.Device, r.Checkpoint)
	fmt.Fprintf(tw, "Points\t%d in, %d predicted, %d dropped\n", r.InputPoints, r.AssignedPoints, r.DroppedPoints)
	fmt.Fprintf(tw, "Output\t%s (written=%t)\n\n", r.OutputPath, r.OutputWritten)

	parts, err := store.ListPartitions(r.RunID)
	if err != nil {
		log.Fatalf("Failed to list partitions: %v", err)
	}
	fmt.Fprintln(tw, "PARTITION\tCELL\tLIMIT\tPOINTS")
	for _, p := range parts {
		name := p.Name
		if p.Dropped {
			name = "(dropped)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%.3f,%.3f,%.3f\t%d\n", name, p.Cell, p.Limit[0], p.Limit[1], p.Limit[2], p.PointCount)
	}

	chunks, err := store.ListChunks(r.RunID)
	if err != nil {
		log.Fatalf("Failed to list chunks: %v", err)
	}
	fmt.Fprintln(tw, "\nRECORD\tPARENT\tFIRST POINT\tPOINTS")
	for _, c := range chunks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", c.Name, c.Parent, c.FirstPoint, c.PointCount)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", config.DefaultProvenanceDB, "Provenance database")
	listen := fs.String("listen", "localhost:8081", "Listen address")
	fs.Parse(args)

	store, err := provenance.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open provenance database: %v", err)
	}
	defer store.Close()

	mux := http.NewServeMux()
	store.AttachAdminRoutes(mux)
	srv := &http.Server{Addr: *listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	log.Printf("Serving provenance debug pages on http://%s/debug/", *listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("failed to start server: %v", err)
	}
}
