// Command cloudsplit partitions large LiDAR point clouds, sends each
// partition to a segmentation service and writes the predictions back as
// chunked JSON.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/banshee-data/cloudsplit/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "ingest":
		handleIngest(args)
	case "slice":
		handleSlice(args)
	case "partition":
		handlePartition(args)
	case "run":
		handleRun(args)
	case "view":
		handleView(args)
	case "history":
		handleHistory(args)
	case "serve":
		handleServe(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`cloudsplit - partitioned segmentation for large point clouds

Usage: cloudsplit <command> [options]

Commands:
  ingest     Convert an ASC/XYZ text cloud to the binary .pcb format
  slice      Extract a cross-section along a line in the XY, XZ or YZ plane
  partition  Show how a cloud splits into grid cells (no inference)
  run        Partition, run inference and write <folder>_PredictedResults.json
  view       Render a cloud or a results file as PNG and/or HTML
  history    List runs recorded in the provenance database
  serve      Serve the provenance debug pages (tailsql console, runs, backup)
  version    Print build information
  help       Show this help

Run 'cloudsplit <command> -h' for the options of a command.

Examples:
  cloudsplit ingest -input scan.asc -out scan.pcb
  cloudsplit slice -input scan.pcb -start 0,0,0 -end 50,0,0 -plane XY -tolerance 0.05 -out Sliced_points.pcb
  cloudsplit run -input site/scan.pcb -splits 4,4,1 -checkpoint randlanet.pth
  cloudsplit view -results site_PredictedResults.json -html report.html`)
}
