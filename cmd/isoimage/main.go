// Command isoimage builds an ECMA-119 optical media image from a host
// directory tree, the cobra-based front-end SPEC_FULL.md calls for in place
// of the teacher's flag-based cmd/main.go, wired directly to the pipeline
// driver instead of the teacher's synchronous iso9660.ISOBuilder.Build.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kdsys/isoimage/internal/ilog"
	"github.com/kdsys/isoimage/option"
	"github.com/kdsys/isoimage/pipeline"
	"github.com/kdsys/isoimage/treebuild"
)

var (
	outputPath    string
	volumeID      string
	publisherID   string
	applicationID string
	hiddenCSV     string
	noRockRidge   bool
	noJoliet      bool
	iso1999       bool
	sortFiles     bool
	recordMD5     bool
	verbose       bool
)

func main() {
	root := &cobra.Command{
		Use:   "isoimage <source-directory>",
		Short: "Build an ECMA-119/Rock Ridge/Joliet optical media image from a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	flags := root.Flags()
	flags.StringVarP(&outputPath, "output", "o", "output.iso", "output image path")
	flags.StringVar(&volumeID, "volume-id", "ISOIMAGE", "volume identifier")
	flags.StringVar(&publisherID, "publisher", "", "publisher identifier")
	flags.StringVar(&applicationID, "application-id", "isoimage", "application identifier")
	flags.StringVarP(&hiddenCSV, "hidden", "H", "", "comma-separated base names to exclude")
	flags.BoolVar(&noRockRidge, "no-rock-ridge", false, "disable Rock Ridge extensions")
	flags.BoolVar(&noJoliet, "no-joliet", false, "disable the Joliet tree")
	flags.BoolVar(&iso1999, "iso9660-1999", false, "build the ISO 9660:1999 tree")
	flags.BoolVar(&sortFiles, "sort-files", false, "sort file content by weight before packing")
	flags.BoolVar(&recordMD5, "record-md5", false, "record session and per-file MD5 checksum tags")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	sourceDir := args[0]

	log := ilog.New("isoimage")
	if verbose {
		log.Logger.SetLevel(logrus.DebugLevel)
	}
	sink := ilog.EventSink{Log: log}

	hidden := map[string]bool{}
	for _, name := range strings.Split(hiddenCSV, ",") {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			hidden[trimmed] = true
		}
	}

	log.Infof("scanning %s", sourceDir)
	t, err := treebuild.FromDirectory(sourceDir, treebuild.Options{Hidden: hidden})
	if err != nil {
		return fmt.Errorf("scanning source directory: %w", err)
	}

	opts := option.Default()
	opts.VolumeIdentifier = volumeID
	opts.PublisherIdentifier = publisherID
	opts.ApplicationIdentifier = applicationID
	opts.RockRidge = !noRockRidge
	opts.Joliet = !noJoliet
	opts.ISO1999 = iso1999
	opts.SortFiles = sortFiles
	if recordMD5 {
		opts.RecordMD5 = option.RecordMD5Session | option.RecordMD5PerFile
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outputPath, err)
	}
	defer out.Close()

	img := pipeline.New(opts, t, nil, sink)
	log.Info("computing layout")
	if err := img.Build(); err != nil {
		return fmt.Errorf("building layout: %w", err)
	}

	burn, result, err := img.Start()
	if err != nil {
		return fmt.Errorf("starting image build: %w", err)
	}

	log.Infof("writing %d blocks (%d bytes), data starts at LBA %d", result.TotalBlocks, burn.GetSize(), result.DataStartLBA)
	if _, err := io.Copy(out, burn); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	log.Infof("wrote %s", outputPath)
	return nil
}
