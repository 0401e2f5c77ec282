// Labels images with bounding boxes and converts the annotations into a normalized-box training
// dataset with a train/validation split.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/sensorable/boxlabel"
	"github.com/sensorable/boxlabel/store"
)

func main() {
	parser := argparse.NewParser("boxlabel",
		"Draw bounding-box annotations and export them as an object detection dataset")

	// Options shared by the subcommands that read the annotation database.
	dbPath := parser.String("d", "db", &argparse.Options{Help: "The annotation database file",
		Default: "annotations.db"})
	canvasWidth := parser.Int("", "canvas-width", &argparse.Options{
		Help: "Width of the display surface the boxes were drawn on", Default: boxlabel.DefaultCanvas.Width})
	canvasHeight := parser.Int("", "canvas-height", &argparse.Options{
		Help: "Height of the display surface the boxes were drawn on", Default: boxlabel.DefaultCanvas.Height})

	label := parser.NewCommand("label", "Label the images of a folder, reading commands from stdin")
	labelFolder := label.String("f", "folder", &argparse.Options{Required: true,
		Help: "The folder with the source images (searched recursively)"})
	labelImagesOut := label.String("o", "images-out", &argparse.Options{Default: "output",
		Help: "The directory labeled images are copied to under their generated names"})
	labelDisplay := label.String("", "display", &argparse.Options{Default: "display.png",
		Help: "The file the resized current image is written to"})

	importCmd := parser.NewCommand("import", "Import annotations from a TinyDB JSON database")
	importPath := importCmd.String("i", "input", &argparse.Options{Required: true,
		Help: "The TinyDB JSON file"})

	export := parser.NewCommand("export", "Write normalized label files and the class manifest")
	exportLabels := export.String("l", "labels-out", &argparse.Options{Default: "yolo_annotations",
		Help: "The label output directory"})
	exportAssume := export.Flag("", "assume-canvas-size", &argparse.Options{
		Help: "Treat unknown original image sizes as the canvas size instead of skipping the image"})

	split := parser.NewCommand("split", "Split images and labels into a training dataset")
	splitImages := split.String("i", "images", &argparse.Options{Default: "output",
		Help: "The directory with the labeled images"})
	splitLabels := split.String("l", "labels", &argparse.Options{Default: "yolo_annotations",
		Help: "The directory with the label files"})
	splitClasses := split.String("c", "classes", &argparse.Options{
		Help: "The class manifest (default: classes.txt in the label directory)"})
	splitOut := split.String("o", "out", &argparse.Options{Default: "dataset",
		Help: "The dataset output directory"})
	splitTrain := split.Int("p", "train-percent", &argparse.Options{
		Default: boxlabel.DefaultSplitOptions.TrainPercent, Help: "Percentage of training images"})
	splitSeed := split.Int("s", "seed", &argparse.Options{Default: 0,
		Help: "Seed for the random split"})

	visualize := parser.NewCommand("visualize", "Draw the exported boxes onto the images")
	visImages := visualize.String("i", "images", &argparse.Options{Default: "output",
		Help: "The directory with the labeled images"})
	visLabels := visualize.String("l", "labels", &argparse.Options{Default: "yolo_annotations",
		Help: "The directory with the label files"})
	visClasses := visualize.String("c", "classes", &argparse.Options{
		Help: "The class manifest (default: classes.txt in the label directory)"})
	visOut := visualize.String("o", "out", &argparse.Options{Default: "visualized",
		Help: "The output directory for the rendered images"})

	stats := parser.NewCommand("stats", "Print annotation statistics and write a chart")
	statsChart := stats.String("o", "chart", &argparse.Options{Default: "stats.html",
		Help: "The HTML chart output file"})

	tfrec := parser.NewCommand("tfrecord", "Write a TFRecord object detection dataset")
	tfrecOut := tfrec.String("o", "out", &argparse.Options{Required: true,
		Help: "The TFRecord output file"})
	tfrecImages := tfrec.String("i", "images", &argparse.Options{Default: "output",
		Help: "The directory with the labeled images"})
	tfrecLabelMap := tfrec.String("m", "label-map", &argparse.Options{Default: "label_map.pbtxt",
		Help: "The label map output file"})
	tfrecClasses := tfrec.String("c", "classes", &argparse.Options{
		Default: filepath.Join("yolo_annotations", boxlabel.ClassesFileName),
		Help:    "The class manifest shared with the exported label files"})
	tfrecShards := tfrec.Int("n", "num-shards", &argparse.Options{Default: 1,
		Help: "The number of shard files to create"})
	tfrecAssume := tfrec.Flag("", "assume-canvas-size", &argparse.Options{
		Help: "Treat unknown original image sizes as the canvas size instead of skipping the image"})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	canvas := boxlabel.Canvas{Width: *canvasWidth, Height: *canvasHeight}
	if canvas.Width <= 0 || canvas.Height <= 0 {
		fmt.Print(parser.Usage("Invalid canvas size"))
		os.Exit(1)
	}

	log, err := logs.NewLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create logger:", err)
		os.Exit(1)
	}
	defer log.Close()

	switch {
	case label.Happened():
		err = runLabel(log, *dbPath, *labelFolder, *labelImagesOut, *labelDisplay, canvas,
			os.Stdin, os.Stdout)
	case importCmd.Happened():
		err = runImport(log, *dbPath, *importPath)
	case export.Happened():
		err = runExport(log, *dbPath, *exportLabels, boxlabel.ExportOptions{
			Canvas: canvas, AssumeCanvasSize: *exportAssume})
	case split.Happened():
		if *splitTrain < 0 || *splitTrain > 100 {
			fmt.Print(parser.Usage("The training percentage must be in [0, 100]"))
			os.Exit(1)
		}
		err = runSplit(log, *splitImages, *splitLabels, classesPath(*splitClasses, *splitLabels),
			*splitOut, boxlabel.SplitOptions{TrainPercent: *splitTrain, Seed: int64(*splitSeed)})
	case visualize.Happened():
		err = runVisualize(log, *visImages, *visLabels, classesPath(*visClasses, *visLabels), *visOut)
	case stats.Happened():
		err = runStats(log, *dbPath, *statsChart, canvas, os.Stdout)
	case tfrec.Happened():
		err = runTFRecord(log, *dbPath, *tfrecOut, *tfrecLabelMap, *tfrecImages, *tfrecClasses,
			*tfrecShards, boxlabel.ExportOptions{Canvas: canvas, AssumeCanvasSize: *tfrecAssume})
	}
	if err != nil {
		log.Errorf("%v", err)
		log.Close()
		os.Exit(1)
	}
}

// classesPath returns path, or the default class manifest in labelDir if path is empty.
func classesPath(path, labelDir string) string {
	if path != "" {
		return filepath.Clean(path)
	}
	return filepath.Join(labelDir, boxlabel.ClassesFileName)
}

// runImport saves the annotation sets of a TinyDB database. A set the store rejects, such as one
// reusing the image file name of another image, is logged and skipped.
func runImport(log logs.Log, dbPath, input string) error {
	sets, err := boxlabel.FromTinyDB(input)
	if err != nil {
		return err
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	imported := 0
	for _, set := range sets {
		if err := db.PutAnnotations(set); err != nil {
			log.Warnf("Cannot import, skipping %q: %v", set.ImageID, err)
			continue
		}
		imported++
	}
	log.Infof("Imported %d of %d annotation sets from %s", imported, len(sets), input)
	return nil
}

func runExport(log logs.Log, dbPath, labelDir string, opts boxlabel.ExportOptions) error {
	sets, err := loadSets(dbPath)
	if err != nil {
		return err
	}
	classes, err := loadClasses(log, filepath.Join(labelDir, boxlabel.ClassesFileName))
	if err != nil {
		return err
	}
	_, err = boxlabel.Export(log, sets, labelDir, opts, classes)
	return err
}

func runSplit(log logs.Log, imageDir, labelDir, classesFile, outDir string,
	opts boxlabel.SplitOptions) error {

	classes, err := boxlabel.LoadClassTable(classesFile)
	if err != nil {
		return fmt.Errorf("failed to read the class manifest: %v", err)
	}
	_, err = boxlabel.CreateDataset(log, imageDir, labelDir, outDir, classes, opts)
	return err
}

func runVisualize(log logs.Log, imageDir, labelDir, classesFile, outDir string) error {
	classes, err := boxlabel.LoadClassTable(classesFile)
	if err != nil {
		return fmt.Errorf("failed to read the class manifest: %v", err)
	}
	_, err = boxlabel.Visualize(log, imageDir, labelDir, outDir, classes)
	return err
}

func runStats(log logs.Log, dbPath, chartPath string, canvas boxlabel.Canvas, out io.Writer) error {
	sets, err := loadSets(dbPath)
	if err != nil {
		return err
	}
	s := boxlabel.ComputeStats(sets, canvas, boxlabel.NewClassTable())

	fmt.Fprintf(out, "%d boxes in %d of %d images (%d boxes without image size)\n",
		s.Boxes, s.AnnotatedImages, s.Images, s.UnknownSizeBoxes)
	for _, c := range s.SortedByCount() {
		fmt.Fprintf(out, "%-20s %6d boxes %6d images  w %7.1f±%-6.1f h %7.1f±%-6.1f\n",
			c.Name, c.Boxes, c.Images, c.MeanW, c.StdW, c.MeanH, c.StdH)
	}

	if err := boxlabel.WriteStatsChart(chartPath, s); err != nil {
		return err
	}
	log.Infof("Wrote the statistics chart to %s", chartPath)
	return nil
}

// runTFRecord writes the TFRecord dataset with the class ids of the class manifest at
// classesFile. Labels missing from the manifest are appended to it.
func runTFRecord(log logs.Log, dbPath, recordPath, labelMapPath, imageDir, classesFile string,
	numShards int, opts boxlabel.ExportOptions) error {

	sets, err := loadSets(dbPath)
	if err != nil {
		return err
	}
	classes, err := loadClasses(log, classesFile)
	if err != nil {
		return err
	}
	known := classes.Len()

	err = boxlabel.WriteTFRecord(log, recordPath, labelMapPath, sets, imageDir, opts, classes,
		numShards)
	if err != nil {
		return err
	}
	if classes.Len() == known {
		return nil
	}
	log.Infof("Adding %d classes to %s", classes.Len()-known, classesFile)
	if err := os.MkdirAll(filepath.Dir(classesFile), 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %v", filepath.Dir(classesFile), err)
	}
	return classes.Save(classesFile)
}

// loadSets reads all annotation sets from the database at dbPath.
func loadSets(dbPath string) ([]boxlabel.AnnotationSet, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return db.AllAnnotations()
}

// loadClasses loads an existing class manifest so that ids stay stable across exports.
func loadClasses(log logs.Log, path string) (*boxlabel.ClassTable, error) {
	classes, found, err := boxlabel.LoadOrCreateClassTable(path)
	if err != nil {
		return nil, err
	}
	if found {
		log.Infof("Class manifest loaded with %d classes", classes.Len())
	} else {
		log.Infof("Creating a new class manifest")
	}
	return classes, nil
}

// runLabel drives a labeling session from text commands:
//
//	box <x1> <y1> <x2> <y2> <label>   add a box drawn on the display surface
//	clear                             discard the boxes of the current image
//	next                              save and advance to the next image
//	show                              list the boxes of the current image
//	quit                              stop; progress is kept
func runLabel(log logs.Log, dbPath, folder, imagesOut, displayPath string, canvas boxlabel.Canvas,
	in io.Reader, out io.Writer) error {

	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	session, err := boxlabel.OpenSession(log, filepath.Clean(folder), boxlabel.DirImageStore{}, db,
		imagesOut, canvas)
	if err != nil {
		return err
	}

	show := func() {
		if session.Done() {
			fmt.Fprintln(out, "No more images in the folder")
			return
		}
		i, n := session.Index()
		fmt.Fprintf(out, "[%d/%d] %s\n", i+1, n, session.Current())
		if err := writeDisplay(session, displayPath); err != nil {
			log.Warnf("Cannot display %q: %v", session.Current(), err)
		}
		for j, r := range session.Records() {
			fmt.Fprintf(out, "  %d: %s (%g,%g)-(%g,%g)\n", j, r.Label, r.Rect.X1, r.Rect.Y1,
				r.Rect.X2, r.Rect.Y2)
		}
	}
	show()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "box":
			r, name, err := parseBoxCommand(fields[1:])
			if err != nil {
				fmt.Fprintln(out, "Invalid box:", err)
				continue
			}
			if _, err := session.Add(r, name); err != nil {
				fmt.Fprintln(out, "Rejected:", err)
			}
		case "clear":
			session.Clear()
		case "next":
			if err := session.Next(); err != nil {
				return err
			}
			show()
		case "show":
			show()
		case "quit":
			return nil
		default:
			fmt.Fprintf(out, "Unknown command %q\n", fields[0])
		}
	}
	return scanner.Err()
}

// parseBoxCommand parses "<x1> <y1> <x2> <y2> <label...>".
func parseBoxCommand(args []string) (boxlabel.Rect, string, error) {
	if len(args) < 5 {
		return boxlabel.Rect{}, "", fmt.Errorf("expected x1 y1 x2 y2 label")
	}
	var v [4]float64
	for i := range v {
		f, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return boxlabel.Rect{}, "", err
		}
		v[i] = f
	}
	return boxlabel.Rect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, strings.Join(args[4:], " "), nil
}

// writeDisplay writes the current image, resized to the canvas, to path.
func writeDisplay(session *boxlabel.Session, path string) error {
	img, err := session.Display()
	if err != nil {
		return err
	}
	return boxlabel.SaveImage(path, img)
}
