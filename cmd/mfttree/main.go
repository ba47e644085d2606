package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-forensics/mftwalk/walk"
)

const (
	exitCodeUserError int = iota + 2
	exitCodeFunctionalError
	exitCodeTechnicalError
)

var verbose = false

func main() {
	verboseFlag := flag.Bool("v", false, "verbose; print progress while walking large MFTs")
	flag.Usage = printUsage
	flag.Parse()
	verbose = *verboseFlag

	args := flag.Args()
	if len(args) < 2 {
		printUsage()
		os.Exit(exitCodeUserError)
		return
	}

	mftFile := args[0]
	command := args[1]
	rest := args[2:]

	data, err := os.ReadFile(mftFile)
	if err != nil {
		fatalf(exitCodeTechnicalError, "Unable to read MFT file %s: %v\n", mftFile, err)
	}

	enum := walk.NewEnumerator(data, 0)

	switch command {
	case "ls":
		if len(rest) != 1 {
			printUsage()
			os.Exit(exitCodeUserError)
			return
		}
		runLs(enum, rest[0])
	case "path":
		if len(rest) != 1 {
			printUsage()
			os.Exit(exitCodeUserError)
			return
		}
		runPath(enum, rest[0])
	case "tree":
		runTree(enum)
	default:
		printUsage()
		os.Exit(exitCodeUserError)
	}
}

func runLs(enum *walk.Enumerator, path string) {
	resolver := walk.NewPathResolver(enum, 0)
	record, err := resolver.GetRecordByPath(path)
	if err != nil {
		fatalf(exitCodeFunctionalError, "Unable to resolve path %s: %v\n", path, err)
	}

	tree, err := walk.BuildTree(enum, progressFunc())
	if err != nil {
		fatalf(exitCodeTechnicalError, "Unable to build tree: %v\n", err)
	}

	node, ok := tree.Node(int(record.FileReference.RecordNumber))
	if !ok {
		fatalf(exitCodeFunctionalError, "Record %d not present in tree\n", record.FileReference.RecordNumber)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for _, child := range node.Children() {
		kind := "-"
		if childRecord, err := enum.Record(child.RecordNumber()); err == nil && childRecord.IsDirectory() {
			kind = "d"
		}
		fmt.Fprintf(w, "%s %s\n", kind, child.Filename())
	}
}

func runPath(enum *walk.Enumerator, recordArg string) {
	recordNumber, err := strconv.Atoi(recordArg)
	if err != nil {
		fatalf(exitCodeUserError, "Invalid record number %q: %v\n", recordArg, err)
	}
	record, err := enum.Record(recordNumber)
	if err != nil {
		fatalf(exitCodeTechnicalError, "Unable to read record %d: %v\n", recordNumber, err)
	}
	resolver := walk.NewPathResolver(enum, 0)
	path, err := resolver.GetPath(record)
	if err != nil {
		fatalf(exitCodeTechnicalError, "Unable to resolve path for record %d: %v\n", recordNumber, err)
	}
	fmt.Println(path)
}

func runTree(enum *walk.Enumerator) {
	tree, err := walk.BuildTree(enum, progressFunc())
	if err != nil {
		fatalf(exitCodeTechnicalError, "Unable to build tree: %v\n", err)
	}
	root, ok := tree.Root()
	if !ok {
		fatalf(exitCodeFunctionalError, "No root record found in tree\n")
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	printNode(w, root, 0)
}

func printNode(w *bufio.Writer, node *walk.Node, depth int) {
	if depth > 0 {
		fmt.Fprintf(w, "%s%s\n", indent(depth), node.Filename())
	}
	for _, child := range node.Children() {
		printNode(w, child, depth+1)
	}
}

func indent(depth int) string {
	b := make([]byte, depth*2)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

func progressFunc() walk.ProgressFunc {
	if !verbose {
		return nil
	}
	return func(current, total int) {
		if current%10000 == 0 {
			fmt.Fprintf(os.Stderr, "\rProcessed %d/%d records", current, total)
		}
	}
}

func printUsage() {
	out := os.Stderr
	exe := filepath.Base(os.Args[0])
	fmt.Fprintf(out, "\nusage: %s [flags] <mft file> <command> [args]\n\n", exe)
	fmt.Fprintln(out, "Inspect an already-extracted $MFT file's directory hierarchy.")
	fmt.Fprintln(out, "\nCommands:")
	fmt.Fprintln(out, "  ls <path>        list the children of path")
	fmt.Fprintln(out, "  path <record>    print the full path of a record number")
	fmt.Fprintln(out, "  tree             print the entire directory hierarchy")
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}

func fatalf(exitCode int, format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format, v...)
	os.Exit(exitCode)
}
