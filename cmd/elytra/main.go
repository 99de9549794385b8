// Command elytra is the operator CLI: it ingests uploads into datasets
// and submits YAML pipelines to a running control plane.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/client"
	"github.com/go-elytra/elytra/config"
	"github.com/go-elytra/elytra/ingest"
	"github.com/go-elytra/elytra/logging"
	yaml "gopkg.in/yaml.v3"
)

const usage = `usage: elytra <command> [flags]

commands:
  ingest <file>    convert an upload, publish it and register the dataset
  submit           submit a pipeline file against a dataset
  datasets         list registered datasets
  rm <datasetId>   delete a dataset
`

func main() {
	cfg := config.FromEnv()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(cfg, os.Args[2:])
	case "submit":
		err = runSubmit(os.Args[2:])
	case "datasets":
		err = runDatasets(os.Args[2:])
	case "rm":
		err = runDelete(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "elytra: %v\n", err)
		os.Exit(1)
	}
}

func serverFlags(fs *flag.FlagSet) (*string, *string) {
	server := fs.String("server", "http://localhost:8080", "control plane base URL")
	apiKey := fs.String("key", os.Getenv("ELYTRA_API_KEY"), "API key")
	return server, apiKey
}

func runIngest(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	server, apiKey := serverFlags(fs)
	name := fs.String("name", "", "dataset display name (defaults to the file name)")
	rowGroupSize := fs.Int64("row-group-size", 0, "rows per row group")
	compression := fs.String("compression", "", "parquet codec: snappy, zstd or none")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("ingest expects exactly one upload file")
	}

	ctx := context.Background()
	publisher, err := ingest.NewPublisher(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer publisher.Close()

	ing := ingest.NewIngestor(publisher, client.New(*server, *apiKey), ingest.ConvertOptions{
		RowGroupSize: *rowGroupSize,
		Compression:  *compression,
	})
	resp, err := ing.IngestFile(ctx, fs.Arg(0), *name)
	if err != nil {
		return err
	}
	fmt.Printf("registered dataset %s (%d row groups)\n", resp.DatasetID, resp.RowGroupCount)
	return nil
}

// pipelineFile is the YAML shape accepted by submit:
//
//	pipeline:
//	  - op: map
//	    fn: (x)=>x*x
//	  - op: count
type pipelineFile struct {
	Pipeline []pipelineStep `yaml:"pipeline"`
}

type pipelineStep struct {
	Op           string      `yaml:"op"`
	Fn           string      `yaml:"fn"`
	InitialValue interface{} `yaml:"initialValue"`
}

func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	server, apiKey := serverFlags(fs)
	datasetID := fs.String("d", "", "dataset id")
	file := fs.String("f", "", "pipeline YAML file")
	fs.Parse(args)
	if *datasetID == "" || *file == "" {
		return fmt.Errorf("submit requires -d <datasetId> and -f <pipeline.yaml>")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read pipeline file: %w", err)
	}
	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse pipeline file: %w", err)
	}
	ops := make([]elytra.Operation, len(pf.Pipeline))
	for i, step := range pf.Pipeline {
		ops[i] = elytra.Operation{
			Kind:         elytra.OpKind(step.Op),
			Fn:           step.Fn,
			InitialValue: step.InitialValue,
		}
	}
	if err := elytra.ValidateOps(ops); err != nil {
		return err
	}

	result, err := client.New(*server, *apiKey).Run(context.Background(), *datasetID, ops)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runDatasets(args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	server, apiKey := serverFlags(fs)
	fs.Parse(args)
	list, err := client.New(*server, *apiKey).Datasets(context.Background())
	if err != nil {
		return err
	}
	for _, d := range list {
		fmt.Printf("%s\t%s\t%d row groups\t%s\n", d.ID, d.Name, d.RowGroupCount, d.Format)
	}
	return nil
}

func runDelete(args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	server, apiKey := serverFlags(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("rm expects exactly one dataset id")
	}
	if err := client.New(*server, *apiKey).DeleteDataset(context.Background(), fs.Arg(0)); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}
