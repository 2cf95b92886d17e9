package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"

	"bagcluster/pkg"
	"bagcluster/pkg/bags"
	"bagcluster/pkg/io"
)

func TrainCommand() *cobra.Command {
	var trainFile string
	var outputFile string
	var reports pkg.Reports

	trainingParameters, err := pkg.DefaultTrainingParameters()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid environment")
	}

	var cmd = &cobra.Command{
		Use:   "train -i trainData -o outputFile",
		Short: "Learns cluster labels and histogram weights from the bag proportions of the training data and saves the model",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pkg.Train(trainFile, outputFile, reports, trainingParameters)
		},
	}

	p := &trainingParameters
	cmd.Flags().StringVarP(&trainFile, "train-file", "i", "", "name of train file")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "name of the file to save model to.")
	cmd.Flags().StringVarP(&reports.MetricsFile, "metrics-file", "", "", "name of the file to write search metrics to (optional)")
	cmd.Flags().StringVarP(&reports.TraceFile, "trace-file", "", "", "name of the file to write the training trace to (optional)")
	cmd.Flags().StringVarP(&reports.TraceLevel, "trace-level", "", "info", "trace file level: trace, debug, info, warn or error")
	cmd.Flags().IntVarP(&p.Histograms, "histograms", "f", p.Histograms, "number of histograms in a feature vector")
	cmd.Flags().IntVarP(&p.Repetitions, "repetitions", "r", p.Repetitions, "clustering runs at the optimal weights")
	cmd.Flags().StringVarP(&p.Labeler, "labeler", "l", p.Labeler, "cluster labeler: greedy or continuous")
	cmd.Flags().StringVarP(&p.Loss, "loss", "", p.Loss, "loss of the greedy labeler: l1 or l2")
	cmd.Flags().BoolVarP(&p.GlobalConstraint, "global-constraint", "g", p.GlobalConstraint, "match the population proportion in the continuous labeler")
	cmd.Flags().IntVarP(&p.SolverIterations, "solver-iterations", "", p.SolverIterations, "iteration cap of the least squares solver (0 for its default)")
	cmd.Flags().Float64VarP(&p.StepSize, "step-size", "s", p.StepSize, "initial step size of the weight search")
	cmd.Flags().IntVarP(&p.Population, "population", "p", p.Population, "population size of the weight search (0 for its default)")
	cmd.Flags().IntVarP(&p.MaxIterations, "max-iterations", "n", p.MaxIterations, "iteration cap of the weight search (0 for no cap)")
	cmd.Flags().IntVarP(&p.MaxEvaluations, "max-evaluations", "e", p.MaxEvaluations, "evaluation cap of the weight search (0 for no cap)")
	cmd.Flags().IntVarP(&p.ConvergeIterations, "converge-iterations", "", p.ConvergeIterations, "iterations without improvement that end the weight search")
	cmd.Flags().Float64VarP(&p.Tolerance, "tolerance", "", p.Tolerance, "smallest risk improvement the weight search counts")
	cmd.Flags().Uint64VarP(&p.RndSeed, "random-seed", "x", p.RndSeed, "random seed")
	cmd.Flags().IntVarP(&p.Clusters, "clusters", "k", p.Clusters, "number of clusters, rounded up to fit the branching factor")
	cmd.Flags().IntVarP(&p.Branching, "branching", "b", p.Branching, "branching factor of the clustering tree")
	cmd.Flags().IntVarP(&p.Iterations, "iterations", "t", p.Iterations, "k-means iterations per split (-1 until stable)")
	cmd.Flags().StringVarP(&p.CentersInit, "centers-init", "c", p.CentersInit, "centroid seeding: random, gonzales or kmeanspp")

	_ = cmd.MarkFlagRequired("train-file")
	_ = cmd.MarkFlagRequired("output-file")

	return cmd
}

func TestCommand() *cobra.Command {
	var modelFile string
	var inputFile string
	var outputFile string

	var cmd = &cobra.Command{
		Use:   "test -m modelFile -i testFile [-o outputFile]",
		Short: "Runs the provided model on the specified data input and optionally writes the predictions",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pkg.Test(modelFile, inputFile, outputFile)
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of model to test")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file (optional, uses stdin if not present)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of output file (optional)")

	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func GenerateCommand() *cobra.Command {
	var outputFile string
	var seed uint64
	var config bags.SyntheticConfig

	var cmd = &cobra.Command{
		Use:   "generate -o outputFile",
		Short: "Writes a synthetic bagged dataset drawn from two histogram prototypes",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := bags.Synthetic(config, rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("error creating output file %s: %w", outputFile, err)
			}
			defer f.Close()
			if err := io.WriteData(ds, f); err != nil {
				return err
			}
			log.Info().Int("Bags", ds.NumBags()).Int("Instances", ds.NumInstances()).Str("File", outputFile).Msg("Generated")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of output file")
	cmd.Flags().IntVarP(&config.Bags, "bags", "n", 20, "number of bags")
	cmd.Flags().IntVarP(&config.BagSize, "bag-size", "s", 10, "instances per bag")
	cmd.Flags().IntVarP(&config.Histograms, "histograms", "f", 2, "histograms per instance")
	cmd.Flags().IntVarP(&config.Bins, "bins", "b", 8, "bins per histogram")
	cmd.Flags().Float64VarP(&config.Noise, "noise", "", 0.1, "noise added to every bin before normalization")
	cmd.Flags().Float64VarP(&config.IntervalWidth, "interval-width", "", 0, "width of interval bag labels (0 for scalar labels)")
	cmd.Flags().Uint64VarP(&seed, "random-seed", "x", 42, "random seed")

	_ = cmd.MarkFlagRequired("output")

	return cmd
}

var logLevel string
var logFormat string

func main() {
	// a missing .env file is not an error
	_ = godotenv.Load()

	Main := &cobra.Command{Use: "bagcluster", PersistentPreRun: setupLogging, SilenceUsage: true}

	Main.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error debug or trace")
	Main.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")

	Main.AddCommand(TrainCommand())
	Main.AddCommand(TestCommand())
	Main.AddCommand(GenerateCommand())

	if err := Main.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) {
	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		panic("Invalid logging level specified")
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
	default:
		panic("Invalid log format specified")
	}
}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}
	}
	log.Logger = log.Output(writer)
}
