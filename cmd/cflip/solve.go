package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"charge-flip/internal/config"
	"charge-flip/internal/flipping"
	"charge-flip/internal/metrics"
	"charge-flip/internal/origin"
	"charge-flip/internal/persistence"
	"charge-flip/internal/project"
	"charge-flip/internal/reciprocal"
	"charge-flip/internal/solver"
	"charge-flip/internal/version"
)

var (
	solveSeed     int64
	solveTrials   int
	solveJobs     int
	solveStrategy string
	solveNoOrigin bool
	solveOut      string
	solveNoSave   bool
)

var solveCmd = &cobra.Command{
	Use:   "solve JOB.json",
	Short: "Solve a job by charge flipping",
	Long: `Run one or more independent seeded charge flipping trials on the
observed amplitudes of a job file, search the origin of each solution, store
the runs in the history database and write the best solution.`,
	Args: cobra.ExactArgs(1),
	RunE: runSolve,
}

func init() {
	solveCmd.Flags().Int64Var(&solveSeed, "seed", 0, "Seed of the first trial (default: job setting or 1)")
	solveCmd.Flags().IntVar(&solveTrials, "trials", 0, "Number of independent trials")
	solveCmd.Flags().IntVar(&solveJobs, "jobs", 0, "Trials run at once")
	solveCmd.Flags().StringVar(&solveStrategy, "strategy", "", "Flipping strategy (basic, weak)")
	solveCmd.Flags().BoolVar(&solveNoOrigin, "no-origin", false, "Skip the origin search")
	solveCmd.Flags().StringVarP(&solveOut, "out", "o", "", "Write the best phased solution to this file")
	solveCmd.Flags().BoolVar(&solveNoSave, "no-save", false, "Do not record runs in the history database")
	rootCmd.AddCommand(solveCmd)
}

// applySolveFlags copies explicitly set solve flags into config overrides.
func applySolveFlags(cmd *cobra.Command, o *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("trials") {
		o.Trials = solveTrials
	}
	if flags.Changed("jobs") {
		o.Jobs = solveJobs
	}
	if flags.Changed("strategy") {
		o.Solver.Strategy = solveStrategy
	}
	if flags.Changed("no-origin") {
		o.Origin.Enabled = !solveNoOrigin
		o.Origin.EnabledSet = true
	}
}

// trial is the outcome of one seeded solver run.
type trial struct {
	ID     string
	Seed   int64
	Result solver.Result
	Peaks  []origin.Peak
	Phased *reciprocal.Set
}

func runSolve(cmd *cobra.Command, args []string) error {
	job, err := project.Load(args[0])
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	fObs, err := job.ReciprocalData()
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	if job.Settings.Strategy != "" && !cmd.Flags().Changed("strategy") {
		cfg.Solver.Strategy = job.Settings.Strategy
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}
	seed := solveSeed
	if !cmd.Flags().Changed("seed") {
		seed = job.Settings.Seed
		if seed == 0 {
			seed = 1
		}
	}

	recorder := metrics.NewRecorder()
	slog.Info("solving",
		"job", job.Name,
		"reflections", fObs.Len(),
		"space_group", fObs.SpaceGroup().Symbol,
		"strategy", strategy.Kind.String(),
		"trials", cfg.Trials)

	trials := make([]trial, max(cfg.Trials, 1))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(cfg.Jobs, 1))
	for i := range trials {
		g.Go(func() error {
			t, err := runTrial(ctx, fObs, strategy, seed+int64(i), recorder)
			if err != nil {
				return fmt.Errorf("trial %d: %w", i, err)
			}
			trials[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !solveNoSave {
		if err := saveTrials(job.Name, strategy.Kind.String(), trials); err != nil {
			return err
		}
	}
	if cfg.MetricsTextfile != "" {
		if err := recorder.WriteTextfile(cfg.MetricsTextfile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	best := bestTrial(trials)
	if solveOut != "" {
		if err := writeResult(solveOut, job, strategy.Kind.String(), best); err != nil {
			return err
		}
		slog.Info("solution written", "path", solveOut, "run", best.ID)
	}
	return printTrials(cmd.OutOrStdout(), trials)
}

func runTrial(ctx context.Context, fObs *reciprocal.Set, strategy flipping.Strategy, seed int64, recorder *metrics.Recorder) (trial, error) {
	id := uuid.NewString()
	logger := slog.Default().With("run", id[:8], "seed", seed)

	it, err := flipping.NewIterator(fObs,
		flipping.WithStrategy(strategy),
		flipping.WithSeed(seed),
		flipping.WithResolutionFactor(cfg.Solver.ResolutionFactor),
		flipping.WithLogger(logger))
	if err != nil {
		return trial{}, err
	}
	s, err := solver.New(it, cfg.SolverParams(),
		solver.WithLogger(logger),
		solver.WithMetrics(recorder))
	if err != nil {
		return trial{}, err
	}
	res, err := s.Run(ctx)
	if err != nil {
		return trial{}, err
	}

	t := trial{ID: id, Seed: seed, Result: res, Phased: res.Final.FCalc}
	if cfg.Origin.Enabled && res.Success {
		found, err := origin.Search(fObs, res.Final.FCalc, cfg.OriginParams())
		if err != nil {
			return trial{}, fmt.Errorf("origin search: %w", err)
		}
		t.Peaks = found.Peaks
		t.Phased, _ = origin.ApplyBest(res.Final.FCalc, found)
		logger.Info("origin search", "peaks", len(found.Peaks))
	}
	return t, nil
}

// bestTrial prefers successful trials, then the lowest R1.
func bestTrial(trials []trial) trial {
	ranked := append([]trial(nil), trials...)
	sort.SliceStable(ranked, func(a, b int) bool {
		ra, rb := ranked[a].Result, ranked[b].Result
		if ra.Success != rb.Success {
			return ra.Success
		}
		return ra.Final.R1 < rb.Final.R1
	})
	return ranked[0]
}

func saveTrials(job, strategy string, trials []trial) error {
	db, err := persistence.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, t := range trials {
		run := persistence.Run{
			ID:                  t.ID,
			Job:                 job,
			Seed:                t.Seed,
			Strategy:            strategy,
			Success:             t.Result.Success,
			MaxAttemptsExceeded: t.Result.MaxAttemptsExceeded,
			Attempts:            t.Result.Attempts,
			Iterations:          t.Result.Iterations,
			R1:                  t.Result.Final.R1,
			Delta:               t.Result.Final.Delta,
			Version:             version.Version,
			Created:             time.Now(),
		}
		peaks := make([]persistence.Peak, len(t.Peaks))
		for i, p := range t.Peaks {
			peaks[i] = persistence.Peak{Rank: i, Site: p.Site, Height: p.Height}
		}
		if err := db.SaveRun(run, peaks); err != nil {
			return fmt.Errorf("save run %s: %w", t.ID, err)
		}
	}
	return nil
}

func writeResult(path string, job *project.File, strategy string, t trial) error {
	res := &project.Result{
		Job:      job.Name,
		RunID:    t.ID,
		Created:  time.Now(),
		Cell:     job.Cell,
		Strategy: strategy,
		Seed:     t.Seed,
		Success:  t.Result.Success,
		R1:       t.Result.Final.R1,
		Delta:    t.Result.Final.Delta,
		F000:     t.Result.Final.F000,
	}
	if len(t.Peaks) > 0 {
		s := t.Peaks[0].Site
		res.Origin = [3]float64{s.X, s.Y, s.Z}
	}
	res.SetPhased(t.Phased)
	return res.Save(path)
}

func printTrials(w io.Writer, trials []trial) error {
	if cfg.Output == "json" {
		type row struct {
			ID                  string    `json:"id"`
			Seed                int64     `json:"seed"`
			Success             bool      `json:"success"`
			MaxAttemptsExceeded bool      `json:"max_attempts_exceeded"`
			Attempts            int       `json:"attempts"`
			Iterations          int       `json:"iterations"`
			R1                  float64   `json:"r1"`
			Delta               float64   `json:"delta"`
			DeltaTrajectory     []float64 `json:"delta_trajectory"`
		}
		rows := make([]row, len(trials))
		for i, t := range trials {
			rows[i] = row{
				ID:                  t.ID,
				Seed:                t.Seed,
				Success:             t.Result.Success,
				MaxAttemptsExceeded: t.Result.MaxAttemptsExceeded,
				Attempts:            t.Result.Attempts,
				Iterations:          t.Result.Iterations,
				R1:                  t.Result.Final.R1,
				Delta:               t.Result.Final.Delta,
				DeltaTrajectory:     t.Result.DeltaTrajectory,
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSEED\tSOLVED\tATTEMPTS\tITERATIONS\tR1\tDELTA\tORIGIN")
	for _, t := range trials {
		originCol := "-"
		if len(t.Peaks) > 0 {
			s := t.Peaks[0].Site
			originCol = fmt.Sprintf("%.3f,%.3f,%.3f", s.X, s.Y, s.Z)
		}
		fmt.Fprintf(tw, "%s\t%d\t%t\t%d\t%d\t%.4f\t%.4g\t%s\n",
			t.ID[:8], t.Seed, t.Result.Success, t.Result.Attempts,
			t.Result.Iterations, t.Result.Final.R1, t.Result.Final.Delta, originCol)
	}
	return tw.Flush()
}
