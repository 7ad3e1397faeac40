package app

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dialplan/extaudit/internal/cmd/output"
	"github.com/dialplan/extaudit/pkg/audit"
	"github.com/dialplan/extaudit/pkg/constants"
	"github.com/dialplan/extaudit/pkg/errors"
	"github.com/dialplan/extaudit/pkg/patch"
	"github.com/dialplan/extaudit/pkg/plan"
)

// auditFlags are the snapshot-selection flags shared by every command that
// builds an audit context.
type auditFlags struct {
	kind            string
	includeInactive bool
	usersPageSize   int
	recordsPageSize int
}

func (f *auditFlags) register(cmd *cobra.Command, defaults *Config) {
	cmd.Flags().StringVar(&f.kind, "kind", defaults.Kind, "number space to audit: extension or did")
	cmd.Flags().BoolVar(&f.includeInactive, "include-inactive", defaults.IncludeInactive, "include inactive users in the snapshot")
	cmd.Flags().IntVar(&f.usersPageSize, "users-page-size", defaults.UsersPageSize, "users page size (0 = maximum)")
	cmd.Flags().IntVar(&f.recordsPageSize, "records-page-size", defaults.RecordsPageSize, "records page size (0 = maximum)")
}

// buildSnapshot builds the audit context for a command, streaming progress
// stages to the logger.
func (a *App) buildSnapshot(ctx context.Context, f *auditFlags) (*audit.Context, error) {
	kind, ok := audit.ParseKind(f.kind)
	if !ok {
		return nil, errors.NewValidationError("kind", f.kind, "must be extension or did")
	}

	auditor, err := a.Auditor()
	if err != nil {
		return nil, err
	}

	progress := audit.NewReporter(0)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for stage := range progress.C() {
			a.logger.Info().Msg(stage)
		}
	}()

	snapshot, err := auditor.BuildContext(ctx, audit.BuildOptions{
		Kind:            kind,
		IncludeInactive: f.includeInactive,
		UsersPageSize:   f.usersPageSize,
		RecordsPageSize: f.recordsPageSize,
		Progress:        progress,
	})
	progress.Close()
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// formatter returns the output formatter for the configured format.
func (a *App) formatter() output.Formatter {
	return output.NewFormatter(output.DetectFormat(a.config.Format))
}

// NewAuditCommand creates the audit command.
func (a *App) NewAuditCommand() *cobra.Command {
	var flags auditFlags
	var dryRunReport bool
	var csvDir string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Build a snapshot and report findings",
		Long: `Audit fetches all users and number ownership records, reconciles them,
and reports the findings: duplicate user assignments, duplicate records,
discrepancies, and missing assignments. Read-only.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshot, err := a.buildSnapshot(cmd.Context(), &flags)
			if err != nil {
				return err
			}

			report := snapshot.BuildReport(a.config.APIBaseURI, time.Now())
			f := a.formatter()

			if dryRunReport {
				if err := f.Format(os.Stdout, report); err != nil {
					return err
				}
			} else {
				sections := []struct {
					title string
					data  any
				}{
					{"Summary", report.Summary},
					{"Duplicate user assignments", report.DuplicateUserAssignments},
					{"Duplicate records", report.DuplicateRecords},
					{"Discrepancies", report.Discrepancies},
					{"Missing assignments", report.MissingAssignments},
					{"User issues", report.UserIssues},
				}
				for _, s := range sections {
					fmt.Fprintf(os.Stdout, "\n%s\n", s.title)
					if err := f.Format(os.Stdout, s.data); err != nil {
						return err
					}
				}
			}

			if csvDir != "" {
				client, err := a.Client()
				if err != nil {
					return err
				}
				if err := a.Exporter().ExportReport(csvDir, report, client.Stats()); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "\nCSV export written to %s\n", csvDir)
			}
			return nil
		},
	}

	flags.register(cmd, a.config)
	cmd.Flags().BoolVar(&dryRunReport, "dry-run-report", false, "emit the full dry-run report as one document")
	cmd.Flags().StringVar(&csvDir, "csv-dir", "", "also export findings as CSV files into this directory")
	return cmd
}

// NewPlanCommand creates the plan command.
func (a *App) NewPlanCommand() *cobra.Command {
	var flags auditFlags
	var reassertConsistent bool
	var preferAssign bool
	var out string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build a remediation plan from findings",
		Long: `Plan derives an ordered remediation plan from the audit findings.
Replacement numbers are drawn first-in-first-out from the available pool.
Write the plan to a file with --out, review and edit it, then run apply.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshot, err := a.buildSnapshot(cmd.Context(), &flags)
			if err != nil {
				return err
			}

			p := plan.Build(snapshot, plan.Options{
				ReassertConsistent: reassertConsistent,
				PreferAssign:       preferAssign,
			})

			if err := a.formatter().Format(os.Stdout, p.Items); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, p.Summary)

			if out != "" {
				if err := plan.Save(p, out); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "Plan written to %s\n", out)
			}
			return nil
		},
	}

	flags.register(cmd, a.config)
	cmd.Flags().BoolVar(&reassertConsistent, "reassert-consistent", false, "also reassert users whose assignment is already consistent")
	cmd.Flags().BoolVar(&preferAssign, "prefer-assign", false, "assign available numbers instead of clearing")
	cmd.Flags().StringVar(&out, "out", "", "write the plan to this YAML file")
	return cmd
}

// patchFlags are the guardrail flags shared by apply and patch-missing.
type patchFlags struct {
	whatIf      bool
	maxUpdates  int
	maxFailures int
	sleep       time.Duration
	verify      bool
	csvDir      string
}

func (f *patchFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.whatIf, "whatif", true, "simulate without writing (disable with --whatif=false)")
	cmd.Flags().IntVar(&f.maxUpdates, "max-updates", 0, "stop updating after this many updates (0 = unlimited)")
	cmd.Flags().IntVar(&f.maxFailures, "max-failures", 0, "abort after this many failures (0 = unlimited)")
	cmd.Flags().DurationVar(&f.sleep, "sleep", constants.DefaultPatchSleep, "pause between writes")
	cmd.Flags().BoolVar(&f.verify, "verify", false, "re-fetch patched users and verify the written state")
	cmd.Flags().StringVar(&f.csvDir, "csv-dir", "", "export the patch result as CSV files into this directory")
}

// runPatchOutput prints and optionally exports and verifies a patch result.
func (a *App) runPatchOutput(ctx context.Context, kind audit.Kind, res *patch.Result, f *patchFlags) error {
	out := a.formatter()
	if err := out.Format(os.Stdout, res); err != nil {
		return err
	}

	if f.csvDir != "" {
		client, err := a.Client()
		if err != nil {
			return err
		}
		if err := a.Exporter().ExportPatch(f.csvDir, res, client.Stats()); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "CSV export written to %s\n", f.csvDir)
	}

	if f.verify && !res.Summary.WhatIf && len(res.Updated) > 0 {
		executor, err := a.Executor()
		if err != nil {
			return err
		}
		v, err := executor.Verify(ctx, kind, res.Updated, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "\nVerification")
		if err := out.Format(os.Stdout, v); err != nil {
			return err
		}
	}
	return nil
}

// NewApplyCommand creates the apply command.
func (a *App) NewApplyCommand() *cobra.Command {
	var flags auditFlags
	var pf patchFlags
	var planFile string
	var includeMissing, includeDuplicateUser, includeDiscrepancy, includeReassert bool
	var reassertConsistent, preferAssign bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Execute a remediation plan",
		Long: `Apply executes a remediation plan against the directory. By default it
simulates (--whatif=true) and targets only the missing category; enable
other categories explicitly. With --plan it loads a reviewed plan file,
otherwise it rebuilds a plan in-process from a fresh snapshot.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshot, err := a.buildSnapshot(cmd.Context(), &flags)
			if err != nil {
				return err
			}

			var p *plan.Plan
			if planFile != "" {
				p, err = plan.Load(planFile)
				if err != nil {
					return err
				}
				if p.Kind != "" && p.Kind != snapshot.Kind {
					return errors.NewValidationError("plan.kind", p.Kind,
						fmt.Sprintf("plan was built for kind %q but this run audits %q", p.Kind, snapshot.Kind))
				}
			} else {
				p = plan.Build(snapshot, plan.Options{
					ReassertConsistent: reassertConsistent,
					PreferAssign:       preferAssign,
				})
			}

			executor, err := a.Executor()
			if err != nil {
				return err
			}

			res, err := executor.ExecutePlan(cmd.Context(), snapshot, p, patch.Options{
				WhatIf:               pf.whatIf,
				Sleep:                pf.sleep,
				MaxUpdates:           pf.maxUpdates,
				MaxFailures:          pf.maxFailures,
				IncludeMissing:       includeMissing,
				IncludeDuplicateUser: includeDuplicateUser,
				IncludeDiscrepancy:   includeDiscrepancy,
				IncludeReassert:      includeReassert,
			}, nil)
			if err != nil {
				return err
			}

			return a.runPatchOutput(cmd.Context(), snapshot.Kind, res, &pf)
		},
	}

	flags.register(cmd, a.config)
	pf.register(cmd)
	cmd.Flags().StringVar(&planFile, "plan", "", "reviewed plan YAML file to execute")
	cmd.Flags().BoolVar(&includeMissing, "include-missing", true, "execute Missing items")
	cmd.Flags().BoolVar(&includeDuplicateUser, "include-duplicate-user", false, "execute DuplicateUser items")
	cmd.Flags().BoolVar(&includeDiscrepancy, "include-discrepancy", false, "execute Discrepancy items")
	cmd.Flags().BoolVar(&includeReassert, "include-reassert", false, "execute Reassert items")
	cmd.Flags().BoolVar(&reassertConsistent, "reassert-consistent", false, "when rebuilding in-process, include reassert items")
	cmd.Flags().BoolVar(&preferAssign, "prefer-assign", false, "when rebuilding in-process, assign available numbers instead of clearing")
	return cmd
}

// NewPatchMissingCommand creates the patch-missing command.
func (a *App) NewPatchMissingCommand() *cobra.Command {
	var flags auditFlags
	var pf patchFlags

	cmd := &cobra.Command{
		Use:   "patch-missing",
		Short: "Re-assert numbers for all missing-assignment findings",
		Long: `Patch-missing re-writes the profile number for every user whose claimed
number has no ownership record, without building a plan first. Numbers
claimed by more than one user are skipped. Simulates by default.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshot, err := a.buildSnapshot(cmd.Context(), &flags)
			if err != nil {
				return err
			}

			executor, err := a.Executor()
			if err != nil {
				return err
			}

			res, err := executor.PatchMissing(cmd.Context(), snapshot, patch.Options{
				WhatIf:      pf.whatIf,
				Sleep:       pf.sleep,
				MaxUpdates:  pf.maxUpdates,
				MaxFailures: pf.maxFailures,
			}, nil)
			if err != nil {
				return err
			}

			return a.runPatchOutput(cmd.Context(), snapshot.Kind, res, &pf)
		},
	}

	flags.register(cmd, a.config)
	pf.register(cmd)
	return cmd
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("extaudit version %s\n", a.version)
			fmt.Printf("commit: %s\n", a.commit)
			fmt.Printf("built: %s\n", a.date)
			fmt.Printf("built by: %s\n", a.builtBy)
			fmt.Printf("go version: %s\n", runtime.Version())
			fmt.Printf("platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
