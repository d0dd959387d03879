package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/caffeineduck/jsxbox/failure"
)

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Check component imports against the capability manifest",
	Long: `Validate the imports of a component without compiling or running it.

With --all every component in the components directory is checked and
all violations are reported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringP("code", "c", "", "Component source")
	checkCmd.Flags().Bool("all", false, "Check every component in the components directory")
	checkCmd.Flags().Int("jobs", 8, "Components checked concurrently with --all")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")

	a, err := loadApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if !all {
		src, ok, err := readSource(cmd, args)
		if err != nil {
			return err
		}
		if !ok {
			return cmd.Help()
		}
		if _, err := a.renderer.Check(cmd.Context(), src); err != nil {
			printFailures(cmd.ErrOrStderr(), err)
			return errRenderFailed
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}

	jobs, _ := cmd.Flags().GetInt("jobs")
	names, err := a.resolver.List(cmd.Context())
	if err != nil {
		return err
	}

	results := make([]error, len(names))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(jobs, 1))
	for i, name := range names {
		g.Go(func() error {
			src, err := a.resolver.Resolve(ctx, name)
			if err != nil {
				return err
			}
			_, results[i] = a.renderer.Check(ctx, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	for i, name := range names {
		err := results[i]
		if err == nil {
			fmt.Fprintf(out, "ok    %s\n", name)
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL  %s\n", name)
		fes := failure.All(err)
		if len(fes) == 0 {
			fmt.Fprintf(errOut, "  %s: %v\n", name, err)
		}
		for _, fe := range fes {
			fmt.Fprintf(errOut, "  %s: %v\n", name, fe)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d components failed", failed, len(names))
	}
	return nil
}
