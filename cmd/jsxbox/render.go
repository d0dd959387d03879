package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/failure"
)

var errRenderFailed = errors.New("render failed")

var renderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Render a component to HTML",
	Long: `Check, compile and execute a component, then print its HTML.

Source can be provided via:
  - File argument: jsxbox render Button.tsx
  - Component name: jsxbox render --name forms/Login
  - Inline flag: jsxbox render -c 'export default () => <p>hi</p>'
  - Stdin: cat Button.tsx | jsxbox render`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringP("code", "c", "", "Component source")
	renderCmd.Flags().StringP("name", "n", "", "Component name in the components directory")
	renderCmd.Flags().String("props", "", "Props as a JSON object")
	renderCmd.Flags().Bool("json", false, "Print the rendered tree as JSON")
	renderCmd.Flags().Bool("logs", false, "Print captured console output to stderr")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	propsJSON, _ := cmd.Flags().GetString("props")
	asJSON, _ := cmd.Flags().GetBool("json")
	showLogs, _ := cmd.Flags().GetBool("logs")

	var src string
	if name == "" {
		var ok bool
		var err error
		src, ok, err = readSource(cmd, args)
		if err != nil {
			return err
		}
		if !ok {
			return cmd.Help()
		}
	}

	var opts []executor.Option
	if propsJSON != "" {
		props := map[string]any{}
		if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
			return fmt.Errorf("invalid --props: %w", err)
		}
		opts = append(opts, executor.WithProps(props))
	}

	a, err := loadApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var comp executor.Component
	if name != "" {
		comp, err = a.renderer.RenderNamed(ctx, name, opts...)
	} else {
		comp, err = a.renderer.Render(ctx, src, opts...)
	}
	if err != nil {
		printFailures(cmd.ErrOrStderr(), err)
		return errRenderFailed
	}
	defer comp.Close()

	if showLogs {
		for _, e := range comp.Logs() {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", e.Level, e.Message)
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(comp.Tree())
	}
	html, err := a.html(comp.Tree())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, html)
	return nil
}

// readSource takes the component from -c, a file argument or piped stdin.
// ok is false when there is nothing to read.
func readSource(cmd *cobra.Command, args []string) (string, bool, error) {
	code, _ := cmd.Flags().GetString("code")
	switch {
	case code != "":
		return code, true, nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	}

	in := cmd.InOrStdin()
	if f, isFile := in.(*os.File); isFile {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", false, nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", false, err
	}
	return string(data), len(data) > 0, nil
}

// printFailures writes one line per failure so every violation in a file
// is visible at once.
func printFailures(w io.Writer, err error) {
	all := failure.All(err)
	if len(all) == 0 {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	for _, fe := range all {
		fmt.Fprintf(w, "Error: %v\n", fe)
	}
}
