package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive component playground",
	Long: `Start an interactive session that renders TSX as you type it.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (a blank line renders the buffer)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.jsxbox_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".jsxbox_history")
	}

	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(os.Stderr, "jsxbox %s REPL (blank line renders, 'exit' or Ctrl+D to quit)\n", a.cfg.Render.Engine)

	var buf strings.Builder
	reset := func() {
		buf.Reset()
		rl.SetPrompt(">>> ")
	}

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			reset()
			continue
		}
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 && (trimmed == "exit" || trimmed == "quit") {
			return nil
		}
		if trimmed != "" {
			buf.WriteString(line)
			buf.WriteString("\n")
			rl.SetPrompt("... ")
			continue
		}
		if buf.Len() == 0 {
			continue
		}

		src := buf.String()
		reset()

		comp, err := a.renderer.Render(cmd.Context(), src)
		if err != nil {
			printFailures(os.Stderr, err)
			continue
		}
		for _, e := range comp.Logs() {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", e.Level, e.Message)
		}
		html, err := a.html(comp.Tree())
		comp.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println(html)
	}
}
