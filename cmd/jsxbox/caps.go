package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/vdom"
)

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "List the modules and exports components may import",
	Args:  cobra.NoArgs,
	RunE:  runCaps,
}

func init() {
	capsCmd.Flags().Bool("validate", false, "Only validate the manifest")
	rootCmd.AddCommand(capsCmd)
}

func runCaps(cmd *cobra.Command, args []string) error {
	validate, _ := cmd.Flags().GetBool("validate")

	a, err := loadApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if validate {
		fmt.Fprintf(out, "%s: %d modules\n", a.cfg.Capabilities.Manifest, a.registry.Len())
		return nil
	}
	if a.registry.Len() == 0 {
		fmt.Fprintln(out, "no capabilities granted")
		return nil
	}
	for _, id := range a.registry.Modules() {
		fmt.Fprintln(out, id)
		for _, name := range a.registry.Exports(id) {
			v, _ := a.registry.Lookup(id, name)
			fmt.Fprintf(out, "  %-16s %s\n", name, describe(v))
		}
	}
	return nil
}

func describe(v any) string {
	switch v := v.(type) {
	case capability.Func:
		return "function"
	case vdom.Intrinsic:
		return "intrinsic <" + v.Tag + ">"
	case *vdom.Intrinsic:
		return "intrinsic <" + v.Tag + ">"
	case string:
		return fmt.Sprintf("value %q", v)
	default:
		s := fmt.Sprintf("value %v", v)
		if len(s) > 60 {
			s = s[:57] + "..."
		}
		return strings.TrimSpace(s)
	}
}
