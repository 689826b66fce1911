package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cfgvault/internal/vcs"
)

func newStateCmd(cfgPath *string) *cobra.Command {
	state := &cobra.Command{
		Use:   "state",
		Short: "Operaciones sobre el estado exportado del versionado",
	}

	var file string
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Muestra branches, heads, tags y cantidad de commits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := file
			if path == "" {
				cfg, _, err := loadConfig(*cfgPath)
				if err != nil {
					return err
				}
				path = cfg.VCS.StatePath
			}
			if path == "" {
				return fmt.Errorf("no hay archivo de estado (--file o vcs.state_path)")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			c := vcs.New(vcs.Options{})
			if err := c.ImportYAML(f); err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), c)
		},
	}
	inspect.Flags().StringVarP(&file, "file", "f", "", "Archivo de estado (pisa vcs.state_path)")
	state.AddCommand(inspect)
	return state
}

func printState(out io.Writer, c *vcs.Controller) error {
	st := c.Status()
	fmt.Fprintf(out, "current: %s\ncommits: %d\n\n", st.Branch, c.CommitCount())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BRANCH\tHEAD\tCOMMITS\tPROTECTED")
	for _, b := range c.ListBranches() {
		head := b.Head
		if head == "" {
			head = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", b.Name, head, len(b.Commits), b.Protection.Protected)
	}
	if tags := c.ListTags(); len(tags) > 0 {
		fmt.Fprintln(tw, "\nTAG\tTARGET\t\t")
		for _, t := range tags {
			fmt.Fprintf(tw, "%s\t%s\t\t\n", t.Name, t.Target)
		}
	}
	return tw.Flush()
}
