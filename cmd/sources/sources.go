// Package sources implements commands for inspecting configured recipe
// sources.
package sources

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/recipeharvest/cmd/common"
	internalsources "github.com/jonesrussell/recipeharvest/internal/sources"
)

// Command returns the sources command with its subcommands.
func Command(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage recipe sources",
		Long:  `Inspect and validate the recipe sources configured in sources.yaml.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(listCommand(cfgFile))
	cmd.AddCommand(validateCommand(cfgFile))

	return cmd
}

func listCommand(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sources",
		RunE: func(_ *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps(*cfgFile)
			if err != nil {
				return err
			}

			siteList, err := internalsources.Load(deps.Config.SourcesPath)
			if err != nil {
				return fmt.Errorf("failed to load sources: %w", err)
			}

			renderTable(siteList)

			return nil
		},
	}
}

func validateCommand(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the sources configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps(*cfgFile)
			if err != nil {
				return err
			}

			siteList, err := internalsources.Load(deps.Config.SourcesPath)
			if err != nil {
				if errors.Is(err, internalsources.ErrNoSources) {
					return fmt.Errorf("no sources configured in %s", deps.Config.SourcesPath)
				}
				return err
			}

			enabled := internalsources.Enabled(siteList)
			fmt.Printf("OK: %d source(s), %d enabled\n", len(siteList), len(enabled))

			return nil
		},
	}
}

func renderTable(siteList []internalsources.Source) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Key", "Name", "Base URL", "Enabled", "Tags"})

	for i := range siteList {
		src := &siteList[i]
		t.AppendRow(table.Row{
			src.Key,
			src.Name,
			src.BaseURL,
			src.Enabled,
			strings.Join(src.Tags, ", "),
		})
	}

	t.Render()
}
