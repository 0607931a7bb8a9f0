package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/export"
	"github.com/kkers42/PLM-Lite/internal/plm/service"
	"github.com/spf13/cobra"
)

func newBOMCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bom",
		Short: "Bill of materials commands",
	}

	cmd.AddCommand(newBOMAddCmd(a))
	cmd.AddCommand(newBOMRemoveCmd(a))
	cmd.AddCommand(newBOMChildrenCmd(a, false))
	cmd.AddCommand(newBOMChildrenCmd(a, true))
	cmd.AddCommand(newBOMFlatCmd(a))
	cmd.AddCommand(newBOMTreeCmd(a))
	cmd.AddCommand(newBOMEdgesCmd(a))
	cmd.AddCommand(newBOMExportCmd(a))
	cmd.AddCommand(newBOMImportCmd(a))
	cmd.AddCommand(newBOMTemplateCmd())
	return cmd
}

func newBOMAddCmd(a *app) *cobra.Command {
	var (
		quantity float64
		relType  string
		notes    string
	)

	cmd := &cobra.Command{
		Use:   "add <parent> <child>",
		Short: "Add a child part under a parent",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			parent, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			child, err := a.part(ctx, args[1])
			if err != nil {
				return err
			}
			rel, err := a.svc.BOM.AddEdge(ctx, actor, &service.AddEdgeRequest{
				ParentPartID:     parent.ID,
				ChildPartID:      child.ID,
				Quantity:         quantity,
				RelationshipType: relType,
				Notes:            notes,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rel)
		}),
	}

	cmd.Flags().Float64VarP(&quantity, "qty", "q", 1, "quantity of child per parent")
	cmd.Flags().StringVar(&relType, "type", entity.DefaultRelationshipType, "relationship type")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func newBOMRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <relationship-id>",
		Short: "Remove a BOM edge",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			return a.svc.BOM.DeleteEdge(ctx, args[0], actor)
		}),
	}
}

func newBOMChildrenCmd(a *app, parents bool) *cobra.Command {
	use, short := "children <part>", "List direct children"
	if parents {
		use, short = "where-used <part>", "List direct parents"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			var out interface{}
			if parents {
				out, err = a.svc.BOM.Parents(ctx, p.ID)
			} else {
				out, err = a.svc.BOM.Children(ctx, p.ID)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		}),
	}
}

func newBOMFlatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flat <part>",
		Short: "Flatten the multi-level BOM in pre-order",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			flat, err := a.svc.BOM.FlatBOM(ctx, p.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), flat)
		}),
	}
}

func newBOMTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <part>",
		Short: "Show the nested BOM",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			tree, err := a.svc.BOM.Tree(ctx, p.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tree)
		}),
	}
}

func newBOMEdgesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edges",
		Short: "List every BOM edge",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			edges, err := a.svc.BOM.AllEdges(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), edges)
		}),
	}
}

func newBOMExportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <part>",
		Short: "Export the flattened BOM to an .xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			flat, err := a.svc.BOM.FlatBOM(ctx, p.ID)
			if err != nil {
				return err
			}
			wb, err := export.BOMWorkbook(flat.Root, flat.Rows)
			if err != nil {
				return err
			}
			defer wb.Close()

			if output == "" {
				output = export.BOMFilename(flat.Root)
			}
			if err := wb.SaveAs(output); err != nil {
				return fmt.Errorf("save %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", len(flat.Rows), output)
			if flat.Truncated {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: BOM deeper than %d levels was truncated\n", flat.MaxDepth)
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default BOM_<number>_Rev<rev>.xlsx)")
	return cmd
}

func newBOMImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Add BOM edges from a spreadsheet",
		Long:  "Reads Parent Part Number, Child Part Number, Quantity, Type and Notes columns from the first sheet. Each row is added on its own; failures are listed in the output.",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rows, skipped, err := export.ReadEdges(f)
			if err != nil {
				return err
			}
			lines := make([]service.ImportEdge, 0, len(rows))
			for _, r := range rows {
				lines = append(lines, service.ImportEdge{
					Row:              r.Row,
					ParentPartNumber: r.ParentPartNumber,
					ChildPartNumber:  r.ChildPartNumber,
					Quantity:         r.Quantity,
					RelationshipType: r.RelationshipType,
					Notes:            r.Notes,
				})
			}
			res, err := a.svc.BOM.ImportEdges(ctx, actor, lines)
			if err != nil {
				return err
			}
			for _, row := range skipped {
				res.Failed = append(res.Failed, service.ImportFailure{Row: row, Error: "missing part number"})
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
}

func newBOMTemplateCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an empty BOM import template",
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := export.ImportTemplate()
			if err != nil {
				return err
			}
			defer wb.Close()
			if err := wb.SaveAs(output); err != nil {
				return fmt.Errorf("save %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "BOM_Import_Template.xlsx", "output file")
	return cmd
}
