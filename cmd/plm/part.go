package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/kkers42/PLM-Lite/internal/plm/service"
	"github.com/spf13/cobra"
)

func newPartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "part",
		Short: "Part registry commands",
	}

	cmd.AddCommand(newPartCreateCmd(a))
	cmd.AddCommand(newPartShowCmd(a))
	cmd.AddCommand(newPartListCmd(a))
	cmd.AddCommand(newPartUpdateCmd(a))
	cmd.AddCommand(newPartDeleteCmd(a))
	cmd.AddCommand(newPartCheckoutCmd(a))
	cmd.AddCommand(newPartCheckinCmd(a))
	cmd.AddCommand(newPartReleaseCmd(a, true))
	cmd.AddCommand(newPartReleaseCmd(a, false))
	cmd.AddCommand(newPartReviseCmd(a))
	cmd.AddCommand(newPartRevisionsCmd(a))
	cmd.AddCommand(newPartAttrCmd(a))
	return cmd
}

func newPartCreateCmd(a *app) *cobra.Command {
	var req service.CreatePartRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a part",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			p, err := a.svc.Part.Create(ctx, actor, &req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		}),
	}

	cmd.Flags().StringVar(&req.PartNumber, "number", "", "part number (required, stored upper-case)")
	cmd.Flags().StringVar(&req.PartName, "name", "", "part name (required)")
	cmd.Flags().StringVar(&req.PartRevision, "revision", "", "initial revision (default A)")
	cmd.Flags().StringVar(&req.Description, "description", "", "description")
	cmd.Flags().StringVar(&req.PartLevel, "level", "", "part level")
	cmd.MarkFlagRequired("number")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newPartShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|number>",
		Short: "Show a part with its attributes",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		}),
	}
}

func newPartListCmd(a *app) *cobra.Command {
	var f service.PartListFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List parts",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			res, err := a.svc.Part.List(ctx, f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}

	cmd.Flags().StringVar(&f.Search, "search", "", "match part number, name or description")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by release status (Prototype, Released)")
	cmd.Flags().BoolVar(&f.CheckedOutOnly, "checked-out", false, "only parts currently checked out")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.PerPage, "per-page", 50, "rows per page")
	return cmd
}

func newPartUpdateCmd(a *app) *cobra.Command {
	var name, description, level string

	cmd := &cobra.Command{
		Use:   "update <id|number>",
		Short: "Update a part's name, description or level",
		Long:  "Updates only the flags given. Released parts are locked and cannot be updated.",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			var req service.UpdatePartRequest
			if cmd.Flags().Changed("name") {
				req.PartName = &name
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			if cmd.Flags().Changed("level") {
				req.PartLevel = &level
			}
			updated, err := a.svc.Part.Update(ctx, p.ID, actor, &req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "new part name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&level, "level", "", "new part level")
	return cmd
}

func newPartDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|number>",
		Short: "Delete a part with its attributes, revisions and BOM edges",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.svc.Part.Delete(ctx, p.ID, actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted part %s\n", p.PartNumber)
			return nil
		}),
	}
}

func newPartCheckoutCmd(a *app) *cobra.Command {
	var station string

	cmd := &cobra.Command{
		Use:   "checkout <id|number>",
		Short: "Check a part out for editing",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityCheckout)
			if err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := a.svc.Part.Checkout(ctx, p.ID, actor, station)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		}),
	}

	cmd.Flags().StringVar(&station, "station", "", "workstation name recorded with the checkout")
	return cmd
}

func newPartCheckinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <id|number>",
		Short: "Release a checkout (holder or admin)",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			user, err := a.actor(ctx)
			if err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			if !service.CanCheckin(ctx, a.svc.Gate, &p.Part, user.ID) {
				return fmt.Errorf("%w: %s does not hold %s", errPermissionDenied, user.Username, p.PartNumber)
			}
			out, err := a.svc.Part.Checkin(ctx, p.ID, user.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		}),
	}
}

func newPartReleaseCmd(a *app, release bool) *cobra.Command {
	use, short := "release", "Release and lock a part"
	if !release {
		use, short = "unrelease", "Return a part to Prototype and unlock it"
	}
	return &cobra.Command{
		Use:   use + " <id|number>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityRelease)
			if err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			var out interface{}
			if release {
				out, err = a.svc.Part.Release(ctx, p.ID, actor)
			} else {
				out, err = a.svc.Part.Unrelease(ctx, p.ID, actor)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		}),
	}
}

func newPartReviseCmd(a *app) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "revise <id|number>",
		Short: "Snapshot the current revision and advance the label",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			next, err := a.svc.Part.ReviseRevision(ctx, p.ID, actor, description)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"part_number":       p.PartNumber,
				"previous_revision": p.PartRevision,
				"revision":          next,
			})
		}),
	}

	cmd.Flags().StringVar(&description, "description", "", "change description stored with the snapshot")
	return cmd
}

func newPartRevisionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revisions <id|number>",
		Short: "List revision snapshots, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			revs, err := a.svc.Part.ListRevisions(ctx, p.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), revs)
		}),
	}
}

func newPartAttrCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attr",
		Short: "Part attribute commands",
	}

	var order int
	set := &cobra.Command{
		Use:   "set <id|number> <key>=<value>",
		Short: "Set an attribute",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			key, value, ok := strings.Cut(args[1], "=")
			if !ok {
				return plmerr.Validation("attribute must be key=value, got %q", args[1])
			}
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.svc.Part.SetAttribute(ctx, p.ID, actor, &service.SetAttributeRequest{Key: key, Value: value, Order: order}); err != nil {
				return err
			}
			attrs, err := a.svc.Part.ListAttributes(ctx, p.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), attrs)
		}),
	}
	set.Flags().IntVar(&order, "order", 0, "display order")

	rm := &cobra.Command{
		Use:   "rm <id|number> <key>",
		Short: "Remove an attribute",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			return a.svc.Part.DeleteAttribute(ctx, p.ID, actor, args[1])
		}),
	}

	list := &cobra.Command{
		Use:   "list <id|number>",
		Short: "List a part's attributes",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			p, err := a.part(ctx, args[0])
			if err != nil {
				return err
			}
			attrs, err := a.svc.Part.ListAttributes(ctx, p.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), attrs)
		}),
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List every attribute key in use",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			ks, err := a.svc.Part.ListAllAttributeKeys(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ks)
		}),
	}

	cmd.AddCommand(set, rm, list, keys)
	return cmd
}
