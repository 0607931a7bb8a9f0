package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/service"
	"github.com/kkers42/PLM-Lite/internal/plm/storage"
	"github.com/spf13/cobra"
)

func newDocCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Document and file version commands",
	}

	cmd.AddCommand(newDocUploadCmd(a))
	cmd.AddCommand(newDocListCmd(a))
	cmd.AddCommand(newDocVersionsCmd(a))
	cmd.AddCommand(newDocRestoreCmd(a))
	cmd.AddCommand(newDocDeleteCmd(a))
	cmd.AddCommand(newDocAttachCmd(a))
	cmd.AddCommand(newDocDetachCmd(a))
	cmd.AddCommand(newDocPathCmd(a))
	return cmd
}

func newDocUploadCmd(a *app) *cobra.Command {
	var (
		partRef     string
		name        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a file as the canonical copy, backing up the previous CAD version",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityUpload)
			if err != nil {
				return err
			}
			req := &service.UploadRequest{Filename: name, Description: description}
			if req.Filename == "" {
				req.Filename = filepath.Base(args[0])
			}
			if partRef != "" {
				p, err := a.part(ctx, partRef)
				if err != nil {
					return err
				}
				req.PartID = &p.ID
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := a.svc.Document.SaveUpload(ctx, f, req, actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}

	cmd.Flags().StringVarP(&partRef, "part", "p", "", "part id or number to attach to")
	cmd.Flags().StringVar(&name, "name", "", "stored filename (default the file's base name)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func newDocListCmd(a *app) *cobra.Command {
	var partRef string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			var partID *string
			if partRef != "" {
				p, err := a.part(ctx, partRef)
				if err != nil {
					return err
				}
				partID = &p.ID
			}
			docs, err := a.svc.Document.ListDocuments(ctx, partID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), docs)
		}),
	}

	cmd.Flags().StringVarP(&partRef, "part", "p", "", "only documents of this part")
	return cmd
}

func newDocVersionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <document-id>",
		Short: "List backup versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			versions, err := a.svc.Document.ListVersions(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), versions)
		}),
	}
}

func newDocRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <document-id> <version-id>",
		Short: "Make a backup the canonical file again",
		Long:  "The current canonical file is moved to the Temp folder before the backup is copied into place.",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityUpload)
			if err != nil {
				return err
			}
			res, err := a.svc.Document.RestoreVersion(ctx, args[0], args[1], actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
}

func newDocDeleteCmd(a *app) *cobra.Command {
	var keepFile bool

	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document, its versions and backup files",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			stored, err := a.svc.Document.Delete(ctx, args[0], actor)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if stored == "" {
				fmt.Fprintf(out, "No document %s\n", args[0])
				return nil
			}
			shared, err := a.svc.Document.CanonicalInUse(ctx, stored)
			if err != nil {
				return err
			}
			if shared {
				fmt.Fprintf(out, "Kept %s, another document still uses it\n", stored)
			} else if !keepFile {
				path, err := a.svc.Document.ResolveSafePath(stored)
				if err != nil {
					return err
				}
				if err := storage.RemoveFile(path); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Deleted document %s (%s)\n", args[0], stored)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&keepFile, "keep-file", false, "leave the canonical file on disk")
	return cmd
}

func newDocAttachCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <document-id> <part>",
		Short: "Attach a document to a part",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			p, err := a.part(ctx, args[1])
			if err != nil {
				return err
			}
			doc, err := a.svc.Document.Attach(ctx, args[0], p.ID, actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		}),
	}
}

func newDocDetachCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detach <document-id>",
		Short: "Detach a document from its part",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityWrite)
			if err != nil {
				return err
			}
			doc, err := a.svc.Document.Detach(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		}),
	}
}

func newDocPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path <document-id>",
		Short: "Print the canonical file path of a document",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			path, err := a.svc.Document.Open(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}),
	}
}
