package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/service"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			// open already migrated
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s)\n", a.cfg.Database.Driver)
			return nil
		}),
	}
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the built-in roles and the admin user if missing",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			admin, err := a.svc.User.SeedDefaults(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), admin)
		}),
	}
}

// ============================================================
// Users
// ============================================================

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
	}

	cmd.AddCommand(newUserCreateCmd(a))
	cmd.AddCommand(newUserListCmd(a))
	cmd.AddCommand(newUserUpdateCmd(a))
	return cmd
}

func newUserCreateCmd(a *app) *cobra.Command {
	var email, roleName string

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityAdmin)
			if err != nil {
				return err
			}
			req := &service.CreateUserRequest{Username: args[0], Email: email}
			if roleName != "" {
				role, err := a.svc.User.GetRoleByName(ctx, roleName)
				if err != nil {
					return err
				}
				req.RoleID = role.ID
			}
			u, err := a.svc.User.CreateUser(ctx, actor, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&roleName, "role", service.RoleViewer, "role name")
	return cmd
}

func newUserListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityAdmin); err != nil {
				return err
			}
			users, err := a.svc.User.ListUsers(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), users)
		}),
	}
}

func newUserUpdateCmd(a *app) *cobra.Command {
	var (
		email    string
		roleName string
		active   bool
	)

	cmd := &cobra.Command{
		Use:   "update <username>",
		Short: "Change a user's email, role or active flag",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityAdmin)
			if err != nil {
				return err
			}
			u, err := a.svc.User.GetUserByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			var req service.UpdateUserRequest
			if cmd.Flags().Changed("email") {
				req.Email = &email
			}
			if cmd.Flags().Changed("active") {
				req.IsActive = &active
			}
			if cmd.Flags().Changed("role") {
				roleID := ""
				if roleName != "" {
					role, err := a.svc.User.GetRoleByName(ctx, roleName)
					if err != nil {
						return err
					}
					roleID = role.ID
				}
				req.RoleID = &roleID
			}
			updated, err := a.svc.User.UpdateUser(ctx, u.ID, actor, &req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "new email address")
	cmd.Flags().StringVar(&roleName, "role", "", "new role name, empty to clear")
	cmd.Flags().BoolVar(&active, "active", true, "enable or disable the user")
	return cmd
}

// ============================================================
// Roles
// ============================================================

func newRoleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Role management commands",
	}

	var req service.CreateRoleRequest
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityAdmin)
			if err != nil {
				return err
			}
			req.Name = args[0]
			role, err := a.svc.User.CreateRole(ctx, actor, &req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), role)
		}),
	}
	create.Flags().BoolVar(&req.CanView, "view", true, "may read parts, BOMs and documents")
	create.Flags().BoolVar(&req.CanWrite, "write", false, "may create and edit parts and BOMs")
	create.Flags().BoolVar(&req.CanUpload, "upload", false, "may upload and restore files")
	create.Flags().BoolVar(&req.CanCheckout, "checkout", false, "may check parts out")
	create.Flags().BoolVar(&req.CanRelease, "release", false, "may release and unrelease parts")
	create.Flags().BoolVar(&req.CanAdmin, "admin", false, "full access")

	list := &cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			roles, err := a.svc.User.ListRoles(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), roles)
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a role; its users lose the role",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			actor, err := a.authorize(ctx, entity.AbilityAdmin)
			if err != nil {
				return err
			}
			role, err := a.svc.User.GetRoleByName(ctx, args[0])
			if err != nil {
				return err
			}
			return a.svc.User.DeleteRole(ctx, role.ID, actor)
		}),
	}

	cmd.AddCommand(create, list, rm)
	return cmd
}

// ============================================================
// Audit
// ============================================================

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail commands",
	}

	var q service.AuditQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			page, err := a.svc.Audit.Query(ctx, q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		}),
	}
	list.Flags().StringVar(&q.EntityType, "entity-type", "", "part, relationship, document, user or role")
	list.Flags().StringVar(&q.EntityID, "entity-id", "", "entity id")
	list.Flags().StringVar(&q.UserID, "user", "", "acting user id")
	list.Flags().StringVar(&q.Action, "action", "", "action name, e.g. checkout")
	list.Flags().IntVar(&q.Page, "page", 1, "page number")
	list.Flags().IntVar(&q.PerPage, "per-page", 50, "rows per page")

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Stream audit entries published to Redis until interrupted",
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, err := a.authorize(ctx, entity.AbilityView); err != nil {
				return err
			}
			if a.rdb == nil {
				return errors.New("redis is not configured (set redis.host or REDIS_HOST)")
			}
			sub := a.rdb.Subscribe(ctx, a.cfg.Redis.Channel)
			defer sub.Close()
			if _, err := sub.Receive(ctx); err != nil {
				return fmt.Errorf("subscribe %s: %w", a.cfg.Redis.Channel, err)
			}

			out := cmd.OutOrStdout()
			ch := sub.Channel()
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-ch:
					if !ok {
						return nil
					}
					fmt.Fprintln(out, msg.Payload)
				}
			}
		}),
	}

	cmd.AddCommand(list, watch)
	return cmd
}
