package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"queueline/internal/app"
	"queueline/internal/domain"
	"queueline/internal/engine"
	"queueline/internal/engine/auth"
	"queueline/internal/repo"
)

// workbasketRef turns a command argument into a workbasket id. With a
// domain the argument is read as a key.
func workbasketRef(ctx context.Context, e engine.Engine, ref, dom string) (string, error) {
	if dom == "" {
		return ref, nil
	}
	return e.ResolveWorkbasketID(ctx, ref, dom)
}

func printWorkbaskets(items []domain.Workbasket) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Key", "Domain", "Type", "Name", "Owner", "Marked")
	for _, w := range items {
		tw.AppendRow(table.Row{w.ID, w.Key, w.Domain, w.Type, w.Name, w.Owner, w.MarkedForDeletion})
	}
	tw.Render()
	return nil
}

func workbasketCmd() *cobra.Command {
	wb := &cobra.Command{Use: "workbasket", Aliases: []string{"wb"}, Short: "Manage workbaskets"}
	wb.AddCommand(workbasketCreateCmd())
	wb.AddCommand(workbasketListCmd())
	wb.AddCommand(workbasketGetCmd())
	wb.AddCommand(workbasketCopyCmd())
	wb.AddCommand(workbasketUpdateCmd())
	wb.AddCommand(workbasketDeleteCmd())
	wb.AddCommand(workbasketPurgeCmd())
	return wb
}

type workbasketFlags struct {
	key, dom, name, typ, desc, owner string
	org                              [4]string
	custom                           []string
}

func (f *workbasketFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", "", "workbasket key")
	cmd.Flags().StringVar(&f.dom, "domain", "", "domain")
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.typ, "type", string(domain.WorkbasketGroup), "GROUP, PERSONAL, TOPIC or CLEARANCE")
	cmd.Flags().StringVar(&f.desc, "description", "", "description")
	cmd.Flags().StringVar(&f.owner, "owner", "", "owner id")
	for i := range f.org {
		cmd.Flags().StringVar(&f.org[i], fmt.Sprintf("org-level-%d", i+1), "", fmt.Sprintf("organisation level %d", i+1))
	}
	cmd.Flags().StringSliceVar(&f.custom, "custom", nil, "custom attributes")
}

// apply copies the flags the user set onto w.
func (f *workbasketFlags) apply(cmd *cobra.Command, w *domain.Workbasket) {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("key", &w.Key, f.key)
	set("domain", &w.Domain, f.dom)
	set("name", &w.Name, f.name)
	set("description", &w.Description, f.desc)
	set("owner", &w.Owner, f.owner)
	set("org-level-1", &w.OrgLevel1, f.org[0])
	set("org-level-2", &w.OrgLevel2, f.org[1])
	set("org-level-3", &w.OrgLevel3, f.org[2])
	set("org-level-4", &w.OrgLevel4, f.org[3])
	if cmd.Flags().Changed("type") || w.Type == "" {
		w.Type = domain.WorkbasketType(f.typ)
	}
	if cmd.Flags().Changed("custom") {
		w.Custom = f.custom
	}
}

func workbasketCreateCmd() *cobra.Command {
	var f workbasketFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create workbasket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				var w domain.Workbasket
				f.apply(cmd, &w)
				created, err := rt.Engine.CreateWorkbasket(ctx, id, w)
				if err != nil {
					return err
				}
				return printWorkbaskets([]domain.Workbasket{created})
			})
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func workbasketListCmd() *cobra.Command {
	var q engine.WorkbasketQuery
	var typ, perm string
	var marked bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workbaskets the caller may read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				q.Type = domain.WorkbasketType(typ)
				if perm != "" {
					p, err := domain.ParsePermission(perm)
					if err != nil {
						return err
					}
					q.Permission = p
				}
				if cmd.Flags().Changed("marked") {
					q.Marked = &marked
				}
				q.Page = repo.Page{Limit: limit}
				items, err := rt.Engine.ListWorkbaskets(ctx, id, q)
				if err != nil {
					return err
				}
				return printWorkbaskets(items)
			})
		},
	}
	cmd.Flags().StringVar(&q.Domain, "domain", "", "domain filter")
	cmd.Flags().StringVar(&typ, "type", "", "type filter")
	cmd.Flags().StringVar(&q.Key, "key", "", "key filter")
	cmd.Flags().StringVar(&q.NameLike, "name", "", "name substring")
	cmd.Flags().StringVar(&perm, "permission", "", "permission the caller must hold (default read)")
	cmd.Flags().BoolVar(&marked, "marked", false, "only workbaskets marked (or, with =false, not marked) for deletion")
	cmd.Flags().IntVar(&limit, "limit", 100, "max results")
	return cmd
}

func workbasketCopyCmd() *cobra.Command {
	var dom string
	cmd := &cobra.Command{
		Use:   "copy <id|key> <new-key>",
		Short: "Create a workbasket with the attributes of another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				wbID, err := workbasketRef(ctx, rt.Engine, args[0], dom)
				if err != nil {
					return err
				}
				src, err := rt.Engine.GetWorkbasket(ctx, id, wbID)
				if err != nil {
					return err
				}
				created, err := rt.Engine.CreateWorkbasket(ctx, id, src.Copy(args[1]))
				if err != nil {
					return err
				}
				return printWorkbaskets([]domain.Workbasket{created})
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the first argument as a key in this domain")
	return cmd
}

func workbasketGetCmd() *cobra.Command {
	var dom string
	cmd := &cobra.Command{
		Use:   "get <id|key>",
		Short: "Show workbasket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				var (
					w   domain.Workbasket
					err error
				)
				if dom != "" {
					w, err = rt.Engine.GetWorkbasketByKey(ctx, id, args[0], dom)
				} else {
					w, err = rt.Engine.GetWorkbasket(ctx, id, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the argument as a key in this domain")
	return cmd
}

func workbasketUpdateCmd() *cobra.Command {
	var f workbasketFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update workbasket attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				w, err := rt.Engine.GetWorkbasket(ctx, id, args[0])
				if err != nil {
					return err
				}
				f.apply(cmd, &w)
				updated, err := rt.Engine.UpdateWorkbasket(ctx, id, w)
				if err != nil {
					return err
				}
				return printJSON(updated)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func workbasketDeleteCmd() *cobra.Command {
	var dom string
	cmd := &cobra.Command{
		Use:   "delete <id|key>",
		Short: "Delete workbasket, or mark it while tasks remain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				wbID, err := workbasketRef(ctx, rt.Engine, args[0], dom)
				if err != nil {
					return err
				}
				deleted, err := rt.Engine.DeleteWorkbasket(ctx, id, wbID)
				if err != nil {
					return err
				}
				if deleted {
					fmt.Printf("Deleted workbasket %s\n", wbID)
				} else {
					fmt.Printf("Workbasket %s still holds tasks; marked for deletion\n", wbID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the argument as a key in this domain")
	return cmd
}

func workbasketPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete marked workbaskets that no longer hold tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				ids, err := rt.Engine.PurgeMarkedWorkbaskets(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ids)
				}
				for _, wbID := range ids {
					fmt.Println("deleted", wbID)
				}
				fmt.Printf("%d workbasket(s) purged\n", len(ids))
				return nil
			})
		},
	}
}

func printAccessItems(items []domain.AccessItem) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Workbasket", "Access ID", "Name", "Permissions")
	for _, it := range items {
		wb := it.WorkbasketKey
		if wb == "" {
			wb = it.WorkbasketID
		}
		tw.AppendRow(table.Row{it.ID, wb, it.AccessID, it.AccessName, it.Permissions.String()})
	}
	tw.Render()
	return nil
}

func accessCmd() *cobra.Command {
	ac := &cobra.Command{Use: "access", Short: "Manage workbasket access items"}
	ac.AddCommand(accessGrantCmd())
	ac.AddCommand(accessListCmd())
	ac.AddCommand(accessSetCmd())
	ac.AddCommand(accessUpdateCmd())
	ac.AddCommand(accessRevokeCmd())
	ac.AddCommand(accessRevokeAccessorCmd())
	return ac
}

func accessGrantCmd() *cobra.Command {
	var dom, name string
	var perms []string
	cmd := &cobra.Command{
		Use:   "grant <workbasket> <access-id>",
		Short: "Grant permissions on a workbasket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				wbID, err := workbasketRef(ctx, rt.Engine, args[0], dom)
				if err != nil {
					return err
				}
				p, err := domain.ParsePermissions(perms)
				if err != nil {
					return err
				}
				it, err := rt.Engine.CreateAccessItem(ctx, id, domain.AccessItem{
					WorkbasketID: wbID,
					AccessID:     args[1],
					AccessName:   name,
					Permissions:  p,
				})
				if err != nil {
					return err
				}
				return printAccessItems([]domain.AccessItem{it})
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the workbasket argument as a key in this domain")
	cmd.Flags().StringVar(&name, "name", "", "display name of the accessor")
	cmd.Flags().StringSliceVarP(&perms, "permission", "p", []string{"read"}, "permissions to grant")
	return cmd
}

func accessListCmd() *cobra.Command {
	var dom string
	var accessIDs []string
	cmd := &cobra.Command{
		Use:   "list [workbasket]",
		Short: "List access items of a workbasket, or query by accessor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				var wbIDs []string
				if len(args) == 1 {
					wbID, err := workbasketRef(ctx, rt.Engine, args[0], dom)
					if err != nil {
						return err
					}
					if len(accessIDs) == 0 {
						items, err := rt.Engine.ListAccessItems(ctx, id, wbID)
						if err != nil {
							return err
						}
						return printAccessItems(items)
					}
					wbIDs = []string{wbID}
				}
				items, err := rt.Engine.QueryAccessItems(ctx, id, accessIDs, wbIDs)
				if err != nil {
					return err
				}
				return printAccessItems(items)
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the workbasket argument as a key in this domain")
	cmd.Flags().StringSliceVar(&accessIDs, "access-id", nil, "accessor filter")
	return cmd
}

// accessFileItem is one entry of an access import file:
//
//	[
//	  // team lead
//	  {"access_id": "group-1", "permissions": ["read", "open", "append"]},
//	]
type accessFileItem struct {
	AccessID    string   `json:"access_id"`
	AccessName  string   `json:"access_name"`
	Permissions []string `json:"permissions"`
}

func accessSetCmd() *cobra.Command {
	var dom, file string
	cmd := &cobra.Command{
		Use:   "set <workbasket> --file items.jsonc",
		Short: "Replace all access items of a workbasket from a JSONC file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []accessFileItem
			if err := readJSONC(file, &entries); err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				wbID, err := workbasketRef(ctx, rt.Engine, args[0], dom)
				if err != nil {
					return err
				}
				items := make([]domain.AccessItem, 0, len(entries))
				for _, en := range entries {
					p, err := domain.ParsePermissions(en.Permissions)
					if err != nil {
						return fmt.Errorf("%s: %w", en.AccessID, err)
					}
					items = append(items, domain.AccessItem{
						WorkbasketID: wbID,
						AccessID:     en.AccessID,
						AccessName:   en.AccessName,
						Permissions:  p,
					})
				}
				saved, err := rt.Engine.SetAccessItems(ctx, id, wbID, items)
				if err != nil {
					return err
				}
				return printAccessItems(saved)
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the workbasket argument as a key in this domain")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSONC file with the access items")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func accessUpdateCmd() *cobra.Command {
	var perms []string
	var name string
	cmd := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Replace the permissions of an access item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePermissions(perms)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				it, err := rt.Engine.UpdateAccessItem(ctx, id, domain.AccessItem{ID: args[0], AccessName: name, Permissions: p})
				if err != nil {
					return err
				}
				return printAccessItems([]domain.AccessItem{it})
			})
		},
	}
	cmd.Flags().StringSliceVarP(&perms, "permission", "p", nil, "permissions")
	cmd.Flags().StringVar(&name, "name", "", "display name of the accessor")
	_ = cmd.MarkFlagRequired("permission")
	return cmd
}

func accessRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <item-id>",
		Short: "Delete an access item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				if err := rt.Engine.DeleteAccessItem(ctx, id, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked access item %s\n", args[0])
				return nil
			})
		},
	}
}

func accessRevokeAccessorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-accessor <access-id>",
		Short: "Delete every access item of an accessor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				n, err := rt.Engine.DeleteAccessItemsForAccessor(ctx, id, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d access item(s) of %s\n", n, args[0])
				return nil
			})
		},
	}
}

func distributionCmd() *cobra.Command {
	dc := &cobra.Command{Use: "distribution", Aliases: []string{"dist"}, Short: "Manage distribution targets"}
	dc.AddCommand(distributionAddCmd())
	dc.AddCommand(distributionRemoveCmd())
	dc.AddCommand(distributionSetCmd())
	dc.AddCommand(distributionListCmd("targets", "List the targets of a source", engine.Engine.GetDistributionTargets))
	dc.AddCommand(distributionListCmd("sources", "List the sources of a target", engine.Engine.GetDistributionSources))
	return dc
}

func distributionAddCmd() *cobra.Command {
	var dom string
	cmd := &cobra.Command{
		Use:   "add <source> <target>",
		Short: "Add a distribution target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				src, err := workbasketRef(ctx, rt.Engine, args[0], dom)
				if err != nil {
					return err
				}
				dst, err := workbasketRef(ctx, rt.Engine, args[1], dom)
				if err != nil {
					return err
				}
				return rt.Engine.AddDistributionTarget(ctx, id, src, dst)
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the arguments as keys in this domain")
	return cmd
}

func distributionRemoveCmd() *cobra.Command {
	var dom string
	cmd := &cobra.Command{
		Use:   "remove <source> <target>",
		Short: "Remove a distribution target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				src, err := workbasketRef(ctx, rt.Engine, args[0], dom)
				if err != nil {
					return err
				}
				dst, err := workbasketRef(ctx, rt.Engine, args[1], dom)
				if err != nil {
					return err
				}
				return rt.Engine.RemoveDistributionTarget(ctx, id, src, dst)
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the arguments as keys in this domain")
	return cmd
}

func distributionSetCmd() *cobra.Command {
	var dom, file string
	cmd := &cobra.Command{
		Use:   "set <source> --file targets.jsonc",
		Short: "Replace the targets of a source from a JSONC array of ids (or keys with --domain)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var refs []string
			if err := readJSONC(file, &refs); err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				src, err := workbasketRef(ctx, rt.Engine, args[0], dom)
				if err != nil {
					return err
				}
				targets := make([]string, 0, len(refs))
				for _, ref := range refs {
					t, err := workbasketRef(ctx, rt.Engine, ref, dom)
					if err != nil {
						return err
					}
					targets = append(targets, t)
				}
				if err := rt.Engine.SetDistributionTargets(ctx, id, src, targets); err != nil {
					return err
				}
				fmt.Printf("%s now distributes to %d workbasket(s)\n", src, len(targets))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat ids as keys in this domain")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSONC file with the target list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func distributionListCmd(use, short string, list func(engine.Engine, context.Context, auth.Identity, string) ([]domain.Workbasket, error)) *cobra.Command {
	var dom string
	cmd := &cobra.Command{
		Use:   use + " <workbasket>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				wbID, err := workbasketRef(ctx, rt.Engine, args[0], dom)
				if err != nil {
					return err
				}
				items, err := list(rt.Engine, ctx, id, wbID)
				if err != nil {
					return err
				}
				return printWorkbaskets(items)
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the argument as a key in this domain")
	return cmd
}
