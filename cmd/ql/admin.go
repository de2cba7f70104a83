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
)

func printClassifications(items []domain.Classification) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Key", "Domain", "Category", "Name", "Priority", "Service level")
	for _, c := range items {
		tw.AppendRow(table.Row{c.ID, c.Key, c.Domain, c.Category, c.Name, c.Priority, c.ServiceLevel})
	}
	tw.Render()
	return nil
}

func classificationCmd() *cobra.Command {
	cc := &cobra.Command{Use: "classification", Aliases: []string{"class"}, Short: "Manage classifications"}
	cc.AddCommand(classificationCreateCmd())
	cc.AddCommand(classificationListCmd())
	cc.AddCommand(classificationGetCmd())
	cc.AddCommand(classificationUpdateCmd())
	cc.AddCommand(classificationDeleteCmd())
	return cc
}

func bindClassification(cmd *cobra.Command, c *domain.Classification) {
	cmd.Flags().StringVar(&c.Key, "key", "", "classification key")
	cmd.Flags().StringVar(&c.Domain, "domain", "", "domain")
	cmd.Flags().StringVar(&c.Category, "category", "", "category, e.g. EXTERNAL or MANUAL")
	cmd.Flags().StringVar(&c.Type, "type", "", "type, e.g. TASK or DOCUMENT")
	cmd.Flags().StringVar(&c.Name, "name", "", "display name")
	cmd.Flags().StringVar(&c.Description, "description", "", "description")
	cmd.Flags().IntVar(&c.Priority, "priority", 0, "priority given to tasks")
	cmd.Flags().StringVar(&c.ServiceLevel, "service-level", "", "ISO-8601 duration such as P2D or PT4H")
}

func classificationCreateCmd() *cobra.Command {
	var c domain.Classification
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create classification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				created, err := rt.Engine.CreateClassification(ctx, id, c)
				if err != nil {
					return err
				}
				return printClassifications([]domain.Classification{created})
			})
		},
	}
	bindClassification(cmd, &c)
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func classificationListCmd() *cobra.Command {
	var dom, category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List classifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				items, err := rt.Engine.ListClassifications(ctx, dom, category)
				if err != nil {
					return err
				}
				return printClassifications(items)
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "domain filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	return cmd
}

func classificationRef(arg, dom string) engine.ClassificationRef {
	if dom != "" {
		return engine.ClassificationRef{Key: arg, Domain: dom}
	}
	return engine.ClassificationRef{ID: arg}
}

func classificationGetCmd() *cobra.Command {
	var dom string
	cmd := &cobra.Command{
		Use:   "get <id|key>",
		Short: "Show classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				c, err := rt.Engine.GetClassification(ctx, classificationRef(args[0], dom))
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the argument as a key in this domain")
	return cmd
}

func classificationUpdateCmd() *cobra.Command {
	var in domain.Classification
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update classification attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				c, err := rt.Engine.GetClassification(ctx, engine.ClassificationRef{ID: args[0]})
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("category") {
					c.Category = in.Category
				}
				if flags.Changed("type") {
					c.Type = in.Type
				}
				if flags.Changed("name") {
					c.Name = in.Name
				}
				if flags.Changed("description") {
					c.Description = in.Description
				}
				if flags.Changed("priority") {
					c.Priority = in.Priority
				}
				if flags.Changed("service-level") {
					c.ServiceLevel = in.ServiceLevel
				}
				updated, err := rt.Engine.UpdateClassification(ctx, id, c)
				if err != nil {
					return err
				}
				return printClassifications([]domain.Classification{updated})
			})
		},
	}
	bindClassification(cmd, &in)
	return cmd
}

func classificationDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unused classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				if err := rt.Engine.DeleteClassification(ctx, id, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted classification %s\n", args[0])
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	ak.AddCommand(apiKeyCreateCmd())
	ak.AddCommand(apiKeyListCmd())
	ak.AddCommand(apiKeyRevokeCmd())
	return ak
}

func apiKeyCreateCmd() *cobra.Command {
	var accessID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				if accessID == "" {
					accessID = id.Name()
				}
				k, plain, err := rt.Engine.CreateAPIKey(ctx, id, accessID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": k.ID, "access_id": k.AccessID, "name": k.Name, "key": plain})
				}
				fmt.Printf("API key %s for %s\n%s\n", k.ID, k.AccessID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accessID, "access-id", "", "user the key authenticates as (defaults to --user)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var accessID string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				switch {
				case all:
					accessID = ""
				case accessID == "":
					accessID = id.Name()
				}
				keys, err := rt.Engine.ListAPIKeys(ctx, id, accessID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Access ID", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.AccessID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accessID, "access-id", "", "keys of this user (defaults to --user)")
	cmd.Flags().BoolVar(&all, "all", false, "keys of every user (admin)")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				if err := rt.Engine.RevokeAPIKey(ctx, id, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked API key %s\n", args[0])
				return nil
			})
		},
	}
}
