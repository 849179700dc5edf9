package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"checkorder/internal/collection"
	"checkorder/internal/config"
	"checkorder/internal/ordering"
	"checkorder/internal/position"
	checkordersdk "checkorder/sdk/go"
)

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage items of a parent"}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemGetCmd())
	item.AddCommand(itemUpdateCmd())
	item.AddCommand(itemPositionCmd())
	item.AddCommand(itemDeleteCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var checked, archived bool
	var indent int
	var attrs string
	cmd := &cobra.Command{
		Use:   "create <parent-id> <text>",
		Short: "Append an item to a parent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := collection.Draft{
				Text:        strings.Join(args[1:], " "),
				Checked:     checked,
				Archived:    archived,
				Indentation: indent,
			}
			if attrs != "" {
				if err := json.Unmarshal([]byte(attrs), &draft.Attrs); err != nil {
					return fmt.Errorf("invalid --attrs: %w", err)
				}
			}
			return withService(cmd.Context(), func(ctx context.Context, svc collection.Service, cfg *config.Config) error {
				it, err := svc.CreateItem(ctx, args[0], draft)
				if err != nil {
					return err
				}
				return printItems(it)
			})
		},
	}
	cmd.Flags().BoolVar(&checked, "checked", false, "create the item checked")
	cmd.Flags().BoolVar(&archived, "archived", false, "create the item archived")
	cmd.Flags().IntVar(&indent, "indent", 0, "indentation level")
	cmd.Flags().StringVar(&attrs, "attrs", "", "attributes as a JSON object")
	return cmd
}

func itemListCmd() *cobra.Command {
	var partition, flag string
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list <parent-id>",
		Short: "List a parent's items in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			part, err := ordering.ParsePartition(partition)
			if err != nil {
				return err
			}
			q := collection.ListQuery{Offset: offset, Limit: limit, Partition: part}
			if flag != "" {
				f, err := strconv.ParseBool(flag)
				if err != nil {
					return fmt.Errorf("invalid --flag: %w", err)
				}
				q.Flag = &f
			}
			return withService(cmd.Context(), func(ctx context.Context, svc collection.Service, cfg *config.Config) error {
				if partition == "" && args[0] == cfg.Ordering.RootParentID {
					q.Partition = ordering.PartitionArchived
				}
				page, err := svc.ListItems(ctx, args[0], q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				if err := printItems(page.Items...); err != nil {
					return err
				}
				fmt.Printf("%d item(s): %d %s, %d not %s\n", page.TotalCount, page.FlaggedCount, q.Partition, page.UnflaggedCount, q.Partition)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&partition, "partition", "", "checked or archived (defaults to the parent's partition)")
	cmd.Flags().StringVar(&flag, "flag", "", "only items whose partition flag is true or false")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many items")
	cmd.Flags().IntVar(&limit, "limit", 0, "return at most this many items (0 for all)")
	return cmd
}

func itemGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <parent-id> <item-id>",
		Short: "Show an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc collection.Service, cfg *config.Config) error {
				it, err := svc.FetchItem(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printItems(it)
			})
		},
	}
}

func itemUpdateCmd() *cobra.Command {
	var text, attrs string
	var checked bool
	cmd := &cobra.Command{
		Use:   "update <parent-id> <item-id>",
		Short: "Update text, checked state or attributes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p collection.Patch
			if cmd.Flags().Changed("text") {
				p.Text = &text
			}
			if cmd.Flags().Changed("checked") {
				p.Checked = &checked
			}
			if attrs != "" {
				if err := json.Unmarshal([]byte(attrs), &p.Attrs); err != nil {
					return fmt.Errorf("invalid --attrs: %w", err)
				}
			}
			return withService(cmd.Context(), func(ctx context.Context, svc collection.Service, cfg *config.Config) error {
				it, err := svc.UpdateItem(ctx, args[0], args[1], p)
				if err != nil {
					return err
				}
				return printItems(it)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "new text")
	cmd.Flags().BoolVar(&checked, "checked", false, "checked state")
	cmd.Flags().StringVar(&attrs, "attrs", "", "attributes to merge, as a JSON object")
	return cmd
}

func itemPositionCmd() *cobra.Command {
	var key string
	var archived bool
	var indent int
	cmd := &cobra.Command{
		Use:   "position <parent-id> <item-id>",
		Short: "Set an item's key, archived flag or indentation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p collection.PositionPatch
			if cmd.Flags().Changed("key") {
				k, err := position.Parse(key)
				if err != nil {
					return fmt.Errorf("invalid --key: %w", err)
				}
				p.Key = &k
			}
			if cmd.Flags().Changed("archived") {
				p.Archived = &archived
			}
			if cmd.Flags().Changed("indent") {
				p.Indentation = &indent
			}
			return withService(cmd.Context(), func(ctx context.Context, svc collection.Service, cfg *config.Config) error {
				pos, err := svc.UpdatePosition(ctx, args[0], args[1], p)
				if err != nil {
					return err
				}
				return printPosition(args[1], pos)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "decimal position key")
	cmd.Flags().BoolVar(&archived, "archived", false, "archived flag")
	cmd.Flags().IntVar(&indent, "indent", 0, "indentation level")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <parent-id> <item-id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc collection.Service, cfg *config.Config) error {
				if err := svc.DeleteItem(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[1])
				return nil
			})
		},
	}
}

func moveCmd() *cobra.Command {
	var above, below string
	var top, bottom bool
	cmd := &cobra.Command{
		Use:   "move <parent-id> <item-id>",
		Short: "Move an item above or below another one, or to an edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, on := range []bool{above != "", below != "", top, bottom} {
				if on {
					set++
				}
			}
			if set != 1 {
				return errors.New("exactly one of --above, --below, --top or --bottom is required")
			}
			parentID, itemID := args[0], args[1]
			return withService(cmd.Context(), func(ctx context.Context, svc collection.Service, cfg *config.Config) error {
				var pos *ordering.Position
				var err error
				switch {
				case above != "":
					pos, err = svc.MoveAbove(ctx, parentID, itemID, above)
				case below != "":
					pos, err = svc.MoveBelow(ctx, parentID, itemID, below)
				case top:
					pos, err = svc.MoveToTop(ctx, parentID, itemID)
				default:
					pos, err = svc.MoveToBottom(ctx, parentID, itemID)
				}
				if err != nil {
					return err
				}
				return printPosition(itemID, pos)
			})
		},
	}
	cmd.Flags().StringVar(&above, "above", "", "place the item directly before this item")
	cmd.Flags().StringVar(&below, "below", "", "place the item directly after this item")
	cmd.Flags().BoolVar(&top, "top", false, "place the item first")
	cmd.Flags().BoolVar(&bottom, "bottom", false, "place the item last")
	return cmd
}

func reorderCmd() *cobra.Command {
	var moved string
	cmd := &cobra.Command{
		Use:   "reorder <parent-id> <item-id>...",
		Short: "Apply a new order given as the full list of item ids",
		Long: `reorder loads the parent, detects the single item that moved between the
current and the given order (or uses --moved) and sends one move for it.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, order := args[0], args[1:]
			return withService(cmd.Context(), func(ctx context.Context, svc collection.Service, cfg *config.Config) error {
				col := collectionFor(svc, cfg, parentID)
				if err := col.Load(ctx, parentID); err != nil {
					return err
				}
				if err := col.Reorder(ctx, parentID, order, moved); err != nil {
					return err
				}
				return printItems(col.Sequence(parentID, collection.Filter{}, -1)...)
			})
		},
	}
	cmd.Flags().StringVar(&moved, "moved", "", "id of the moved item (detected when omitted)")
	return cmd
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <parent-id>",
		Short: "Rewrite a parent's keys to 1, 5, 9, ... keeping the order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if url := viper.GetString("server"); url != "" {
				items, err := remoteClient(url).Compact(ctx, args[0])
				if err != nil {
					return err
				}
				return printItems(items...)
			}
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			items, err := env.Engine.Compact(ctx, args[0], viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			out := make([]*ordering.Item, 0, len(items))
			for _, it := range items {
				out = append(out, it.Ordering())
			}
			return printItems(out...)
		},
	}
}

func previewCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "preview <parent-id>...",
		Short: "Show the first items of several parents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc collection.Service, cfg *config.Config) error {
				pages, err := svc.ListPreview(ctx, args, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pages)
				}
				for _, id := range args {
					page, ok := pages[id]
					if !ok {
						continue
					}
					fmt.Printf("%s (%d of %d)\n", id, len(page.Items), page.TotalCount)
					if err := printItems(page.Items...); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "items per parent")
	return cmd
}

func eventsCmd() *cobra.Command {
	var parentID string
	var after int64
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events after a cursor, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var events []checkordersdk.Event
			if url := viper.GetString("server"); url != "" {
				cursor := ""
				if after > 0 {
					cursor = strconv.FormatInt(after, 10)
				}
				page, err := remoteClient(url).EventsPage(ctx, parentID, limit, cursor)
				if err != nil {
					return err
				}
				events = page.Items
			} else {
				env, err := openEnv(ctx)
				if err != nil {
					return err
				}
				defer env.Close()
				local, err := env.Engine.EventsAfter(ctx, limit, after, parentID)
				if err != nil {
					return err
				}
				for _, evt := range local {
					var payload map[string]any
					_ = json.Unmarshal([]byte(evt.Payload), &payload)
					events = append(events, checkordersdk.Event{
						ID: evt.ID, TS: evt.TS, Type: evt.Type, ParentID: evt.ParentID,
						EntityID: evt.EntityID, ActorID: evt.ActorID, Payload: payload,
					})
				}
			}
			if viper.GetBool("json") {
				return printJSON(events)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "TS", "Type", "Parent", "Entity", "Actor"})
			for _, evt := range events {
				tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ParentID, evt.EntityID, evt.ActorID})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "only events of this parent")
	cmd.Flags().Int64Var(&after, "after", 0, "only events with a greater id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}

func printItems(items ...*ordering.Item) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Text", "Key", "Checked", "Archived", "Indent"})
	for _, it := range items {
		var archived bool
		var indent int
		if it.Position != nil {
			archived, indent = it.Position.Archived, it.Position.Indentation
		}
		checked := it.State != nil && it.State.Checked
		tw.AppendRow(table.Row{it.ID, it.Text, it.Key().String(), checked, archived, indent})
	}
	tw.Render()
	return nil
}

func printPosition(itemID string, pos *ordering.Position) error {
	if viper.GetBool("json") {
		return printJSON(pos)
	}
	fmt.Printf("%s key=%s archived=%t indentation=%d\n", itemID, pos.Key, pos.Archived, pos.Indentation)
	return nil
}
