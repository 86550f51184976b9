package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/dotted/internal/tree"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

func newInitCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the node table if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, g, func(ctx context.Context, s *session) error {
				schema := s.store.Schema()
				fmt.Fprintf(cmd.OutOrStdout(), "table %s ready (parent column %s)\n", schema.Table, schema.ParentColumn)
				return nil
			})
		},
	}
}

func newAddCmd(g *globalFlags) *cobra.Command {
	var parent int64
	c := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a node and assign its path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, g, func(ctx context.Context, s *session) error {
				attrs := tree.Attributes{Name: args[0]}
				if parent > 0 {
					attrs.ParentID = tree.ID(parent)
				}
				n, err := s.svc.Create(ctx, attrs)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", n.ID, n.Path)
				return nil
			})
		},
	}
	c.Flags().Int64VarP(&parent, "parent", "p", 0, "Parent node id (omit for a root)")
	return c
}

func newMoveCmd(g *globalFlags) *cobra.Command {
	var parent int64
	c := &cobra.Command{
		Use:   "move ID",
		Short: "Reparent a node and repair the paths of its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, g, func(ctx context.Context, s *session) error {
				n, err := s.svc.Get(ctx, id)
				if err != nil {
					return fmt.Errorf("node %d: %w", id, err)
				}
				var newParent *int64
				if parent > 0 {
					newParent = tree.ID(parent)
				}
				if err := s.svc.Reparent(ctx, n, newParent); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", n.ID, n.Path)
				return nil
			})
		},
	}
	c.Flags().Int64VarP(&parent, "parent", "p", 0, "New parent id (omit to make the node a root)")
	return c
}

func newShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a node with its ancestors, children and subtree size as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, g, func(ctx context.Context, s *session) error {
				n, err := s.svc.Get(ctx, id)
				if err != nil {
					return fmt.Errorf("node %d: %w", id, err)
				}
				out, err := describe(ctx, s.svc, n)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(out, &oj.Options{Indent: 2, Sort: true}))
				return nil
			})
		},
	}
}

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the whole forest, one node per line, indented by depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, g, func(ctx context.Context, s *session) error {
				depth := map[int64]int{}
				return s.svc.Traverse(ctx, func(n, parent *tree.Node) error {
					d := 0
					if parent != nil {
						d = depth[parent.ID] + 1
					}
					depth[n.ID] = d
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s%s [%d] %s\n", strings.Repeat("  ", d), n.Name, n.ID, n.Path)
					return err
				})
			})
		},
	}
}

func describe(ctx context.Context, svc *tree.Service, n *tree.Node) (map[string]any, error) {
	out := nodeJSON(n)

	ancestors, err := svc.Ancestors(ctx, n)
	if err != nil {
		return nil, err
	}
	out["ancestors"] = idList(ancestors)

	children, err := svc.Children(ctx, n)
	if err != nil {
		return nil, err
	}
	out["children"] = idList(children)

	depth, err := svc.Depth(n)
	switch {
	case errors.Is(err, tree.ErrUnpathed):
		return out, nil
	case err != nil:
		return nil, err
	}
	out["depth"] = depth

	subtree, err := svc.AllChildren(ctx, n)
	if err != nil {
		return nil, err
	}
	out["descendants"] = len(subtree)
	return out, nil
}

func nodeJSON(n *tree.Node) map[string]any {
	out := map[string]any{
		"id":             n.ID,
		"name":           n.Name,
		"path":           n.Path,
		"children_count": n.ChildrenCount,
		"parent_id":      nil,
	}
	if n.ParentID != nil {
		out["parent_id"] = *n.ParentID
	}
	return out
}

func idList(nodes []*tree.Node) []any {
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return id, nil
}
