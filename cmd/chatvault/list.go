package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/comigor/chatvault/internal/history"
)

var (
	listJSON  bool
	listLabel string
)

// conversationView is a stored conversation without its transcript.
type conversationView struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	CreatedAt     *int64  `json:"created_at,omitempty"`
	MessageCount  int     `json:"message_count"`
	HasImages     bool    `json:"has_images"`
	HasCode       bool    `json:"has_code"`
	TokenEstimate int     `json:"token_estimate"`
	GroupID       *string `json:"group_id,omitempty"`
	Label         *string `json:"label,omitempty"`
	Summary       *string `json:"summary,omitempty"`
	Instructions  *string `json:"instructions,omitempty"`
}

func viewOf(c history.Conversation) conversationView {
	return conversationView{
		ID:            c.ID,
		Title:         c.Title,
		CreatedAt:     c.CreatedAt,
		MessageCount:  c.MessageCount,
		HasImages:     c.HasImages,
		HasCode:       c.HasCode,
		TokenEstimate: c.TokenEstimate,
		GroupID:       c.GroupID,
		Label:         c.Label,
		Summary:       c.Summary,
		Instructions:  c.Instructions,
	}
}

// filterByLabel keeps conversations whose label matches, case-insensitively.
// An empty label keeps everything.
func filterByLabel(convs []history.Conversation, label string) []conversationView {
	out := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		if label != "" && (c.Label == nil || !strings.EqualFold(*c.Label, label)) {
			continue
		}
		out = append(out, viewOf(c))
	}
	return out
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations in creation order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		convs, err := store.ListAll(cmd.Context())
		if err != nil {
			return err
		}
		views := filterByLabel(convs, listLabel)

		out := cmd.OutOrStdout()
		if listJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(views)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tMESSAGES\tLABEL\tTITLE")
		for _, v := range views {
			created := "-"
			if v.CreatedAt != nil {
				created = time.Unix(*v.CreatedAt, 0).UTC().Format("2006-01-02")
			}
			label := "-"
			if v.Label != nil {
				label = *v.Label
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", created, v.MessageCount, label, v.Title)
		}
		return tw.Flush()
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")
	listCmd.Flags().StringVar(&listLabel, "label", "", "Only show conversations with this label")
	rootCmd.AddCommand(listCmd)
}
