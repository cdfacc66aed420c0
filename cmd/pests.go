package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoosieGav/PestHub/internal/pests"
)

type pestView struct {
	pests.Record
	ThreatColor   string `json:"threat_color"`
	ThreatLabel   string `json:"threat_label"`
	CategoryLabel string `json:"category_label"`
}

func newPestView(r pests.Record) pestView {
	return pestView{
		Record:        r,
		ThreatColor:   pests.ThreatColor(r.ThreatLevel),
		ThreatLabel:   pests.ThreatLabel(r.ThreatLevel),
		CategoryLabel: pests.CategoryLabel(r.Category),
	}
}

func pestsCommand(a *app) *cobra.Command {
	var filter struct {
		category string
		threat   string
		query    string
	}
	cmd := &cobra.Command{
		Use:   "pests",
		Short: "List encyclopedia entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records := pests.Default().Find(pests.Filter{
				Category: pests.Category(filter.category),
				Threat:   pests.ThreatLevel(filter.threat),
				Query:    filter.query,
			})
			views := make([]pestView, 0, len(records))
			for _, r := range records {
				views = append(views, newPestView(r))
			}
			return a.printJSON(views)
		},
	}
	cmd.Flags().StringVar(&filter.category, "category", "", "Only pests of this category: crawling, flying, larval, soft-bodied")
	cmd.Flags().StringVar(&filter.threat, "threat", "", "Only pests of this threat level: low, medium, high")
	cmd.Flags().StringVarP(&filter.query, "query", "q", "", "Free-text search over name, scientific name and description")
	return cmd
}

func pestCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pest [id]",
		Short: "Show one encyclopedia entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, ok := pests.GetByID(args[0])
			if !ok {
				return fmt.Errorf("pest %q not found", args[0])
			}
			return a.printJSON(newPestView(record))
		},
	}
}
