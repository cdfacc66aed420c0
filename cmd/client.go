package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoosieGav/PestHub/internal/session"
)

func classifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [image]",
		Short: "Identify the pest in an image",
		Long:  "Upload an image file (a path or file:// URI) to the classification service and print its verdict.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}
			s := session.New(client)
			if err := s.SelectImage(args[0]); err != nil {
				return err
			}
			res, err := s.Analyze(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(a, res)
		},
	}
}

func searchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search the classification service for a pest by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}
			return printResult(a, client.SearchPest(cmd.Context(), strings.Join(args, " ")))
		},
	}
}

func detailsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "details [name]",
		Short: "Fetch the service's details page for a pest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}
			return printResult(a, client.GetPestDetails(cmd.Context(), args[0]))
		},
	}
}
