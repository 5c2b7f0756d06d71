package main

import (
    "context"
    "fmt"
    "os"

    "github.com/olekukonko/tablewriter"
    "github.com/spf13/cobra"
)

func createNumbersCommand() *cobra.Command {
    var (
        serviceID   int64
        countryCode string
    )

    cmd := &cobra.Command{
        Use:   "numbers",
        Short: "Show available-number inventory for a service and country",
        RunE: func(cmd *cobra.Command, args []string) error {
            svc, err := bootstrap()
            if err != nil {
                return err
            }
            ctx := context.Background()

            count, err := svc.queries.CountAvailableNumbers(ctx, serviceID, countryCode)
            if err != nil {
                return err
            }

            service, err := svc.queries.GetService(ctx, serviceID)
            if err != nil {
                return err
            }

            table := tablewriter.NewWriter(os.Stdout)
            table.SetHeader([]string{"Service", "Country", "Available"})
            table.Append([]string{service.Name, countryCode, fmt.Sprint(count)})
            table.Render()
            return nil
        },
    }

    cmd.Flags().Int64Var(&serviceID, "service", 0, "service id")
    cmd.Flags().StringVar(&countryCode, "country", "", "country dialing code, e.g. +20")
    cmd.MarkFlagRequired("service")
    cmd.MarkFlagRequired("country")
    return cmd
}
