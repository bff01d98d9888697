package main

import (
	"fmt"

	"github.com/relgraph/backend/internal/db"
	"github.com/relgraph/backend/internal/util"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := util.GetEnv("DATABASE_URL")
			if url == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if down > 0 {
				return db.MigrateDown(url, down)
			}
			return db.Migrate(url)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead")
	return cmd
}
