package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parley-chat/parley/pkg/backend"
)

func newModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models available on the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}

			catalog := backend.NewModelCatalog(viper.GetString("server"),
				backend.WithDefaultModel(viper.GetString("default-model")))
			for _, model := range catalog.Models(cmd.Context()) {
				fmt.Println(model)
			}
			return nil
		},
	}

	cmd.Flags().String("default-model", backend.DefaultModel, "model id to fall back to when the backend is unreachable")

	return cmd
}
