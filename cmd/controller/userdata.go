package main

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/tqchen/yarn-ec2/internal/catalog"
	"github.com/tqchen/yarn-ec2/internal/config"
	"github.com/tqchen/yarn-ec2/internal/gateway"
	"github.com/tqchen/yarn-ec2/internal/userdata"
)

var userDataCmd = &cobra.Command{
	Use:   "userdata",
	Short: "Render the worker bootstrap payload to stdout",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		location := lo.Must(flags.GetString(config.UserDataTemplate))
		class := lo.Must(flags.GetString(config.InstanceClass))
		master := lo.Must(flags.GetString("master"))
		if location == "" || class == "" || master == "" {
			return fmt.Errorf("--%s, --%s and --master are required", config.UserDataTemplate, config.InstanceClass)
		}

		var s3Client userdata.S3API
		if userdata.IsS3Location(location) {
			clients, err := gateway.NewClients(cmd.Context(), lo.Must(flags.GetString(config.Region)))
			if err != nil {
				return err
			}
			s3Client = clients.S3
		}

		template, err := userdata.LoadTemplate(cmd.Context(), location, s3Client)
		if err != nil {
			return err
		}

		registry, err := catalog.NewRegistry(catalog.NewLoader(lo.Must(flags.GetString(config.CatalogPath))))
		if err != nil {
			return err
		}

		payload, err := userdata.NewRenderer(template, registry).Render(master, class)
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(payload)
		return err
	},
}

func init() {
	userDataCmd.Flags().String("master", "", "master address written into the payload")
}
