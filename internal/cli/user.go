package cli

import (
	"fmt"

	"orgregistry/internal/services"

	"github.com/spf13/cobra"
)

func newUserCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCmd(configPath))
	return cmd
}

func newUserCreateCmd(configPath *string) *cobra.Command {
	var (
		username string
		password string
		group    string
		fullName string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := open(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := commandContext(cmd)

			profile := services.UserProfile{Username: username, FullName: fullName}
			if group != "" {
				groups, err := rt.svc.Permissions.ListGroups(ctx)
				if err != nil {
					return err
				}
				for i := range groups {
					if groups[i].Name == group {
						profile.GroupID = &groups[i].ID
						break
					}
				}
				if profile.GroupID == nil {
					return fmt.Errorf("%w: %q", services.ErrGroupNotFound, group)
				}
			}

			user, err := rt.svc.Users.CreateUser(ctx, profile, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %q (id %d)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringVar(&group, "group", "", "group display name")
	cmd.Flags().StringVar(&fullName, "full-name", "", "full name")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
