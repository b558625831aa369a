package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/outpost-games/authd/pkg/credstore"
)

var (
	userAddAccess   string
	userAddInactive bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	Long: `Manage user accounts in the credential database.

In normal operation accounts are created by the registration web app;
these commands exist for bootstrapping and operations work.

Examples:
  authd user add alice
  authd user passwd alice
  authd user access alice op
  authd user activate alice
  authd user list`,
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a new user (prompts for password)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		access := credstore.Access(userAddAccess)
		if !access.Valid() {
			return fmt.Errorf("invalid access level %q", userAddAccess)
		}

		password, err := promptNewPassword()
		if err != nil {
			return err
		}

		store, err := openCredStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		user, err := store.CreateUser(cmd.Context(), args[0], password, access, !userAddInactive)
		if err != nil {
			return err
		}

		fmt.Printf("User %q created (access: %s, active: %t)\n", user.Username, user.Access, user.Active)
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:     "passwd <username>",
	Aliases: []string{"password"},
	Short:   "Change a user's password",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptNewPassword()
		if err != nil {
			return err
		}

		store, err := openCredStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.SetPassword(cmd.Context(), args[0], password); err != nil {
			return err
		}

		fmt.Printf("Password changed for %q\n", args[0])
		return nil
	},
}

var userAccessCmd = &cobra.Command{
	Use:   "access <username> <level>",
	Short: "Set a user's access level (owner, master, op, user, unverified)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCredStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.SetAccess(cmd.Context(), args[0], credstore.Access(args[1])); err != nil {
			return err
		}

		fmt.Printf("Access for %q set to %s\n", args[0], args[1])
		return nil
	},
}

var userActivateCmd = &cobra.Command{
	Use:   "activate <username>",
	Short: "Allow a user to authenticate",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(cmd, args[0], true) },
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate <username>",
	Short: "Prevent a user from authenticating",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(cmd, args[0], false) },
}

var userDeleteCmd = &cobra.Command{
	Use:     "delete <username>",
	Aliases: []string{"remove"},
	Short:   "Delete a user and their auth history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCredStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.DeleteUser(cmd.Context(), args[0]); err != nil {
			return err
		}

		fmt.Printf("User %q deleted\n", args[0])
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all users",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCredStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		users, err := store.ListUsers(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tACCESS\tACTIVE\tCREATED")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n",
				u.Username, u.Access, u.Active, u.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var userHistoryCmd = &cobra.Command{
	Use:   "history <username>",
	Short: "Show a user's recent authentications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCredStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		user, err := store.FindUserByName(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		actions, err := store.AuthActions(cmd.Context(), user.ID, 25)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tIP")
		for _, a := range actions {
			fmt.Fprintf(w, "%s\t%s\n", a.CreatedAt.Format("2006-01-02 15:04:05"), a.IP)
		}
		return w.Flush()
	},
}

func setActive(cmd *cobra.Command, name string, active bool) error {
	store, err := openCredStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SetActive(cmd.Context(), name, active); err != nil {
		return err
	}

	state := "activated"
	if !active {
		state = "deactivated"
	}
	fmt.Printf("User %q %s\n", name, state)
	return nil
}

func init() {
	userAddCmd.Flags().StringVar(&userAddAccess, "access", string(credstore.AccessUser), "access level (owner, master, op, user, unverified)")
	userAddCmd.Flags().BoolVar(&userAddInactive, "inactive", false, "create the account deactivated")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userAccessCmd)
	userCmd.AddCommand(userActivateCmd)
	userCmd.AddCommand(userDeactivateCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userHistoryCmd)
}
