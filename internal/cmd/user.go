package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parley-labs/parley-node/internal/database"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username> <password>",
	Short: "Create a user account",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		dbManager, err := database.NewSQLiteManager(config, logger)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to initialize database: %v", err), "cli")
			fmt.Printf("Error initializing database: %v\n", err)
			os.Exit(1)
		}
		defer dbManager.Close()

		identity, err := dbManager.Users.Register(args[0], args[1])
		if err != nil {
			fmt.Printf("Error creating user: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Created user %s with id %d\n", identity.DisplayName, identity.ID)
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	Run: func(cmd *cobra.Command, args []string) {
		dbManager, err := database.NewSQLiteManager(config, logger)
		if err != nil {
			fmt.Printf("Error initializing database: %v\n", err)
			os.Exit(1)
		}
		defer dbManager.Close()

		identities, err := dbManager.Users.Search("", 0, 1000)
		if err != nil {
			fmt.Printf("Error listing users: %v\n", err)
			os.Exit(1)
		}

		if len(identities) == 0 {
			fmt.Println("No users found")
			return
		}
		for _, identity := range identities {
			fmt.Printf("%d\t%s\n", identity.ID, identity.DisplayName)
		}
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}
