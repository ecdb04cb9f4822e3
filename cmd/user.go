package cmd

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
)

var userCmd = &cobra.Command{
	Use:   "user <name>",
	Short: "Show or edit a stored user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		app, err := startApp(ctx)
		if err != nil {
			fmt.Println("Failed to start:", err)
			os.Exit(1)
		}
		defer app.shutdown(ctx)

		name := args[0]

		if userDelete {
			if err := app.store.Users.Delete(ctx, name); err != nil {
				fmt.Printf("Failed to delete user %s: %v\n", name, err)
				return
			}
			fmt.Println("Deleted user:", name)
			return
		}

		if len(userSet) > 0 {
			update := bson.M{}
			for _, pair := range userSet {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					fmt.Println("Invalid config value:", pair)
					return
				}
				update[key] = value
			}

			// first write creates the user and their api key
			if err := app.store.Users.SetConfig(ctx, name, update); err != nil {
				fmt.Printf("Failed to update user %s: %v\n", name, err)
				return
			}
		}

		u, err := app.store.Users.Get(ctx, name)
		if err != nil {
			fmt.Printf("Failed to get user %s: %v\n", name, err)
			return
		}

		fmt.Println("Name:", u.Name)
		fmt.Println("API key:", u.APIKey)
		if !u.LastEdit.IsZero() {
			fmt.Println("Last edit:", u.LastEdit.Format(time.RFC3339))
		}

		if len(u.Config) > 0 {
			fmt.Println("Config:")

			keys := lo.Keys(u.Config)
			slices.Sort(keys)
			for _, key := range keys {
				fmt.Printf("  %s: %v\n", key, u.Config[key])
			}
		}

		if len(u.Anime) > 0 {
			fmt.Println("Tracked anime:")

			keys := lo.Keys(u.Anime)
			slices.Sort(keys)
			for _, key := range keys {
				fmt.Println(" ", key)
			}
		}
	},
}
