package main

import (
	"github.com/spf13/cobra"

	"github.com/pablof7z/purplewatch/directory"
	"github.com/pablof7z/purplewatch/model"
)

func resolveCmd() *cobra.Command {
	var byName bool
	cmd := &cobra.Command{
		Use:   "resolve <id|name>...",
		Short: "Resolve account ids or NIP-05 names, cache first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by := directory.ByID
			keys := args
			if byName {
				by = directory.ByName
			} else {
				keys = make([]string, 0, len(args))
				for _, arg := range args {
					if id, ok := normalizeID(arg); ok {
						keys = append(keys, id)
					} else {
						keys = append(keys, arg)
					}
				}
			}
			accounts, err := the.resolver.Resolve(cmd.Context(), keys, by)
			if accounts == nil {
				accounts = []model.Account{}
			}
			if printErr := printJSON(cmd.OutOrStdout(), accounts); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&byName, "by-name", false, "treat arguments as NIP-05 names")
	return cmd
}
