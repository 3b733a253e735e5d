package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func licenseCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "授权激活与校验",
	}
	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, a, args)
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "activate [key]",
			Short: "激活授权（缺省读取 LICENSE.key 或 DYH_LICENSE_KEY）",
			Args:  cobra.MaximumNArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				key := firstNonEmpty(append(args, a.cfg.License.Key, os.Getenv("DYH_LICENSE_KEY"))...)
				if key == "" {
					return fmt.Errorf("license key required")
				}
				st, err := a.lic.Activate(cmd.Context(), key)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), st)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "查看本地缓存的授权状态",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				return writeJSON(cmd.OutOrStdout(), a.lic.Status())
			}),
		},
		&cobra.Command{
			Use:   "verify",
			Short: "向授权服务器校验令牌",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				st, err := a.lic.Verify(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), st)
			}),
		},
		&cobra.Command{
			Use:   "clear",
			Short: "清除本地授权缓存",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				return a.lic.Clear()
			}),
		},
	)
	return cmd
}
