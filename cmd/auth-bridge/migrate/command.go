package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-bridge/internal/business"
	"github.com/openkcm/auth-bridge/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Auth Bridge migrations",
		"Applies the token store schema of the configured backend",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
