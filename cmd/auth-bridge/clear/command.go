package clear

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-bridge/internal/business"
	"github.com/openkcm/auth-bridge/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"clear",
		"Auth Bridge token store wipe",
		"Deletes every stored site and user authorization. Only available in development.",
		buildInfo,
		cmdutils.RunAsJob,
		business.ClearMain,
	)
}
