package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-bridge/internal/business"
	"github.com/openkcm/auth-bridge/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Auth Bridge API server",
		"Auth Bridge API server hosts the OAuth callback, the session token exchange and the protected site routes",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
