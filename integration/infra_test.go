//go:build integration

package integration_test

import (
	"context"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-viper/mapstructure/v2"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/openkcm/auth-bridge/internal/config"
	"github.com/openkcm/auth-bridge/internal/dbtest/postgrestest"
	"github.com/openkcm/auth-bridge/internal/dbtest/valkeytest"
)

const (
	testSigningSecret = "integration-signing-secret-0123456789"
	testClientSecret  = "integration-client-secret"
)

type closeFunc func(ctx context.Context)

type infraStat struct {
	PostgresPort   nat.Port
	ValKeyPort     nat.Port
	ConfigFilePath string
	Procdir        string
	Cfg            config.Config

	closeFuncs []closeFunc
}

func initInfra(t *testing.T, exeName string) (istat infraStat) {
	t.Helper()

	// Since the config is read from the file $PWD/config.yaml,
	// we're running a process in a subdirectory so that we aren't interferring with the other tests.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Procdir = filepath.Join(wd, exeName+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	// Prepare a directory for the test
	err = os.MkdirAll(istat.Procdir, fs.ModePerm)
	require.NoError(t, err, "failed to create a dir for the process")

	err = os.WriteFile(istat.ConfigFilePath, []byte(validConfig), fs.ModePerm)
	require.NoError(t, err, "failed to write config file")

	err = commoncfg.LoadConfig(&istat.Cfg, nil, istat.Procdir)
	require.NoError(t, err, "failed to load config")

	// A unix socket spares us looking up a free port
	istat.Cfg.HTTP.Address = "unix://" + filepath.Join(istat.Procdir, exeName+".sock")
	istat.Cfg.Audit.Endpoint = ""
	istat.Cfg.Webflow.ClientSecret = commoncfg.SourceRef{Source: "embedded", Value: testClientSecret}
	istat.Cfg.SessionToken.SigningSecret = commoncfg.SourceRef{Source: "embedded", Value: testSigningSecret}
	istat.Cfg.TokenStore.Backend = config.BackendSQLite
	istat.Cfg.SQLite.Path = filepath.Join(istat.Procdir, "db", "data.sqlite")

	return istat
}

func (istat *infraStat) PreparePostgres(t *testing.T) {
	t.Helper()

	pgClient, pgPort, pgTerminate := postgrestest.Start(t.Context())
	pgClient.Close()

	istat.PostgresPort = pgPort
	istat.closeFuncs = append(istat.closeFuncs, pgTerminate)

	istat.Cfg.TokenStore.Backend = config.BackendPostgres
	istat.Cfg.Database.Name = postgrestest.DBName
	istat.Cfg.Database.User = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBUser}
	istat.Cfg.Database.Password = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBPassword}
	istat.Cfg.Database.Host = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBHost}
	istat.Cfg.Database.Port = pgPort.Port()
}

func (istat *infraStat) PrepareValKey(t *testing.T) {
	t.Helper()

	vk := valkeytest.Start(t.Context())

	istat.ValKeyPort = vk.Port
	istat.closeFuncs = append(istat.closeFuncs, vk.Terminate)

	istat.Cfg.TokenStore.Backend = config.BackendValkey
	istat.Cfg.ValKey.Host = commoncfg.SourceRef{Source: "embedded", Value: vk.Address()}
	istat.Cfg.ValKey.User = commoncfg.SourceRef{Source: "embedded", Value: ""}
	istat.Cfg.ValKey.Password = commoncfg.SourceRef{Source: "embedded", Value: ""}
}

// PrepareConfig writes a config file for running the test into the ConfigFilePath.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	cfgMap := make(map[string]any)
	err := mapstructure.Decode(istat.Cfg, &cfgMap)
	require.NoError(t, err, "failed to decode config")

	configFile, err := os.Create(istat.ConfigFilePath)
	require.NoError(t, err, "failed to create config file")
	defer configFile.Close()

	err = yaml.NewEncoder(configFile).Encode(cfgMap)
	require.NoError(t, err, "failed to write config")
}

// HTTPClient dials the unix socket the API server listens on.
func (istat *infraStat) HTTPClient() *http.Client {
	socket := strings.TrimPrefix(istat.Cfg.HTTP.Address, "unix://")

	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return new(net.Dialer).DialContext(ctx, "unix", socket)
			},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Run executes the binary with args inside the process directory and waits
// for it to exit.
func (istat *infraStat) Run(t *testing.T, args ...string) error {
	t.Helper()

	cmd := istat.command(t, args...)

	return cmd.Run()
}

// StartService starts the binary in the background. The process is stopped
// with SIGTERM when the test ends so coverprofiles are written.
func (istat *infraStat) StartService(t *testing.T, args ...string) {
	t.Helper()

	cmd := istat.command(t, args...)
	require.NoError(t, cmd.Start(), "could not start command")

	t.Cleanup(func() {
		_ = syscall.Kill(cmd.Process.Pid, syscall.SIGTERM)
		_ = cmd.Wait()
	})
}

func (istat *infraStat) command(t *testing.T, args ...string) *exec.Cmd {
	t.Helper()

	currdir, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	cmd := exec.CommandContext(t.Context(), filepath.Join(currdir, binary), args...)
	cmd.Dir = istat.Procdir

	cmdOutPath := filepath.Join(currdir, strings.Join(args, "-")+".log")
	cmdOut, err := os.Create(cmdOutPath)
	require.NoError(t, err, "failed to create a log file")
	t.Cleanup(func() { cmdOut.Close() })

	cmd.Stdout = cmdOut
	cmd.Stderr = cmdOut
	t.Logf("starting an app process. Logs will be saved into %s", cmdOutPath)

	return cmd
}

func (istat *infraStat) Close(ctx context.Context) {
	os.Remove(istat.ConfigFilePath)
	os.RemoveAll(istat.Procdir)

	for _, close := range istat.closeFuncs {
		close(ctx)
	}
}
