package cli

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seomaster/report_server/config"
	"github.com/seomaster/report_server/internal/client"
	"github.com/seomaster/report_server/internal/poller"
)

const defaultServer = "http://localhost:8080"

// app 命令共享的状态，flag 与 REPORTCTL_* 环境变量经 viper 合并
type app struct {
	v *viper.Viper
}

// NewRootCommand reportctl 根命令
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("REPORTCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Command-line client for the white-label SEO report service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("server", "", "Report service base URL (default from session or "+defaultServer+")")
	pf.String("session", "", "Session file path (default ~/.config/reportctl/session.json)")
	pf.Duration("interval", poller.DefaultInterval, "Polling interval for watch")
	pf.Int("max-attempts", poller.DefaultMaxAttempts, "Maximum status polls before giving up")
	pf.Bool("verbose", false, "Debug logging to stderr")
	for _, name := range []string{"server", "session", "interval", "max-attempts", "verbose"} {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(
		a.loginCommand(),
		a.logoutCommand(),
		a.createCommand(),
		a.listCommand(),
		a.watchCommand(),
		a.deleteCommand(),
		a.checksCommand(),
		a.jobsCommand(),
	)
	return root
}

func (a *app) sessionPath() (string, error) {
	if p := a.v.GetString("session"); p != "" {
		return p, nil
	}
	return client.DefaultSessionPath()
}

// server flag 优先，其次会话中记录的地址
func (a *app) server(session *client.Session) string {
	if s := a.v.GetString("server"); s != "" {
		return s
	}
	if session != nil && session.Server != "" {
		return session.Server
	}
	return defaultServer
}

// authedClient 读取会话并创建带令牌的客户端
func (a *app) authedClient() (*client.Client, error) {
	path, err := a.sessionPath()
	if err != nil {
		return nil, err
	}
	session, err := client.LoadSession(path)
	if err != nil {
		return nil, err
	}
	return client.New(a.server(session), session.Token), nil
}

func (a *app) pollerConfig() config.PollerConfig {
	return config.PollerConfig{
		Interval:    a.v.GetDuration("interval"),
		MaxAttempts: a.v.GetInt("max-attempts"),
	}
}

func (a *app) logger() zerolog.Logger {
	if !a.v.GetBool("verbose") {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
}
