package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/client"
	"tenderzen/smart-import/internal/config"
	"tenderzen/smart-import/internal/smartimport"
)

var (
	backendURL string
	authToken  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "smartimport",
	Short: "Drive Smart Import sessions from the command line",
	Long: `smartimport uploads tender documents to a Smart Import backend,
follows the analysis until the result is ready and prints the extracted fields.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "backend API root (defaults to IMPORT_BACKEND_URL or the local server)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for the backend")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// engine bundles what a command needs to run one session.
type engine struct {
	client *client.Client
	ctrl   *smartimport.JobController
	logger *zap.Logger
}

func newEngine(timeout time.Duration) (*engine, error) {
	cfg := config.Load()
	if backendURL != "" {
		cfg.Import.BackendURL = backendURL
	}
	if authToken != "" {
		cfg.Import.AuthToken = authToken
	}
	if timeout != 0 {
		cfg.Import.PollTimeout = timeout
	}

	logger := zap.NewNop()
	if verbose {
		cfg.Log.Level = "debug"
		l, err := config.NewLogger(cfg)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	base := cfg.BackendBaseURL()
	if base == "" {
		return nil, fmt.Errorf("no backend configured: pass --backend or set IMPORT_BACKEND_URL")
	}

	c := client.New(client.Config{BaseURL: base, AuthToken: cfg.Import.AuthToken}, nil, logger.Named("client"))
	cc := cfg.ControllerConfig()
	poller := smartimport.NewStatusPoller(c, cc.Poll, logger.Named("poller"))
	ctrl := smartimport.NewJobController(c, poller, smartimport.NewExtractionMerger(logger), cc, logger.Named("session"))

	return &engine{client: c, ctrl: ctrl, logger: logger}, nil
}

func (e *engine) Close() {
	e.ctrl.Close()
	_ = e.logger.Sync()
}
