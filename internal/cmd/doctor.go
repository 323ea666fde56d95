package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/glourbee/internal/observability"
)

var doctorProvider string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the local environment and the configured
services, and suggest fixes for common issues.

Examples:
  glourbee doctor                # Environment, data dir, ledger and compute checks
  glourbee doctor --provider s3  # Also check AWS credentials for s3:// outputs`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

// doctorCheck returns a short detail on success.
type doctorCheck struct {
	name string
	run  func(ctx context.Context, a *app) (string, error)
}

func doctorChecks(provider string) []doctorCheck {
	checks := []doctorCheck{
		{"Go version", func(context.Context, *app) (string, error) {
			return runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH, nil
		}},
		{"data directory", checkDataDir},
		{"outcome ledger", func(ctx context.Context, a *app) (string, error) {
			if a.ledger == nil {
				return "", fmt.Errorf("cannot open %s", a.cfg.LedgerPath())
			}
			return a.cfg.LedgerPath(), a.ledger.Ping(ctx)
		}},
		{"compute service", func(ctx context.Context, a *app) (string, error) {
			tasks, err := a.compute.ListTasks(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("project %s, %d tasks", a.compute.Project(), len(tasks)), nil
		}},
		{"catalog API key", func(_ context.Context, a *app) (string, error) {
			if a.cfg.Catalog.APIKey == "" {
				return "not set, searches are anonymous", nil
			}
			return maskAccessKey(a.cfg.Catalog.APIKey), nil
		}},
	}
	if provider == "s3" {
		checks = append(checks, doctorCheck{"AWS credentials", checkAWSCredentials})
	}
	return checks
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if doctorProvider != "" && doctorProvider != "s3" {
		return exitError(ExitInvalidArgument, "Invalid --provider value", fmt.Errorf("unsupported provider %q", doctorProvider))
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	w := cmd.OutOrStdout()
	checks := doctorChecks(doctorProvider)
	failed := 0
	_, _ = fmt.Fprintln(w, "=== glourbee doctor ===")
	for i, c := range checks {
		detail, err := c.run(ctx, a)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "[%d/%d] %s... FAIL %v\n", i+1, len(checks), c.name, err)
			observability.CLILogger.Debug("Doctor check failed", zap.String("check", c.name), zap.Error(err))
			if c.name == "AWS credentials" {
				printAWSCredentialsHelp(w)
			}
			continue
		}
		_, _ = fmt.Fprintf(w, "[%d/%d] %s... ok %s\n", i+1, len(checks), c.name, detail)
	}

	if failed > 0 {
		_, _ = fmt.Fprintln(w, "Some checks failed. Review the output above for details.")
		return exitError(ExitFailure, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	_, _ = fmt.Fprintln(w, "All checks passed.")
	return nil
}

// checkDataDir verifies the run registry directory is writable.
func checkDataDir(_ context.Context, a *app) (string, error) {
	dir := a.cfg.RunsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return "", fmt.Errorf("not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return filepath.Dir(dir), nil
}

func checkAWSCredentials(ctx context.Context, a *app) (string, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if p := a.cfg.Output.S3.Profile; p != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(p))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("cannot load AWS config: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot retrieve credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return maskAccessKey(creds.AccessKeyID) + " from " + source, nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp(w io.Writer) {
	_, _ = fmt.Fprint(w, `  To configure AWS credentials:
    1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, or
    2. Run 'aws configure' and set GLOURBEE_S3_PROFILE, or
    3. Use an IAM role when running on AWS infrastructure
  For S3-compatible storage also set GLOURBEE_S3_ENDPOINT.
`)
}
