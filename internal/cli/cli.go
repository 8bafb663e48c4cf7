// Package cli implements the approver command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/viant/approver"
	"github.com/viant/approver/model"
)

// EnvPrefix prefixes environment overrides, for example APPROVER_STORE_KIND.
const EnvPrefix = "APPROVER"

type app struct {
	configFile string
	envFile    string
	service    *approver.Service
}

// New returns the root command.
func New() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "approver",
		Short:         "Multi-step transaction approval",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.service == nil {
				return nil
			}
			return a.service.Close(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "dotenv file loaded before configuration")
	root.AddCommand(a.initiateCmd(), a.actionCmd(model.ActionApprove), a.actionCmd(model.ActionReject), a.cancelCmd(), a.showCmd(), a.pendingCmd())
	return root
}

// LoadConfig reads configuration from file (optional) and APPROVER_ prefixed
// environment variables on top of approver.DefaultConfig.
func LoadConfig(configFile string) (*approver.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults := approver.DefaultConfig()
	v.SetDefault("orchestrator.maxRetries", defaults.Orchestrator.MaxRetries)
	v.SetDefault("store.kind", defaults.Store.Kind)
	v.SetDefault("store.baseURL", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.secretURL", "")
	v.SetDefault("store.secretKey", "")
	v.SetDefault("store.migrate", false)
	v.SetDefault("resolver.rulesURL", "")
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.vendor", defaults.Events.Vendor)
	v.SetDefault("events.baseURL", "")
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %v: %w", configFile, err)
		}
	}
	config := &approver.Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}

func (a *app) open(ctx context.Context) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %v: %w", a.envFile, err)
		}
	}
	config, err := LoadConfig(a.configFile)
	if err != nil {
		return err
	}
	a.service, err = approver.NewFromConfig(ctx, config)
	return err
}

func (a *app) initiateCmd() *cobra.Command {
	var transactionID, initiatorID string
	criteria := &model.Criteria{}
	cmd := &cobra.Command{
		Use:   "initiate",
		Short: "Start approval of a transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := a.service.Initiate(cmd.Context(), transactionID, initiatorID, criteria)
			if err != nil {
				return err
			}
			return write(cmd, result)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&transactionID, "tx", "", "transaction id")
	flags.StringVar(&initiatorID, "initiator", "", "initiator id")
	flags.Float64Var(&criteria.Amount, "amount", 0, "transaction amount")
	flags.StringVar(&criteria.Currency, "currency", "", "currency code")
	flags.StringVar(&criteria.TransactionType, "type", "", "transaction type")
	flags.StringVar(&criteria.Facility, "facility", "", "facility")
	flags.StringVar(&criteria.BusinessModel, "business-model", "", "business model")
	return cmd
}

func (a *app) actionCmd(action model.Action) *cobra.Command {
	var transactionID, stepID, actorID, comment string
	var roles []string
	cmd := &cobra.Command{
		Use:   strings.ToLower(string(action)),
		Short: string(action) + " a pending step",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor := model.NewActor(actorID, roles...)
			approve := a.service.Approve
			if action == model.ActionReject {
				approve = a.service.Reject
			}
			result, err := approve(cmd.Context(), transactionID, stepID, actor, comment)
			if err != nil {
				return err
			}
			return write(cmd, result)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&transactionID, "tx", "", "transaction id")
	flags.StringVar(&stepID, "step", "", "step id")
	flags.StringVar(&actorID, "actor", "", "actor id")
	flags.StringSliceVar(&roles, "roles", nil, "actor roles")
	flags.StringVar(&comment, "comment", "", "comment recorded in history")
	return cmd
}

func (a *app) cancelCmd() *cobra.Command {
	var transactionID, actorID string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a requested approval (initiator only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := a.service.Cancel(cmd.Context(), transactionID, actorID)
			if err != nil {
				return err
			}
			return write(cmd, result)
		},
	}
	cmd.Flags().StringVar(&transactionID, "tx", "", "transaction id")
	cmd.Flags().StringVar(&actorID, "actor", "", "initiator id")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	var transactionID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the approval snapshot of a transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshot, err := a.service.Snapshot(cmd.Context(), transactionID)
			if err != nil {
				return err
			}
			return write(cmd, snapshot)
		},
	}
	cmd.Flags().StringVar(&transactionID, "tx", "", "transaction id")
	return cmd
}

func (a *app) pendingCmd() *cobra.Command {
	var actorID string
	var roles []string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List transactions awaiting the actor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshots, err := a.service.Pending(cmd.Context(), model.NewActor(actorID, roles...))
			if err != nil {
				return err
			}
			return write(cmd, snapshots)
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "actor roles")
	return cmd
}

func write(cmd *cobra.Command, v interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := model.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case model.KindInvalidRequest:
		return 2
	case model.KindNotFound, model.KindConfigurationNotFound:
		return 3
	case model.KindUnauthorized, model.KindSelfApprovalForbidden:
		return 4
	case model.KindConflict:
		return 5
	}
	return 1
}

// Main runs the command line and returns the exit code.
func Main(ctx context.Context, args []string) int {
	root := New()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "approver:", err)
		return ExitCode(err)
	}
	return 0
}
