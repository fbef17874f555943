package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/natfailover/pkg/cloud"
	"github.com/cuemby/natfailover/pkg/config"
	"github.com/cuemby/natfailover/pkg/types"
)

const (
	defaultConfigPath = "/etc/natfailover/pair.yaml"

	// nodeAuto resolves the identity from the instance metadata service
	nodeAuto = "auto"
)

// identityLookup returns the instance ID of the machine we run on
var identityLookup = func(ctx context.Context) (string, error) {
	id, err := cloud.LocalIdentity(ctx)
	if err != nil {
		return "", err
	}
	return id.InstanceID, nil
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", defaultConfigPath, "Path to the pair configuration file")
	cmd.Flags().String("env-file", "", "Optional .env file with NATFAILOVER_* overrides")
	cmd.Flags().String("node", "", `Node identity: "a", "b" or "auto" (from instance metadata)`)
}

func loadOptions(cmd *cobra.Command) config.LoadOptions {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.LoadOptions{Path: path, EnvFile: envFile}
}

// loadConfig resolves the configuration of the node selected by --node, the
// file or the environment
func loadConfig(ctx context.Context, cmd *cobra.Command) (*config.FailoverConfig, error) {
	pair, err := config.LoadPair(loadOptions(cmd))
	if err != nil {
		return nil, err
	}

	node, _ := cmd.Flags().GetString("node")
	if node != "" {
		pair.Node = types.Identity(node)
	}

	if pair.Node == nodeAuto {
		instanceID, err := identityLookup(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve node identity: %w", err)
		}
		id, ok := pair.NodeForInstance(instanceID)
		if !ok {
			return nil, fmt.Errorf("%w: instance %s is not a member of the pair", config.ErrInvalidConfig, instanceID)
		}
		pair.Node = id
	}

	return pair.ForNode(pair.Node)
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the pair configuration",
	}

	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Print the resolved configuration of one node",
		Long: `Resolve the pair document for one node, apply defaults and environment
overrides, validate it and print the result as YAML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	addConfigFlags(renderCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration of both nodes",
		Long: `Validate the pair document. Without --node both members are checked,
since both instances boot from the same file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			node, _ := cmd.Flags().GetString("node")
			if node != "" {
				cfg, err := loadConfig(cmd.Context(), cmd)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ node %s (%s) is valid\n", cfg.Node, cfg.Self.InstanceID)
				return nil
			}

			pair, err := config.LoadPair(loadOptions(cmd))
			if err != nil {
				return err
			}
			for _, id := range []types.Identity{types.IdentityA, types.IdentityB} {
				cfg, err := pair.ForNode(id)
				if err != nil {
					return fmt.Errorf("node %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ node %s (%s) is valid\n", id, cfg.Self.InstanceID)
			}
			return nil
		},
	}
	addConfigFlags(validateCmd)

	configCmd.AddCommand(renderCmd)
	configCmd.AddCommand(validateCmd)
	return configCmd
}
